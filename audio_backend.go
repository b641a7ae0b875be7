// audio_backend.go - Audio output backend selection

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import "fmt"

const (
	AUDIO_BACKEND_OTO = iota
	AUDIO_BACKEND_PORTAUDIO
	AUDIO_BACKEND_HEADLESS
)

// AudioOutput drives the mixer from whatever clock the backend provides.
// Start begins callbacks; Stop halts them (joining the callback thread);
// Close releases the device.
type AudioOutput interface {
	Start() error
	Stop()
	Close()
}

// NewAudioOutput builds the requested backend around the mixer.
func NewAudioOutput(backend int, cfg *Config, mixer *Mixer) (AudioOutput, error) {
	switch backend {
	case AUDIO_BACKEND_OTO:
		return NewOtoOutput(cfg, mixer)
	case AUDIO_BACKEND_PORTAUDIO:
		return NewPortAudioOutput(cfg, mixer)
	case AUDIO_BACKEND_HEADLESS:
		return NewHeadlessOutput(cfg, mixer), nil
	}
	return nil, fmt.Errorf("audio: unknown backend %d", backend)
}

// ParseBackendName maps a CLI name onto a backend id.
func ParseBackendName(name string) (int, error) {
	switch name {
	case "oto":
		return AUDIO_BACKEND_OTO, nil
	case "portaudio":
		return AUDIO_BACKEND_PORTAUDIO, nil
	case "headless":
		return AUDIO_BACKEND_HEADLESS, nil
	}
	return 0, fmt.Errorf("audio: unknown backend %q (want oto, portaudio or headless)", name)
}
