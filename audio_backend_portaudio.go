// audio_backend_portaudio.go - Callback-style output through portaudio

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortAudioOutput is the callback-model backend.  It is also the only one
// able to expose the raw per-engine channel pairs: with enable_raw_outputs
// set and a device offering >= 8 output channels, channels 3-8 carry the
// unprocessed engine signals.
type PortAudioOutput struct {
	stream   *portaudio.Stream
	mixer    *Mixer
	channels int
	started  bool
}

func NewPortAudioOutput(cfg *Config, mixer *Mixer) (*PortAudioOutput, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: init: %w", err)
	}

	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: no default output device: %w", err)
	}

	channels := 2
	if cfg.EnableRawOutputs && dev.MaxOutputChannels >= 8 {
		channels = 8
	}

	o := &PortAudioOutput{mixer: mixer, channels: channels}

	params := portaudio.HighLatencyParameters(nil, dev)
	params.Output.Channels = channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.BufferSize

	stream, err := portaudio.OpenStream(params, o.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open stream: %w", err)
	}
	o.stream = stream
	return o, nil
}

// callback runs on portaudio's RT thread with exactly the configured frame
// count; the mixer does all the work.
func (o *PortAudioOutput) callback(out []float32) {
	o.mixer.Render(out, o.channels)
}

func (o *PortAudioOutput) Start() error {
	if o.started {
		return nil
	}
	if err := o.stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start: %w", err)
	}
	o.started = true
	return nil
}

func (o *PortAudioOutput) Stop() {
	if o.started {
		o.stream.Stop()
		o.started = false
	}
}

func (o *PortAudioOutput) Close() {
	o.Stop()
	if o.stream != nil {
		o.stream.Close()
		o.stream = nil
	}
	portaudio.Terminate()
}
