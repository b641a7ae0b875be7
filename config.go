// config.go - Runtime configuration for the Sp3ctra audio core

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/ini.v1"
)

// ------------------------------------------------------------------------------
// Scan and interpolation modes (wavetable engine)
// ------------------------------------------------------------------------------
const (
	SCAN_LR = iota
	SCAN_RL
	SCAN_PINGPONG
)

const (
	INTERP_LINEAR = iota
	INTERP_CUBIC
)

// ------------------------------------------------------------------------------
// Hard limits
// ------------------------------------------------------------------------------
const (
	MIN_SAMPLE_RATE = 8000
	MAX_SAMPLE_RATE = 192000
	MIN_BUFFER_SIZE = 32
	MAX_BUFFER_SIZE = 4096
	MIN_LINE_LENGTH = 16
	MAX_LINE_LENGTH = 16384
	MAX_VOICES      = 64
	MAX_FFT_BINS    = 64
	MAX_DMX_ZONES   = 64
	MIN_RING_SLOTS  = 2
	MAX_RING_SLOTS  = 16
	MAX_ENV_SECONDS = 30.0
)

// EnvTimes holds one ADSR envelope's defaults, in seconds (sustain is a level).
type EnvTimes struct {
	Attack  float64
	Decay   float64
	Sustain float64
	Release float64
}

// Config carries every option the audio core recognizes.  It is populated
// once at startup, validated, and read-only afterwards.
type Config struct {
	// [audio]
	SampleRate       int
	BufferSize       int
	RingSlots        int
	EnableRawOutputs bool
	MasterVolume     float64

	// [image]
	LineLength int
	UDPListen  string
	DMXZones   int

	// [additive]
	PixelsPerNote           int
	StartFrequency          float64
	SemitonesPerOctave      int
	CommasPerSemitone       int
	StereoMode              bool
	VolumeWeightingExponent float64
	PhaseAwareVolume        bool
	PhaseAwareMode          string

	// [spectral]
	NumVoicesSpectral     int
	SpectralHighFreqLimit float64
	AmplitudeGamma        float64
	VolumeEnv             EnvTimes
	FilterEnv             EnvTimes
	VibratoRate           float64
	VibratoDepth          float64
	FilterCutoff          float64
	FilterEnvDepth        float64

	// [wavetable]
	NumVoicesWavetable int
	ScanMode           int
	InterpMode         int
	BlurAmount         float64
	Amplitude          float64

	// [effects]
	ReverbMix   float64
	ReverbSize  float64
	ReverbDamp  float64
	ReverbWidth float64
	EQLowGain   float64
	EQMidGain   float64
	EQHighGain  float64
	EQMidFreq   float64

	// [mixer]
	MixAdditive   float64
	MixSpectral   float64
	MixWavetable  float64
	SendAdditive  float64
	SendSpectral  float64
	SendWavetable float64

	// [preprocess]
	FFTHistorySize int
	SmoothingAlpha float64

	// [system]
	FreezeResumeMS float64

	// [midi_map] raw entries, parameter name -> control descriptor string.
	MIDIMap map[string]string
}

// DefaultConfig returns the configuration used when no file (or an empty
// file) is supplied.  Every value passes Validate.
func DefaultConfig() *Config {
	return &Config{
		SampleRate:       48000,
		BufferSize:       128,
		RingSlots:        4,
		EnableRawOutputs: false,
		MasterVolume:     0.8,

		LineLength: 3456,
		UDPListen:  ":55151",
		DMXZones:   8,

		PixelsPerNote:           8,
		StartFrequency:          65.41,
		SemitonesPerOctave:      12,
		CommasPerSemitone:       1,
		StereoMode:              true,
		VolumeWeightingExponent: 1.5,
		PhaseAwareVolume:        false,
		PhaseAwareMode:          "continuous",

		NumVoicesSpectral:     8,
		SpectralHighFreqLimit: 12000,
		AmplitudeGamma:        1.8,
		VolumeEnv:             EnvTimes{Attack: 0.01, Decay: 0.1, Sustain: 0.7, Release: 0.3},
		FilterEnv:             EnvTimes{Attack: 0.01, Decay: 0.1, Sustain: 0.7, Release: 0.3},
		VibratoRate:           5.0,
		VibratoDepth:          0.01,
		FilterCutoff:          2000,
		FilterEnvDepth:        0.5,

		NumVoicesWavetable: 8,
		ScanMode:           SCAN_LR,
		InterpMode:         INTERP_LINEAR,
		BlurAmount:         0,
		Amplitude:          0.8,

		ReverbMix:   0.3,
		ReverbSize:  0.5,
		ReverbDamp:  0.5,
		ReverbWidth: 1.0,
		EQLowGain:   1.0,
		EQMidGain:   1.0,
		EQHighGain:  1.0,
		EQMidFreq:   1000,

		MixAdditive:   1.0,
		MixSpectral:   1.0,
		MixWavetable:  1.0,
		SendAdditive:  0,
		SendSpectral:  0,
		SendWavetable: 0,

		FFTHistorySize: 5,
		SmoothingAlpha: 0.1,

		FreezeResumeMS: 20,

		MIDIMap: map[string]string{},
	}
}

// knownKeys maps section -> recognized keys.  Anything else in the file is
// warned about and ignored.
var knownKeys = map[string][]string{
	"audio": {"sample_rate", "audio_buffer_size", "ring_slots",
		"enable_raw_outputs", "master_volume"},
	"image": {"line_length", "udp_listen", "dmx_zones"},
	"additive": {"pixels_per_note", "start_frequency", "semitones_per_octave",
		"commas_per_semitone", "stereo_mode_enabled", "volume_weighting_exponent",
		"phase_aware_volume", "phase_aware_mode"},
	"spectral": {"num_voices_spectral", "spectral_high_freq_limit",
		"amplitude_gamma",
		"volume_env_attack", "volume_env_decay", "volume_env_sustain", "volume_env_release",
		"filter_env_attack", "filter_env_decay", "filter_env_sustain", "filter_env_release",
		"lfo_vibrato_rate", "lfo_vibrato_depth", "filter_cutoff", "filter_env_depth"},
	"wavetable": {"num_voices_wavetable", "scan_mode", "interp_mode",
		"blur_amount", "amplitude"},
	"effects": {"reverb_mix", "reverb_size", "reverb_damp", "reverb_width",
		"eq_low_gain", "eq_mid_gain", "eq_high_gain", "eq_mid_freq"},
	"mixer": {"mix_additive", "mix_spectral", "mix_wavetable",
		"reverb_send_additive", "reverb_send_spectral", "reverb_send_wavetable"},
	"preprocess": {"fft_history_size", "amplitude_smoothing_alpha"},
	"fft":        {"amplitude_gamma"},
	"system":     {"freeze_resume_ms"},
}

// LoadConfig reads an INI file on top of the defaults.  path == "" returns
// the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	warnUnknownKeys(file, path)

	var parseErr error
	getInt := func(sec, key string, dst *int) {
		if k, ok := lookupKey(file, sec, key); ok && parseErr == nil {
			v, err := k.Int()
			if err != nil {
				parseErr = fmt.Errorf("config %s: %s.%s: %w", path, sec, key, err)
				return
			}
			*dst = v
		}
	}
	getFloat := func(sec, key string, dst *float64) {
		if k, ok := lookupKey(file, sec, key); ok && parseErr == nil {
			v, err := k.Float64()
			if err != nil {
				parseErr = fmt.Errorf("config %s: %s.%s: %w", path, sec, key, err)
				return
			}
			*dst = v
		}
	}
	getBool := func(sec, key string, dst *bool) {
		if k, ok := lookupKey(file, sec, key); ok && parseErr == nil {
			v, err := k.Bool()
			if err != nil {
				parseErr = fmt.Errorf("config %s: %s.%s: %w", path, sec, key, err)
				return
			}
			*dst = v
		}
	}
	getString := func(sec, key string, dst *string) {
		if k, ok := lookupKey(file, sec, key); ok {
			*dst = k.String()
		}
	}

	getInt("audio", "sample_rate", &cfg.SampleRate)
	getInt("audio", "audio_buffer_size", &cfg.BufferSize)
	getInt("audio", "ring_slots", &cfg.RingSlots)
	getBool("audio", "enable_raw_outputs", &cfg.EnableRawOutputs)
	getFloat("audio", "master_volume", &cfg.MasterVolume)

	getInt("image", "line_length", &cfg.LineLength)
	getString("image", "udp_listen", &cfg.UDPListen)
	getInt("image", "dmx_zones", &cfg.DMXZones)

	getInt("additive", "pixels_per_note", &cfg.PixelsPerNote)
	getFloat("additive", "start_frequency", &cfg.StartFrequency)
	getInt("additive", "semitones_per_octave", &cfg.SemitonesPerOctave)
	getInt("additive", "commas_per_semitone", &cfg.CommasPerSemitone)
	getBool("additive", "stereo_mode_enabled", &cfg.StereoMode)
	getFloat("additive", "volume_weighting_exponent", &cfg.VolumeWeightingExponent)
	getBool("additive", "phase_aware_volume", &cfg.PhaseAwareVolume)
	getString("additive", "phase_aware_mode", &cfg.PhaseAwareMode)

	getInt("spectral", "num_voices_spectral", &cfg.NumVoicesSpectral)
	getFloat("spectral", "spectral_high_freq_limit", &cfg.SpectralHighFreqLimit)
	getFloat("spectral", "volume_env_attack", &cfg.VolumeEnv.Attack)
	getFloat("spectral", "volume_env_decay", &cfg.VolumeEnv.Decay)
	getFloat("spectral", "volume_env_sustain", &cfg.VolumeEnv.Sustain)
	getFloat("spectral", "volume_env_release", &cfg.VolumeEnv.Release)
	getFloat("spectral", "filter_env_attack", &cfg.FilterEnv.Attack)
	getFloat("spectral", "filter_env_decay", &cfg.FilterEnv.Decay)
	getFloat("spectral", "filter_env_sustain", &cfg.FilterEnv.Sustain)
	getFloat("spectral", "filter_env_release", &cfg.FilterEnv.Release)
	getFloat("spectral", "lfo_vibrato_rate", &cfg.VibratoRate)
	getFloat("spectral", "lfo_vibrato_depth", &cfg.VibratoDepth)
	getFloat("spectral", "filter_cutoff", &cfg.FilterCutoff)
	getFloat("spectral", "filter_env_depth", &cfg.FilterEnvDepth)

	getInt("wavetable", "num_voices_wavetable", &cfg.NumVoicesWavetable)
	getFloat("wavetable", "blur_amount", &cfg.BlurAmount)
	getFloat("wavetable", "amplitude", &cfg.Amplitude)

	var scanMode, interpMode string
	getString("wavetable", "scan_mode", &scanMode)
	getString("wavetable", "interp_mode", &interpMode)
	if scanMode != "" {
		switch strings.ToLower(scanMode) {
		case "lr", "l2r", "left_right":
			cfg.ScanMode = SCAN_LR
		case "rl", "r2l", "right_left":
			cfg.ScanMode = SCAN_RL
		case "pingpong", "ping_pong":
			cfg.ScanMode = SCAN_PINGPONG
		default:
			return nil, fmt.Errorf("config %s: wavetable.scan_mode: %q is not one of lr, rl, pingpong", path, scanMode)
		}
	}
	if interpMode != "" {
		switch strings.ToLower(interpMode) {
		case "linear":
			cfg.InterpMode = INTERP_LINEAR
		case "cubic":
			cfg.InterpMode = INTERP_CUBIC
		default:
			return nil, fmt.Errorf("config %s: wavetable.interp_mode: %q is not one of linear, cubic", path, interpMode)
		}
	}

	getFloat("effects", "reverb_mix", &cfg.ReverbMix)
	getFloat("effects", "reverb_size", &cfg.ReverbSize)
	getFloat("effects", "reverb_damp", &cfg.ReverbDamp)
	getFloat("effects", "reverb_width", &cfg.ReverbWidth)
	getFloat("effects", "eq_low_gain", &cfg.EQLowGain)
	getFloat("effects", "eq_mid_gain", &cfg.EQMidGain)
	getFloat("effects", "eq_high_gain", &cfg.EQHighGain)
	getFloat("effects", "eq_mid_freq", &cfg.EQMidFreq)

	getFloat("mixer", "mix_additive", &cfg.MixAdditive)
	getFloat("mixer", "mix_spectral", &cfg.MixSpectral)
	getFloat("mixer", "mix_wavetable", &cfg.MixWavetable)
	getFloat("mixer", "reverb_send_additive", &cfg.SendAdditive)
	getFloat("mixer", "reverb_send_spectral", &cfg.SendSpectral)
	getFloat("mixer", "reverb_send_wavetable", &cfg.SendWavetable)

	getInt("preprocess", "fft_history_size", &cfg.FFTHistorySize)
	getFloat("preprocess", "amplitude_smoothing_alpha", &cfg.SmoothingAlpha)

	getFloat("system", "freeze_resume_ms", &cfg.FreezeResumeMS)

	if parseErr != nil {
		return nil, parseErr
	}

	// amplitude_gamma historically lives in two sections.  Accept either,
	// but refuse a file where both are present and disagree.
	specGamma, hasSpec := lookupKey(file, "spectral", "amplitude_gamma")
	fftGamma, hasFFT := lookupKey(file, "fft", "amplitude_gamma")
	switch {
	case hasSpec && hasFFT:
		a, errA := specGamma.Float64()
		b, errB := fftGamma.Float64()
		if errA != nil || errB != nil {
			return nil, fmt.Errorf("config %s: amplitude_gamma is not a number", path)
		}
		if a != b {
			return nil, fmt.Errorf("config %s: amplitude_gamma disagrees between [spectral] (%g) and [fft] (%g); set a single value", path, a, b)
		}
		cfg.AmplitudeGamma = a
	case hasSpec:
		v, err := specGamma.Float64()
		if err != nil {
			return nil, fmt.Errorf("config %s: spectral.amplitude_gamma: %w", path, err)
		}
		cfg.AmplitudeGamma = v
	case hasFFT:
		v, err := fftGamma.Float64()
		if err != nil {
			return nil, fmt.Errorf("config %s: fft.amplitude_gamma: %w", path, err)
		}
		cfg.AmplitudeGamma = v
	}

	// MIDI mapping entries are free-form parameter=descriptor pairs.
	if sec, err := file.GetSection("midi_map"); err == nil {
		for _, k := range sec.Keys() {
			cfg.MIDIMap[k.Name()] = k.String()
		}
	}

	return cfg, cfg.Validate()
}

func lookupKey(file *ini.File, section, key string) (*ini.Key, bool) {
	sec, err := file.GetSection(section)
	if err != nil {
		return nil, false
	}
	if !sec.HasKey(key) {
		return nil, false
	}
	return sec.Key(key), true
}

func warnUnknownKeys(file *ini.File, path string) {
	for _, sec := range file.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection && len(sec.Keys()) == 0 {
			continue
		}
		if name == "midi_map" {
			continue // free-form parameter bindings
		}
		known, ok := knownKeys[name]
		if !ok {
			log.Warn("config: unknown section ignored", "file", path, "section", name)
			continue
		}
		for _, k := range sec.Keys() {
			found := false
			for _, kk := range known {
				if k.Name() == kk {
					found = true
					break
				}
			}
			if !found {
				log.Warn("config: unknown key ignored", "file", path, "section", name, "key", k.Name())
			}
		}
	}
}

type rangeError struct {
	key  string
	have interface{}
	want string
}

func (e *rangeError) Error() string {
	return fmt.Sprintf("config: %s = %v out of range (want %s)", e.key, e.have, e.want)
}

func checkIntRange(key string, v, lo, hi int) error {
	if v < lo || v > hi {
		return &rangeError{key, v, fmt.Sprintf("%d..%d", lo, hi)}
	}
	return nil
}

func checkFloatRange(key string, v, lo, hi float64) error {
	if v < lo || v > hi {
		return &rangeError{key, v, fmt.Sprintf("%g..%g", lo, hi)}
	}
	return nil
}

func checkEnv(prefix string, e EnvTimes) error {
	checks := []struct {
		key    string
		v      float64
		lo, hi float64
	}{
		{prefix + "_attack", e.Attack, 0, MAX_ENV_SECONDS},
		{prefix + "_decay", e.Decay, 0, MAX_ENV_SECONDS},
		{prefix + "_sustain", e.Sustain, 0, 1},
		{prefix + "_release", e.Release, 0, MAX_ENV_SECONDS},
	}
	for _, c := range checks {
		if err := checkFloatRange(c.key, c.v, c.lo, c.hi); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects out-of-range values with a descriptive error.  It is the
// init-time gate: nothing past this point re-checks ranges.
func (cfg *Config) Validate() error {
	checks := []func() error{
		func() error { return checkIntRange("sample_rate", cfg.SampleRate, MIN_SAMPLE_RATE, MAX_SAMPLE_RATE) },
		func() error { return checkIntRange("audio_buffer_size", cfg.BufferSize, MIN_BUFFER_SIZE, MAX_BUFFER_SIZE) },
		func() error { return checkIntRange("ring_slots", cfg.RingSlots, MIN_RING_SLOTS, MAX_RING_SLOTS) },
		func() error { return checkFloatRange("master_volume", cfg.MasterVolume, 0, 2) },
		func() error { return checkIntRange("line_length", cfg.LineLength, MIN_LINE_LENGTH, MAX_LINE_LENGTH) },
		func() error { return checkIntRange("dmx_zones", cfg.DMXZones, 0, MAX_DMX_ZONES) },
		func() error { return checkIntRange("pixels_per_note", cfg.PixelsPerNote, 1, cfg.LineLength) },
		func() error { return checkFloatRange("start_frequency", cfg.StartFrequency, 8, 2000) },
		func() error { return checkIntRange("semitones_per_octave", cfg.SemitonesPerOctave, 1, 96) },
		func() error { return checkIntRange("commas_per_semitone", cfg.CommasPerSemitone, 1, 16) },
		func() error {
			return checkFloatRange("volume_weighting_exponent", cfg.VolumeWeightingExponent, 0.1, 8)
		},
		func() error { return checkIntRange("num_voices_spectral", cfg.NumVoicesSpectral, 1, MAX_VOICES) },
		func() error { return checkIntRange("num_voices_wavetable", cfg.NumVoicesWavetable, 1, MAX_VOICES) },
		func() error {
			return checkFloatRange("spectral_high_freq_limit", cfg.SpectralHighFreqLimit, 1000, 24000)
		},
		func() error { return checkFloatRange("amplitude_gamma", cfg.AmplitudeGamma, 0.1, 8) },
		func() error { return checkEnv("volume_env", cfg.VolumeEnv) },
		func() error { return checkEnv("filter_env", cfg.FilterEnv) },
		func() error { return checkFloatRange("lfo_vibrato_rate", cfg.VibratoRate, 0, 40) },
		func() error { return checkFloatRange("lfo_vibrato_depth", cfg.VibratoDepth, 0, 1) },
		func() error { return checkFloatRange("filter_cutoff", cfg.FilterCutoff, 20, 20000) },
		func() error { return checkFloatRange("filter_env_depth", cfg.FilterEnvDepth, 0, 1) },
		func() error { return checkFloatRange("blur_amount", cfg.BlurAmount, 0, 1) },
		func() error { return checkFloatRange("amplitude", cfg.Amplitude, 0, 1) },
		func() error { return checkFloatRange("reverb_mix", cfg.ReverbMix, 0, 1) },
		func() error { return checkFloatRange("reverb_size", cfg.ReverbSize, 0, 1) },
		func() error { return checkFloatRange("reverb_damp", cfg.ReverbDamp, 0, 1) },
		func() error { return checkFloatRange("reverb_width", cfg.ReverbWidth, 0, 1) },
		func() error { return checkFloatRange("eq_low_gain", cfg.EQLowGain, 0, 4) },
		func() error { return checkFloatRange("eq_mid_gain", cfg.EQMidGain, 0, 4) },
		func() error { return checkFloatRange("eq_high_gain", cfg.EQHighGain, 0, 4) },
		func() error { return checkFloatRange("eq_mid_freq", cfg.EQMidFreq, 100, 8000) },
		func() error { return checkFloatRange("mix_additive", cfg.MixAdditive, 0, 2) },
		func() error { return checkFloatRange("mix_spectral", cfg.MixSpectral, 0, 2) },
		func() error { return checkFloatRange("mix_wavetable", cfg.MixWavetable, 0, 2) },
		func() error { return checkFloatRange("reverb_send_additive", cfg.SendAdditive, 0, 1) },
		func() error { return checkFloatRange("reverb_send_spectral", cfg.SendSpectral, 0, 1) },
		func() error { return checkFloatRange("reverb_send_wavetable", cfg.SendWavetable, 0, 1) },
		func() error { return checkIntRange("fft_history_size", cfg.FFTHistorySize, 1, 32) },
		func() error { return checkFloatRange("amplitude_smoothing_alpha", cfg.SmoothingAlpha, 0, 1) },
		func() error { return checkFloatRange("freeze_resume_ms", cfg.FreezeResumeMS, 1, 1000) },
	}
	for _, c := range checks {
		if err := c(); err != nil {
			return err
		}
	}
	switch cfg.PhaseAwareMode {
	case "continuous":
	case "zero_crossing":
		return fmt.Errorf("config: phase_aware_mode = zero_crossing is reserved and not implemented yet")
	default:
		return fmt.Errorf("config: phase_aware_mode = %q is not one of continuous, zero_crossing", cfg.PhaseAwareMode)
	}
	if cfg.LineLength%cfg.PixelsPerNote != 0 {
		return fmt.Errorf("config: line_length (%d) must be a multiple of pixels_per_note (%d)", cfg.LineLength, cfg.PixelsPerNote)
	}
	return nil
}

// NumNotes is the additive note count derived from the line geometry.
func (cfg *Config) NumNotes() int {
	return cfg.LineLength / cfg.PixelsPerNote
}
