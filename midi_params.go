// midi_params.go - Atomic engine parameters and the parameter registry

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"math"
	"sync/atomic"
)

// atomicFloat32 is a float stored as raw bits.  Plain Load/Store gives the
// acquire/release semantics the engines need; nothing ever read-modify-writes
// a parameter.
type atomicFloat32 struct {
	bits atomic.Uint32
}

func (a *atomicFloat32) Load() float32   { return math.Float32frombits(a.bits.Load()) }
func (a *atomicFloat32) Store(v float32) { a.bits.Store(math.Float32bits(v)) }

// EngineParams is the single home of every MIDI-controllable value.  The
// dispatcher writes, engine threads read.  No locks anywhere near it.
type EngineParams struct {
	MixLevel   [NUM_ENGINES]atomicFloat32
	ReverbSend [NUM_ENGINES]atomicFloat32

	MasterVolume atomicFloat32

	ReverbMix   atomicFloat32
	ReverbSize  atomicFloat32
	ReverbDamp  atomicFloat32
	ReverbWidth atomicFloat32

	EQLowGain  atomicFloat32
	EQMidGain  atomicFloat32
	EQHighGain atomicFloat32
	EQMidFreq  atomicFloat32

	VibratoRate    atomicFloat32
	VibratoDepth   atomicFloat32
	FilterCutoff   atomicFloat32
	FilterEnvDepth atomicFloat32
	AmplitudeGamma atomicFloat32

	WeightingExponent atomicFloat32
	PhaseAware        atomic.Bool

	WTScanMode   atomic.Int32
	WTInterpMode atomic.Int32
	WTBlurAmount atomicFloat32
	WTAmplitude  atomicFloat32

	// Pitch bend in semitones, shared by the MIDI engines.
	PitchBend atomicFloat32
}

// NewEngineParams seeds every parameter from the validated config.
func NewEngineParams(cfg *Config) *EngineParams {
	p := &EngineParams{}
	p.MixLevel[ENGINE_ADDITIVE].Store(float32(cfg.MixAdditive))
	p.MixLevel[ENGINE_SPECTRAL].Store(float32(cfg.MixSpectral))
	p.MixLevel[ENGINE_WAVETABLE].Store(float32(cfg.MixWavetable))
	p.ReverbSend[ENGINE_ADDITIVE].Store(float32(cfg.SendAdditive))
	p.ReverbSend[ENGINE_SPECTRAL].Store(float32(cfg.SendSpectral))
	p.ReverbSend[ENGINE_WAVETABLE].Store(float32(cfg.SendWavetable))
	p.MasterVolume.Store(float32(cfg.MasterVolume))
	p.ReverbMix.Store(float32(cfg.ReverbMix))
	p.ReverbSize.Store(float32(cfg.ReverbSize))
	p.ReverbDamp.Store(float32(cfg.ReverbDamp))
	p.ReverbWidth.Store(float32(cfg.ReverbWidth))
	p.EQLowGain.Store(float32(cfg.EQLowGain))
	p.EQMidGain.Store(float32(cfg.EQMidGain))
	p.EQHighGain.Store(float32(cfg.EQHighGain))
	p.EQMidFreq.Store(float32(cfg.EQMidFreq))
	p.VibratoRate.Store(float32(cfg.VibratoRate))
	p.VibratoDepth.Store(float32(cfg.VibratoDepth))
	p.FilterCutoff.Store(float32(cfg.FilterCutoff))
	p.FilterEnvDepth.Store(float32(cfg.FilterEnvDepth))
	p.AmplitudeGamma.Store(float32(cfg.AmplitudeGamma))
	p.WeightingExponent.Store(float32(cfg.VolumeWeightingExponent))
	p.PhaseAware.Store(cfg.PhaseAwareVolume)
	p.WTScanMode.Store(int32(cfg.ScanMode))
	p.WTInterpMode.Store(int32(cfg.InterpMode))
	p.WTBlurAmount.Store(float32(cfg.BlurAmount))
	p.WTAmplitude.Store(float32(cfg.Amplitude))
	p.PitchBend.Store(0)
	return p
}

// ------------------------------------------------------------------------------
// Parameter registry
// ------------------------------------------------------------------------------

const (
	SCALE_LINEAR = iota
	SCALE_LOG
	SCALE_EXP
	SCALE_DISCRETE
)

// Parameter describes one controllable value: how to scale an incoming
// normalized [0,1] control into its range, and the RT-safe setter to call.
type Parameter struct {
	Name    string
	Scale   int
	Min     float64
	Max     float64
	Default float64
	Apply   func(scaled float64)
}

// ScaledValue maps a normalized control value in [0,1] onto the parameter's
// range under its scaling law.
func (p *Parameter) ScaledValue(norm float64) float64 {
	if norm < 0 {
		norm = 0
	} else if norm > 1 {
		norm = 1
	}
	switch p.Scale {
	case SCALE_LOG:
		// Perceptual curve: fast at the bottom, slow at the top.
		return p.Min + (p.Max-p.Min)*math.Log1p(norm*(math.E-1))
	case SCALE_EXP:
		// Frequency-style mapping; degenerates to linear when Min <= 0.
		if p.Min > 0 && p.Max > 0 {
			return math.Exp(math.Log(p.Min) + norm*math.Log(p.Max/p.Min))
		}
		return p.Min + (p.Max-p.Min)*norm*norm
	case SCALE_DISCRETE:
		steps := int(p.Max-p.Min) + 1
		idx := int(norm * float64(steps))
		if idx >= steps {
			idx = steps - 1
		}
		return p.Min + float64(idx)
	default:
		return p.Min + (p.Max-p.Min)*norm
	}
}

// BuildParameterRegistry wires every controllable parameter to its atomic
// home.  The freeze/resume system actions are registered as discrete
// parameters so the mapping table can bind them like anything else.
func BuildParameterRegistry(cfg *Config, params *EngineParams, pub *LinePublisher) []*Parameter {
	f32 := func(dst *atomicFloat32) func(float64) {
		return func(v float64) { dst.Store(float32(v)) }
	}
	regs := []*Parameter{
		{Name: "master_volume", Scale: SCALE_LINEAR, Min: 0, Max: 2, Default: cfg.MasterVolume, Apply: f32(&params.MasterVolume)},
		{Name: "mix_additive", Scale: SCALE_LINEAR, Min: 0, Max: 2, Default: cfg.MixAdditive, Apply: f32(&params.MixLevel[ENGINE_ADDITIVE])},
		{Name: "mix_spectral", Scale: SCALE_LINEAR, Min: 0, Max: 2, Default: cfg.MixSpectral, Apply: f32(&params.MixLevel[ENGINE_SPECTRAL])},
		{Name: "mix_wavetable", Scale: SCALE_LINEAR, Min: 0, Max: 2, Default: cfg.MixWavetable, Apply: f32(&params.MixLevel[ENGINE_WAVETABLE])},
		{Name: "reverb_send_additive", Scale: SCALE_LINEAR, Min: 0, Max: 1, Default: cfg.SendAdditive, Apply: f32(&params.ReverbSend[ENGINE_ADDITIVE])},
		{Name: "reverb_send_spectral", Scale: SCALE_LINEAR, Min: 0, Max: 1, Default: cfg.SendSpectral, Apply: f32(&params.ReverbSend[ENGINE_SPECTRAL])},
		{Name: "reverb_send_wavetable", Scale: SCALE_LINEAR, Min: 0, Max: 1, Default: cfg.SendWavetable, Apply: f32(&params.ReverbSend[ENGINE_WAVETABLE])},
		{Name: "reverb_mix", Scale: SCALE_LINEAR, Min: 0, Max: 1, Default: cfg.ReverbMix, Apply: f32(&params.ReverbMix)},
		{Name: "reverb_size", Scale: SCALE_LINEAR, Min: 0, Max: 1, Default: cfg.ReverbSize, Apply: f32(&params.ReverbSize)},
		{Name: "reverb_damp", Scale: SCALE_LINEAR, Min: 0, Max: 1, Default: cfg.ReverbDamp, Apply: f32(&params.ReverbDamp)},
		{Name: "reverb_width", Scale: SCALE_LINEAR, Min: 0, Max: 1, Default: cfg.ReverbWidth, Apply: f32(&params.ReverbWidth)},
		{Name: "eq_low_gain", Scale: SCALE_LOG, Min: 0, Max: 4, Default: cfg.EQLowGain, Apply: f32(&params.EQLowGain)},
		{Name: "eq_mid_gain", Scale: SCALE_LOG, Min: 0, Max: 4, Default: cfg.EQMidGain, Apply: f32(&params.EQMidGain)},
		{Name: "eq_high_gain", Scale: SCALE_LOG, Min: 0, Max: 4, Default: cfg.EQHighGain, Apply: f32(&params.EQHighGain)},
		{Name: "eq_mid_freq", Scale: SCALE_EXP, Min: 100, Max: 8000, Default: cfg.EQMidFreq, Apply: f32(&params.EQMidFreq)},
		{Name: "lfo_vibrato_rate", Scale: SCALE_LINEAR, Min: 0, Max: 40, Default: cfg.VibratoRate, Apply: f32(&params.VibratoRate)},
		{Name: "lfo_vibrato_depth", Scale: SCALE_LINEAR, Min: 0, Max: 1, Default: cfg.VibratoDepth, Apply: f32(&params.VibratoDepth)},
		{Name: "filter_cutoff", Scale: SCALE_EXP, Min: 20, Max: 20000, Default: cfg.FilterCutoff, Apply: f32(&params.FilterCutoff)},
		{Name: "filter_env_depth", Scale: SCALE_LINEAR, Min: 0, Max: 1, Default: cfg.FilterEnvDepth, Apply: f32(&params.FilterEnvDepth)},
		{Name: "amplitude_gamma", Scale: SCALE_LINEAR, Min: 0.1, Max: 8, Default: cfg.AmplitudeGamma, Apply: f32(&params.AmplitudeGamma)},
		{Name: "volume_weighting_exponent", Scale: SCALE_LINEAR, Min: 0.1, Max: 8, Default: cfg.VolumeWeightingExponent, Apply: f32(&params.WeightingExponent)},
		{Name: "wavetable_amplitude", Scale: SCALE_LINEAR, Min: 0, Max: 1, Default: cfg.Amplitude, Apply: f32(&params.WTAmplitude)},
		{Name: "wavetable_blur", Scale: SCALE_LINEAR, Min: 0, Max: 1, Default: cfg.BlurAmount, Apply: f32(&params.WTBlurAmount)},
		{Name: "wavetable_scan_mode", Scale: SCALE_DISCRETE, Min: 0, Max: 2, Default: float64(cfg.ScanMode),
			Apply: func(v float64) { params.WTScanMode.Store(int32(v)) }},
		{Name: "wavetable_interp_mode", Scale: SCALE_DISCRETE, Min: 0, Max: 1, Default: float64(cfg.InterpMode),
			Apply: func(v float64) { params.WTInterpMode.Store(int32(v)) }},
		{Name: "freeze", Scale: SCALE_DISCRETE, Min: 0, Max: 1, Default: 0,
			Apply: func(v float64) {
				if v >= 0.5 {
					pub.Freeze()
				}
			}},
		{Name: "resume", Scale: SCALE_DISCRETE, Min: 0, Max: 1, Default: 0,
			Apply: func(v float64) {
				if v >= 0.5 {
					pub.Resume()
				}
			}},
		{Name: "pitch_bend", Scale: SCALE_LINEAR, Min: -2, Max: 2, Default: 0, Apply: f32(&params.PitchBend)},
	}
	return regs
}
