// audio_mixer.go - The real-time callback: pull, mix, effect, limit

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

// Raw output channel pairs when the device has >= 8 channels: additive on
// 3/4, spectral on 5/6, wavetable on 7/8 (zero-based pairs 2/3, 4/5, 6/7).
// Fixed for compatibility with existing installations.
var rawOutputPair = [NUM_ENGINES]int{2, 4, 6}

// Mixer owns the consumer side of every engine ring and produces the final
// device signal.  Render runs on the audio callback thread: no locks, no
// allocation, no syscalls, no logging.  Everything it needs was allocated
// in NewMixer and every parameter is an atomic load.
type Mixer struct {
	cfg    *Config
	params *EngineParams
	rings  [NUM_ENGINES]*BufferRing
	reverb *Reverb
	eq     *StereoEQ

	frames int

	// Scratch, sized once.
	dryL, dryR   []float32
	revInL       []float32
	revInR       []float32
	wetL, wetR   []float32
	postL, postR []float32

	// Previous callback's send values, for the non-zero -> zero clear.
	prevSendsNonZero bool
}

func NewMixer(cfg *Config, params *EngineParams, rings [NUM_ENGINES]*BufferRing) *Mixer {
	frames := cfg.BufferSize
	return &Mixer{
		cfg:    cfg,
		params: params,
		rings:  rings,
		reverb: NewReverb(cfg.SampleRate),
		eq:     NewStereoEQ(cfg.SampleRate),
		frames: frames,
		dryL:   make([]float32, frames),
		dryR:   make([]float32, frames),
		revInL: make([]float32, frames),
		revInR: make([]float32, frames),
		wetL:   make([]float32, frames),
		wetR:   make([]float32, frames),
		postL:  make([]float32, frames),
		postR:  make([]float32, frames),
	}
}

// Frames returns the fixed callback buffer size B.
func (m *Mixer) Frames() int { return m.frames }

// Render produces one callback's worth of audio into an interleaved output
// of the given channel count (2 for plain stereo).  out must hold
// m.frames*channels samples.  Channels beyond the first pair carry the raw
// per-engine signals when enabled and present.
func (m *Mixer) Render(out []float32, channels int) {
	fillF32(m.dryL, 0)
	fillF32(m.dryR, 0)
	fillF32(m.revInL, 0)
	fillF32(m.revInR, 0)

	rawOut := channels >= 8 && m.cfg.EnableRawOutputs
	if channels > 2 && !rawOut {
		fillF32(out, 0)
	}

	// The clear trigger watches the send parameters themselves, whether or
	// not an engine delivered data this callback.
	var sendsNonZero bool
	var sends [NUM_ENGINES]float32
	for eng := 0; eng < NUM_ENGINES; eng++ {
		sends[eng] = m.params.ReverbSend[eng].Load()
		if sends[eng] != 0 {
			sendsNonZero = true
		}
	}

	var had [NUM_ENGINES]bool

	for eng := 0; eng < NUM_ENGINES; eng++ {
		slot := m.rings[eng].ConsumerSlot()
		if slot == nil {
			// Underrun for this engine: silence, others unaffected.
			continue
		}
		had[eng] = true

		mix := m.params.MixLevel[eng].Load()
		send := sends[eng]

		// Pre-split volume: mix level is applied FIRST so it governs both
		// the dry path and the reverb send.
		for i := 0; i < m.frames; i++ {
			pl := slot.left[i] * mix
			pr := slot.right[i] * mix
			m.dryL[i] += pl
			m.dryR[i] += pr
			m.revInL[i] += pl * send
			m.revInR[i] += pr * send
		}

		if rawOut {
			base := rawOutputPair[eng]
			for i := 0; i < m.frames; i++ {
				out[i*channels+base] = slot.left[i]
				out[i*channels+base+1] = slot.right[i]
			}
		}
	}

	// All sends just fell to zero: flush the tail so nothing ghosts in
	// whenever a send comes back.
	if m.prevSendsNonZero && !sendsNonZero {
		m.reverb.Clear()
	}
	m.prevSendsNonZero = sendsNonZero

	m.reverb.Process(m.revInL, m.revInR, m.wetL, m.wetR,
		m.params.ReverbMix.Load(),
		m.params.ReverbSize.Load(),
		m.params.ReverbDamp.Load(),
		m.params.ReverbWidth.Load())

	for i := 0; i < m.frames; i++ {
		m.postL[i] = m.dryL[i] + m.wetL[i]
		m.postR[i] = m.dryR[i] + m.wetR[i]
	}

	m.eq.Update(
		m.params.EQLowGain.Load(),
		m.params.EQMidGain.Load(),
		m.params.EQHighGain.Load(),
		m.params.EQMidFreq.Load())
	m.eq.ProcessBuffer(m.postL, m.postR)

	master := m.params.MasterVolume.Load()
	for i := 0; i < m.frames; i++ {
		l := m.postL[i] * master
		r := m.postR[i] * master
		out[i*channels] = hardLimit(l)
		out[i*channels+1] = hardLimit(r)
	}

	if rawOut {
		// Zero the raw pairs of engines that underran this callback.
		for eng := 0; eng < NUM_ENGINES; eng++ {
			if had[eng] {
				continue
			}
			base := rawOutputPair[eng]
			for i := 0; i < m.frames; i++ {
				out[i*channels+base] = 0
				out[i*channels+base+1] = 0
			}
		}
	}

	// Advance every ring by the same amount, keeping the engines
	// temporally coherent.
	for eng := 0; eng < NUM_ENGINES; eng++ {
		m.rings[eng].ConsumerRelease(had[eng])
	}
}

//go:nosplit
func hardLimit(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
