// synth_spectral.go - FFT-polyphonic MIDI synthesis engine

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"math"
	"sync"
	"sync/atomic"
)

// Upper bound on harmonics per voice; the high-frequency limit usually cuts
// in well before this.
const maxHarmonics = 32

// A4 reference tuning for MIDI note numbers.
const (
	midiA4Note = 69
	midiA4Freq = 440.0
)

func midiNoteFrequency(note uint8) float64 {
	return midiA4Freq * math.Pow(2, (float64(note)-midiA4Note)/12)
}

type spectralVoice struct {
	VoiceCore

	f0        float64
	harmPhase [maxHarmonics]float64
	harmAmp   [maxHarmonics]float32
	numHarm   int

	vibPhase    float64
	filterState float32
	velGain     float32
}

// SpectralEngine is a polyphonic synthesizer whose per-voice harmonic
// amplitudes track the preprocessed image spectrum.  One dedicated thread
// renders every buffer; MIDI intent arrives through a lock-free queue and
// is drained at buffer boundaries, so the voice table has exactly one
// writer.
type SpectralEngine struct {
	cfg    *Config
	params *EngineParams
	pub    *LinePublisher
	ring   *BufferRing
	rtlog  *RTLogQueue

	voices []*spectralVoice
	cores  []*VoiceCore // parallel view for the shared voice helpers
	order  atomic.Uint64
	events noteEventQueue

	mags      []float32
	magsValid bool
	binWidth  float64 // Hz per magnitude bin
	voiceGain float32

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewSpectralEngine(cfg *Config, params *EngineParams, pub *LinePublisher, ring *BufferRing, rtlog *RTLogQueue) *SpectralEngine {
	bins := fftBinCount(cfg.LineLength)
	e := &SpectralEngine{
		cfg:       cfg,
		params:    params,
		pub:       pub,
		ring:      ring,
		rtlog:     rtlog,
		mags:      make([]float32, bins),
		voiceGain: float32(1 / math.Sqrt(float64(cfg.NumVoicesSpectral))),
	}
	if bins > 0 {
		e.binWidth = cfg.SpectralHighFreqLimit / float64(bins)
	}
	for i := 0; i < cfg.NumVoicesSpectral; i++ {
		v := &spectralVoice{}
		v.VolumeEnv.Configure(cfg.VolumeEnv, cfg.SampleRate)
		v.FilterEnv.Configure(cfg.FilterEnv, cfg.SampleRate)
		e.voices = append(e.voices, v)
		e.cores = append(e.cores, &v.VoiceCore)
	}
	return e
}

// NoteOn and NoteOff may be called from the MIDI thread at any time.
func (e *SpectralEngine) NoteOn(note, velocity uint8) {
	e.events.push(noteEvent{on: true, note: note, velocity: velocity})
}

func (e *SpectralEngine) NoteOff(note uint8) {
	e.events.push(noteEvent{on: false, note: note})
}

func (e *SpectralEngine) Start() {
	e.running.Store(true)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run()
	}()
}

func (e *SpectralEngine) Stop() {
	e.running.Store(false)
	e.wg.Wait()
}

func (e *SpectralEngine) run() {
	lockAndElevate(SCHED_PRIO_ENGINE)
	for e.running.Load() {
		slot, waited := e.ring.ProducerSlot()
		if slot == nil {
			e.rtlog.Push(rtLogRingTimeout, ENGINE_SPECTRAL, waited)
			continue
		}
		if !e.running.Load() {
			return
		}
		e.drainEvents()
		e.magsValid = e.pub.CopyMagnitudes(e.mags)
		e.renderBuffer(slot.left, slot.right)
		e.ring.ProducerPublish()
	}
}

func (e *SpectralEngine) drainEvents() {
	for {
		ev, ok := e.events.pop()
		if !ok {
			return
		}
		if ev.on {
			e.noteOn(ev.note, ev.velocity)
		} else {
			matchNoteOff(e.cores, ev.note)
		}
	}
}

func (e *SpectralEngine) noteOn(note, velocity uint8) {
	idx, stolen := allocateVoice(e.cores)
	if stolen {
		e.rtlog.Push(rtLogVoiceSteal, ENGINE_SPECTRAL, int64(note))
	}
	v := e.voices[idx]
	triggerVoice(&v.VoiceCore, note, velocity, &e.order)

	v.f0 = midiNoteFrequency(note)
	v.velGain = float32(velocity) / 127
	v.vibPhase = 0
	v.filterState = 0
	limit := e.cfg.SpectralHighFreqLimit
	v.numHarm = 0
	for h := 1; h <= maxHarmonics; h++ {
		f := v.f0 * float64(h)
		if f >= limit {
			break
		}
		v.harmPhase[h-1] = 0
		v.numHarm = h
	}
}

// binForHarmonic maps a harmonic frequency onto the image-spectrum bins,
// which act as a spectral envelope over the audible range up to the
// high-frequency limit.
func (e *SpectralEngine) binForHarmonic(freq float64) int {
	if e.binWidth <= 0 {
		return -1
	}
	bin := int(freq / e.binWidth)
	if bin < 0 || bin >= len(e.mags) {
		return -1
	}
	return bin
}

func (e *SpectralEngine) renderBuffer(left, right []float32) {
	fillF32(left, 0)
	fillF32(right, 0)

	gamma := float64(e.params.AmplitudeGamma.Load())
	vibRate := float64(e.params.VibratoRate.Load())
	vibDepth := float64(e.params.VibratoDepth.Load())
	cutoff := float64(e.params.FilterCutoff.Load())
	envDepth := float64(e.params.FilterEnvDepth.Load())
	bend := math.Pow(2, float64(e.params.PitchBend.Load())/12)
	sr := float64(e.cfg.SampleRate)
	vibInc := vibRate / sr

	for _, v := range e.voices {
		if !v.Active() {
			continue
		}

		// Harmonic amplitudes follow the image spectrum at buffer rate;
		// an invalid FFT means this voice contributes silence while its
		// envelope keeps running (so Note Offs still resolve).
		for h := 0; h < v.numHarm; h++ {
			amp := float32(0)
			if e.magsValid {
				if bin := e.binForHarmonic(v.f0 * float64(h+1)); bin >= 0 {
					amp = float32(math.Pow(float64(e.mags[bin]), gamma))
				}
			}
			v.harmAmp[h] = amp
		}

		// Filter coefficient at buffer rate: base cutoff opened by the
		// filter envelope, clamped to the audio band.
		modCutoff := cutoff * (1 + 3*envDepth*float64(v.FilterEnv.Level))
		if modCutoff > 20000 {
			modCutoff = 20000
		} else if modCutoff < 20 {
			modCutoff = 20
		}
		filterCoef := float32(1 - math.Exp(-TWO_PI*modCutoff/sr))

		gain := v.velGain * e.voiceGain
		for i := range left {
			volLevel := v.VolumeEnv.Process()
			v.FilterEnv.Process()

			vib := 1 + vibDepth*float64(lutSine(v.vibPhase))
			v.vibPhase += vibInc
			if v.vibPhase >= 1 {
				v.vibPhase--
			}
			incScale := vib * bend / sr

			var sample float32
			for h := 0; h < v.numHarm; h++ {
				amp := v.harmAmp[h]
				if amp == 0 {
					continue
				}
				sample += amp * lutSine(v.harmPhase[h])
				v.harmPhase[h] += v.f0 * float64(h+1) * incScale
				if v.harmPhase[h] >= 1 {
					v.harmPhase[h]--
				}
			}

			v.filterState += filterCoef * (sample - v.filterState)
			out := v.filterState * volLevel * gain
			left[i] += out
			right[i] += out
		}
	}
}
