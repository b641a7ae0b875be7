// synth_spectral_test.go - FFT-polyphonic engine behavior

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"testing"
)

func spectralTestSetup(t *testing.T) (*Config, *SpectralEngine, *LinePublisher) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LineLength = 256
	cfg.PixelsPerNote = 8
	cfg.VolumeEnv = EnvTimes{Attack: 0.005, Decay: 0.01, Sustain: 0.8, Release: 0.05}
	cfg.FilterEnv = cfg.VolumeEnv
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	params := NewEngineParams(cfg)
	pub := NewLinePublisher(cfg)
	ring := NewBufferRing(cfg.RingSlots, cfg.BufferSize)
	e := NewSpectralEngine(cfg, params, pub, ring, NewRTLogQueue())
	return cfg, e, pub
}

// publishFlatSpectrum gives every magnitude bin the same level.
func publishFlatSpectrum(pub *LinePublisher, level float32, valid bool) {
	slot := pub.WriteSlot()
	for i := range slot.Magnitudes {
		slot.Magnitudes[i] = level
	}
	slot.FFTValid = valid
	pub.Publish()
}

// renderBuffers drives the engine synchronously, bypassing its thread.
func renderBuffers(e *SpectralEngine, pub *LinePublisher, n int) (left, right []float32) {
	buf := e.cfg.BufferSize
	left = make([]float32, 0, n*buf)
	right = make([]float32, 0, n*buf)
	l := make([]float32, buf)
	r := make([]float32, buf)
	for i := 0; i < n; i++ {
		e.drainEvents()
		e.magsValid = pub.CopyMagnitudes(e.mags)
		e.renderBuffer(l, r)
		left = append(left, l...)
		right = append(right, r...)
	}
	return left, right
}

func TestSpectral_NoteOnProducesEnergyNoteOffDecays(t *testing.T) {
	cfg, e, pub := spectralTestSetup(t)
	publishFlatSpectrum(pub, 0.5, true)

	e.NoteOn(60, 100)
	buffersPerSecond := cfg.SampleRate / cfg.BufferSize
	held, _ := renderBuffers(e, pub, buffersPerSecond/2)
	if rmsEnergy(held[len(held)/2:]) < 1e-4 {
		t.Fatal("held note produced no energy")
	}

	e.NoteOff(60)
	// attack+decay already passed; release is 50 ms, give it 250 ms plus
	// two buffers.
	tail, _ := renderBuffers(e, pub, buffersPerSecond/4)
	lastChunk := tail[len(tail)-cfg.BufferSize:]
	if rmsEnergy(lastChunk) > 1e-4 {
		t.Errorf("voice still audible %d ms after note off (rms %g)", 250, rmsEnergy(lastChunk))
	}
	for i, v := range e.voices {
		if v.Active() {
			t.Errorf("voice %d not idle after release", i)
		}
	}
}

func TestSpectral_InvalidFFTRendersSilence(t *testing.T) {
	_, e, pub := spectralTestSetup(t)
	publishFlatSpectrum(pub, 0.5, false)

	e.NoteOn(60, 127)
	left, _ := renderBuffers(e, pub, 20)
	if rmsEnergy(left) != 0 {
		t.Errorf("invalid FFT must be treated as silence, got rms %g", rmsEnergy(left))
	}

	// The envelope kept running, so the note still resolves.
	e.NoteOff(60)
	renderBuffers(e, pub, 200)
	if e.voices[0].Active() {
		t.Error("voice stuck after note off under invalid FFT")
	}
}

func TestSpectral_DuplicateNoteOffScenario(t *testing.T) {
	cfg, e, pub := spectralTestSetup(t)
	publishFlatSpectrum(pub, 0.5, true)

	e.NoteOn(60, 100)
	renderBuffers(e, pub, 10)

	e.NoteOff(60)
	renderBuffers(e, pub, 1)
	releasing := 0
	for _, v := range e.voices {
		if v.VolumeEnv.State == ENV_RELEASE {
			releasing++
		}
	}
	if releasing != 1 {
		t.Fatalf("%d voices releasing after first note off, want exactly 1", releasing)
	}

	// The duplicate must not touch envelope states.
	e.NoteOff(60)
	renderBuffers(e, pub, 1)
	for _, v := range e.voices {
		if v.VolumeEnv.State == ENV_ATTACK {
			t.Fatal("duplicate note off re-triggered a voice")
		}
	}

	// And the voice still reaches IDLE normally.
	buffersPerSecond := cfg.SampleRate / cfg.BufferSize
	renderBuffers(e, pub, buffersPerSecond/2)
	for i, v := range e.voices {
		if v.Active() {
			t.Errorf("voice %d never reached idle", i)
		}
	}
}

func TestSpectral_PolyphonyAndStealing(t *testing.T) {
	cfg, e, pub := spectralTestSetup(t)
	publishFlatSpectrum(pub, 0.5, true)

	// Fill every voice.
	for i := 0; i < cfg.NumVoicesSpectral; i++ {
		e.NoteOn(uint8(50+i), 100)
	}
	renderBuffers(e, pub, 5)
	active := 0
	for _, v := range e.voices {
		if v.Active() {
			active++
		}
	}
	if active != cfg.NumVoicesSpectral {
		t.Fatalf("%d active voices, want %d", active, cfg.NumVoicesSpectral)
	}

	// One more steals the oldest (note 50).
	e.NoteOn(90, 100)
	renderBuffers(e, pub, 1)
	found50 := false
	found90 := false
	for _, v := range e.voices {
		if v.MidiNote == 50 && v.sounding() {
			found50 = true
		}
		if v.MidiNote == 90 {
			found90 = true
		}
	}
	if found50 {
		t.Error("oldest voice (note 50) should have been stolen")
	}
	if !found90 {
		t.Error("new note 90 not allocated")
	}
}

func TestSpectral_HarmonicsRespectHighFreqLimit(t *testing.T) {
	_, e, pub := spectralTestSetup(t)
	publishFlatSpectrum(pub, 0.5, true)

	e.NoteOn(100, 100) // ~2637 Hz fundamental
	renderBuffers(e, pub, 1)

	var v *spectralVoice
	for _, cand := range e.voices {
		if cand.MidiNote == 100 {
			v = cand
		}
	}
	if v == nil {
		t.Fatal("voice not allocated")
	}
	f0 := midiNoteFrequency(100)
	limit := e.cfg.SpectralHighFreqLimit
	if v.numHarm == 0 {
		t.Fatal("voice has no harmonics")
	}
	if f0*float64(v.numHarm) >= limit {
		t.Errorf("highest harmonic %f exceeds limit %f", f0*float64(v.numHarm), limit)
	}
	if f0*float64(v.numHarm+1) < limit {
		t.Errorf("harmonic count %d stops short of the limit", v.numHarm)
	}
}

func TestSpectral_RenderAllocationFree(t *testing.T) {
	_, e, pub := spectralTestSetup(t)
	publishFlatSpectrum(pub, 0.5, true)
	e.NoteOn(60, 100)
	e.drainEvents()
	e.magsValid = pub.CopyMagnitudes(e.mags)

	l := make([]float32, e.cfg.BufferSize)
	r := make([]float32, e.cfg.BufferSize)
	allocs := testing.AllocsPerRun(100, func() {
		e.renderBuffer(l, r)
	})
	if allocs != 0 {
		t.Errorf("renderBuffer allocates %.1f objects per buffer, want 0", allocs)
	}
}

func BenchmarkSpectral_RenderBuffer(b *testing.B) {
	cfg := DefaultConfig()
	cfg.LineLength = 256
	params := NewEngineParams(cfg)
	pub := NewLinePublisher(cfg)
	e := NewSpectralEngine(cfg, params, pub, NewBufferRing(2, cfg.BufferSize), NewRTLogQueue())
	publishFlatSpectrum(pub, 0.5, true)
	for i := 0; i < cfg.NumVoicesSpectral; i++ {
		e.NoteOn(uint8(40+i*7), 100)
	}
	e.drainEvents()
	e.magsValid = pub.CopyMagnitudes(e.mags)
	l := make([]float32, cfg.BufferSize)
	r := make([]float32, cfg.BufferSize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.renderBuffer(l, r)
	}
}
