// image_line.go - Preprocessed image-line snapshots and their publisher

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"sync"
)

// ImageLine is one preprocessed snapshot of the incoming pixel line.  Once
// published it is immutable: the preprocessor always writes into the
// publisher's inactive slot and swaps.
type ImageLine struct {
	Grayscale      []float32
	ContrastFactor float32

	// Per-note data, length NumNotes.
	NoteVolume  []float32
	PanPosition []float32
	LeftGain    []float32
	RightGain   []float32

	// Per-zone RGB means for the DMX output path.
	ZoneRGB [][3]float32

	// Smoothed FFT magnitudes, length <= MAX_FFT_BINS.
	Magnitudes []float32
	FFTValid   bool

	TimestampUS int64
	Generation  uint64
}

func newImageLine(lineLen, numNotes, zones, bins int) *ImageLine {
	return &ImageLine{
		Grayscale:   make([]float32, lineLen),
		NoteVolume:  make([]float32, numNotes),
		PanPosition: make([]float32, numNotes),
		LeftGain:    make([]float32, numNotes),
		RightGain:   make([]float32, numNotes),
		ZoneRGB:     make([][3]float32, zones),
		Magnitudes:  make([]float32, bins),
	}
}

func (l *ImageLine) copyFrom(src *ImageLine) {
	copy(l.Grayscale, src.Grayscale)
	l.ContrastFactor = src.ContrastFactor
	copy(l.NoteVolume, src.NoteVolume)
	copy(l.PanPosition, src.PanPosition)
	copy(l.LeftGain, src.LeftGain)
	copy(l.RightGain, src.RightGain)
	copy(l.ZoneRGB, src.ZoneRGB)
	copy(l.Magnitudes, src.Magnitudes)
	l.FFTValid = src.FFTValid
	l.TimestampUS = src.TimestampUS
	l.Generation = src.Generation
}

// LinePublisher is the two-slot shared buffer between the preprocessor (UDP
// thread) and the engine threads.  The swap and every read happen under a
// short mutex; readers copy what they need and release.  Freeze latches the
// published snapshot; Resume cross-fades back to the live one over a fixed
// number of read generations worth of time, driven by the readers' sample
// clocks (each reader interpolates with the fade coefficient it is given).
type LinePublisher struct {
	mu         sync.Mutex
	slots      [2]*ImageLine
	active     int
	generation uint64

	frozen     bool
	frozenLine *ImageLine

	// Resume cross-fade: fade in [0,1], 0 = fully frozen, 1 = live.
	fading    bool
	fade      float64
	fadeStep  float64 // per published frame (~1 kHz UDP rate)
	fadeBlend *ImageLine
}

func NewLinePublisher(cfg *Config) *LinePublisher {
	numNotes := cfg.NumNotes()
	bins := fftBinCount(cfg.LineLength)
	p := &LinePublisher{
		frozenLine: newImageLine(cfg.LineLength, numNotes, cfg.DMXZones, bins),
		fadeBlend:  newImageLine(cfg.LineLength, numNotes, cfg.DMXZones, bins),
	}
	for i := range p.slots {
		p.slots[i] = newImageLine(cfg.LineLength, numNotes, cfg.DMXZones, bins)
	}
	// One fade step per published line; lines arrive at ~1 kHz.
	p.fadeStep = 1.0 / cfg.FreezeResumeMS
	return p
}

// WriteSlot hands the preprocessor the inactive slot to fill.  Must be
// followed by Publish; the preprocessor is the only writer.
func (p *LinePublisher) WriteSlot() *ImageLine {
	p.mu.Lock()
	slot := p.slots[1-p.active]
	p.mu.Unlock()
	return slot
}

// Publish swaps the freshly written slot in.  While frozen, publication
// still happens (the live side keeps advancing) but readers are served the
// frozen snapshot until Resume completes its cross-fade.
func (p *LinePublisher) Publish() {
	p.mu.Lock()
	p.generation++
	p.slots[1-p.active].Generation = p.generation
	p.active = 1 - p.active
	if p.fading {
		p.fade += p.fadeStep
		if p.fade >= 1 {
			p.fading = false
			p.frozen = false
		}
	}
	p.mu.Unlock()
}

// Snapshot copies the currently visible line into dst under the lock.
// While frozen it serves the latch; during a resume fade it serves a linear
// blend between latch and live, which is what eliminates the step a hard
// unfreeze would cause.
func (p *LinePublisher) Snapshot(dst *ImageLine) {
	p.mu.Lock()
	src := p.slots[p.active]
	switch {
	case p.frozen && !p.fading:
		src = p.frozenLine
	case p.frozen && p.fading:
		blendLines(p.fadeBlend, p.frozenLine, p.slots[p.active], float32(p.fade))
		src = p.fadeBlend
	}
	dst.copyFrom(src)
	p.mu.Unlock()
}

// CopyNoteRange copies just the per-note fields for [start,end) into the
// destination slices.  This is the additive dispatcher's single batched
// copy: one lock per buffer, no per-note locking.
func (p *LinePublisher) CopyNoteRange(start, end int, vol, left, right []float32) uint64 {
	p.mu.Lock()
	src := p.slots[p.active]
	switch {
	case p.frozen && !p.fading:
		src = p.frozenLine
	case p.frozen && p.fading:
		blendLines(p.fadeBlend, p.frozenLine, p.slots[p.active], float32(p.fade))
		src = p.fadeBlend
	}
	copy(vol, src.NoteVolume[start:end])
	copy(left, src.LeftGain[start:end])
	copy(right, src.RightGain[start:end])
	gen := src.Generation
	p.mu.Unlock()
	return gen
}

// CopyMagnitudes copies the visible snapshot's smoothed FFT magnitudes,
// returning their validity.  One brief lock; the spectral engine calls this
// once per buffer.
func (p *LinePublisher) CopyMagnitudes(dst []float32) bool {
	p.mu.Lock()
	src := p.slots[p.active]
	switch {
	case p.frozen && !p.fading:
		src = p.frozenLine
	case p.frozen && p.fading:
		blendLines(p.fadeBlend, p.frozenLine, p.slots[p.active], float32(p.fade))
		src = p.fadeBlend
	}
	copy(dst, src.Magnitudes)
	valid := src.FFTValid
	p.mu.Unlock()
	return valid
}

// CopyGrayscale copies the visible snapshot's grayscale line (the wavetable
// engine's source material) under the same brief lock.
func (p *LinePublisher) CopyGrayscale(dst []float32) {
	p.mu.Lock()
	src := p.slots[p.active]
	switch {
	case p.frozen && !p.fading:
		src = p.frozenLine
	case p.frozen && p.fading:
		blendLines(p.fadeBlend, p.frozenLine, p.slots[p.active], float32(p.fade))
		src = p.fadeBlend
	}
	copy(dst, src.Grayscale)
	p.mu.Unlock()
}

// Generation returns the latest published generation counter.
func (p *LinePublisher) Generation() uint64 {
	p.mu.Lock()
	g := p.generation
	p.mu.Unlock()
	return g
}

// Freeze latches the current snapshot.  Idempotent.
func (p *LinePublisher) Freeze() {
	p.mu.Lock()
	if !p.frozen {
		p.frozenLine.copyFrom(p.slots[p.active])
		p.frozen = true
		p.fading = false
		p.fade = 0
	}
	p.mu.Unlock()
}

// Resume starts the cross-fade from the frozen latch back to live data.
func (p *LinePublisher) Resume() {
	p.mu.Lock()
	if p.frozen && !p.fading {
		p.fading = true
		p.fade = 0
	}
	p.mu.Unlock()
}

// Frozen reports whether readers currently see the latch (or a fade of it).
func (p *LinePublisher) Frozen() bool {
	p.mu.Lock()
	f := p.frozen
	p.mu.Unlock()
	return f
}

func blendLines(dst, from, to *ImageLine, t float32) {
	u := 1 - t
	for i := range dst.Grayscale {
		dst.Grayscale[i] = u*from.Grayscale[i] + t*to.Grayscale[i]
	}
	for i := range dst.NoteVolume {
		dst.NoteVolume[i] = u*from.NoteVolume[i] + t*to.NoteVolume[i]
		dst.PanPosition[i] = u*from.PanPosition[i] + t*to.PanPosition[i]
		dst.LeftGain[i] = u*from.LeftGain[i] + t*to.LeftGain[i]
		dst.RightGain[i] = u*from.RightGain[i] + t*to.RightGain[i]
	}
	for i := range dst.Magnitudes {
		dst.Magnitudes[i] = u*from.Magnitudes[i] + t*to.Magnitudes[i]
	}
	for i := range dst.ZoneRGB {
		for c := 0; c < 3; c++ {
			dst.ZoneRGB[i][c] = u*from.ZoneRGB[i][c] + t*to.ZoneRGB[i][c]
		}
	}
	dst.ContrastFactor = u*from.ContrastFactor + t*to.ContrastFactor
	dst.FFTValid = from.FFTValid && to.FFTValid
	dst.TimestampUS = to.TimestampUS
	dst.Generation = to.Generation
}
