// eq.go - Three-band master EQ (low shelf, mid peak, high shelf)

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import "math"

// Shelf corner frequencies; the mid band center comes from config/MIDI.
const (
	eqLowShelfFreq  = 250.0
	eqHighShelfFreq = 4000.0
	eqMidQ          = 0.707
	eqShelfSlope    = 1.0
	eqMinGain       = 0.01 // a zero gain parameter clamps to -40 dB
)

type biquadCoefs struct {
	b0, b1, b2, a1, a2 float32
}

type biquadState struct {
	x1, x2, y1, y2 float32
}

func (s *biquadState) process(c *biquadCoefs, x float32) float32 {
	y := c.b0*x + c.b1*s.x1 + c.b2*s.x2 - c.a1*s.y1 - c.a2*s.y2
	s.x2 = s.x1
	s.x1 = x
	s.y2 = s.y1
	s.y1 = y
	return y
}

// StereoEQ runs three cascaded biquads per channel.  Coefficients are
// redesigned only when a parameter actually changed (buffer rate), the
// per-sample path is pure arithmetic.
type StereoEQ struct {
	sampleRate float64

	lowCoefs, midCoefs, highCoefs biquadCoefs
	lowL, lowR                    biquadState
	midL, midR                    biquadState
	highL, highR                  biquadState

	cachedLow, cachedMid, cachedHigh, cachedMidFreq float32
	designed                                        bool
}

func NewStereoEQ(sampleRate int) *StereoEQ {
	return &StereoEQ{sampleRate: float64(sampleRate)}
}

// Update redesigns the filters if any band parameter moved.  Gains are
// linear multipliers in [0,4].
func (eq *StereoEQ) Update(lowGain, midGain, highGain, midFreq float32) {
	if eq.designed && lowGain == eq.cachedLow && midGain == eq.cachedMid &&
		highGain == eq.cachedHigh && midFreq == eq.cachedMidFreq {
		return
	}
	eq.cachedLow = lowGain
	eq.cachedMid = midGain
	eq.cachedHigh = highGain
	eq.cachedMidFreq = midFreq
	eq.designed = true

	eq.lowCoefs = designLowShelf(eq.sampleRate, eqLowShelfFreq, linearToDB(lowGain))
	eq.midCoefs = designPeaking(eq.sampleRate, float64(midFreq), eqMidQ, linearToDB(midGain))
	eq.highCoefs = designHighShelf(eq.sampleRate, eqHighShelfFreq, linearToDB(highGain))
}

// ProcessBuffer filters both channels in place.
func (eq *StereoEQ) ProcessBuffer(left, right []float32) {
	for i := range left {
		l := eq.lowL.process(&eq.lowCoefs, left[i])
		l = eq.midL.process(&eq.midCoefs, l)
		left[i] = eq.highL.process(&eq.highCoefs, l)

		r := eq.lowR.process(&eq.lowCoefs, right[i])
		r = eq.midR.process(&eq.midCoefs, r)
		right[i] = eq.highR.process(&eq.highCoefs, r)
	}
}

// Clear resets the filter memories.
func (eq *StereoEQ) Clear() {
	eq.lowL, eq.lowR = biquadState{}, biquadState{}
	eq.midL, eq.midR = biquadState{}, biquadState{}
	eq.highL, eq.highR = biquadState{}, biquadState{}
}

func linearToDB(g float32) float64 {
	if g < eqMinGain {
		g = eqMinGain
	}
	return 20 * math.Log10(float64(g))
}

// The designs below are the standard audio-EQ-cookbook forms, normalized
// by a0.

func designPeaking(sr, freq, q, gainDB float64) biquadCoefs {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sr
	alpha := math.Sin(w0) / (2 * q)
	cosw := math.Cos(w0)

	b0 := 1 + alpha*a
	b1 := -2 * cosw
	b2 := 1 - alpha*a
	a0 := 1 + alpha/a
	a1 := -2 * cosw
	a2 := 1 - alpha/a
	return normalizeCoefs(b0, b1, b2, a0, a1, a2)
}

func designLowShelf(sr, freq, gainDB float64) biquadCoefs {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sr
	cosw := math.Cos(w0)
	alpha := math.Sin(w0) / 2 * math.Sqrt((a+1/a)*(1/eqShelfSlope-1)+2)
	sq := 2 * math.Sqrt(a) * alpha

	b0 := a * ((a + 1) - (a-1)*cosw + sq)
	b1 := 2 * a * ((a - 1) - (a+1)*cosw)
	b2 := a * ((a + 1) - (a-1)*cosw - sq)
	a0 := (a + 1) + (a-1)*cosw + sq
	a1 := -2 * ((a - 1) + (a+1)*cosw)
	a2 := (a + 1) + (a-1)*cosw - sq
	return normalizeCoefs(b0, b1, b2, a0, a1, a2)
}

func designHighShelf(sr, freq, gainDB float64) biquadCoefs {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sr
	cosw := math.Cos(w0)
	alpha := math.Sin(w0) / 2 * math.Sqrt((a+1/a)*(1/eqShelfSlope-1)+2)
	sq := 2 * math.Sqrt(a) * alpha

	b0 := a * ((a + 1) + (a-1)*cosw + sq)
	b1 := -2 * a * ((a - 1) + (a+1)*cosw)
	b2 := a * ((a + 1) + (a-1)*cosw - sq)
	a0 := (a + 1) - (a-1)*cosw + sq
	a1 := 2 * ((a - 1) - (a+1)*cosw)
	a2 := (a + 1) - (a-1)*cosw - sq
	return normalizeCoefs(b0, b1, b2, a0, a1, a2)
}

func normalizeCoefs(b0, b1, b2, a0, a1, a2 float64) biquadCoefs {
	return biquadCoefs{
		b0: float32(b0 / a0),
		b1: float32(b1 / a0),
		b2: float32(b2 / a0),
		a1: float32(a1 / a0),
		a2: float32(a2 / a0),
	}
}
