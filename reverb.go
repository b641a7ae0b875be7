// reverb.go - Stereo comb/allpass reverb for the master mix

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

// Comb and allpass tunings (samples at 44.1kHz reference; prime-ish lengths
// avoid harmonic stacking).  The right channel runs the same network
// detuned by a fixed spread for width.
var reverbCombTunings = []int{1116, 1188, 1277, 1356, 1422, 1491, 1557, 1617}
var reverbAllpassTunings = []int{556, 441, 341, 225}

const (
	reverbStereoSpread = 23
	reverbAllpassCoef  = 0.5
	reverbFixedGain    = 0.015
	reverbScaleRoom    = 0.28
	reverbOffsetRoom   = 0.7
	reverbScaleDamp    = 0.4
)

type reverbComb struct {
	buf         []float32
	pos         int
	filterStore float32
}

func (c *reverbComb) process(in, feedback, damp1, damp2 float32) float32 {
	out := c.buf[c.pos]
	c.filterStore = out*damp2 + c.filterStore*damp1
	c.buf[c.pos] = in + c.filterStore*feedback
	c.pos++
	if c.pos >= len(c.buf) {
		c.pos = 0
	}
	return out
}

func (c *reverbComb) clear() {
	for i := range c.buf {
		c.buf[i] = 0
	}
	c.filterStore = 0
}

type reverbAllpass struct {
	buf []float32
	pos int
}

func (a *reverbAllpass) process(in float32) float32 {
	bufout := a.buf[a.pos]
	a.buf[a.pos] = in + bufout*reverbAllpassCoef
	a.pos++
	if a.pos >= len(a.buf) {
		a.pos = 0
	}
	return bufout - in
}

func (a *reverbAllpass) clear() {
	for i := range a.buf {
		a.buf[i] = 0
	}
}

// Reverb is the master send effect.  It receives the summed reverb input
// and returns ONLY the wet signal, already scaled by the mix parameter;
// the mixer adds dry and wet itself.
type Reverb struct {
	combL, combR []reverbComb
	apL, apR     []reverbAllpass
}

func NewReverb(sampleRate int) *Reverb {
	// Tunings scale with the sample rate so decay times stay put.
	scale := float64(sampleRate) / 44100.0
	r := &Reverb{}
	for _, t := range reverbCombTunings {
		r.combL = append(r.combL, reverbComb{buf: make([]float32, scaledLen(t, scale))})
		r.combR = append(r.combR, reverbComb{buf: make([]float32, scaledLen(t+reverbStereoSpread, scale))})
	}
	for _, t := range reverbAllpassTunings {
		r.apL = append(r.apL, reverbAllpass{buf: make([]float32, scaledLen(t, scale))})
		r.apR = append(r.apR, reverbAllpass{buf: make([]float32, scaledLen(t+reverbStereoSpread, scale))})
	}
	return r
}

func scaledLen(n int, scale float64) int {
	v := int(float64(n) * scale)
	if v < 1 {
		v = 1
	}
	return v
}

// Clear flushes every delay line; used when all sends drop to zero so no
// ghost tail survives the next time the reverb is fed.
func (r *Reverb) Clear() {
	for i := range r.combL {
		r.combL[i].clear()
		r.combR[i].clear()
	}
	for i := range r.apL {
		r.apL[i].clear()
		r.apR[i].clear()
	}
}

// Process renders the wet signal for one buffer.  inL/inR are the summed
// post-volume, post-send engine signals; wetL/wetR receive wet only.
func (r *Reverb) Process(inL, inR, wetL, wetR []float32, mix, size, damp, width float32) {
	feedback := reverbOffsetRoom + size*reverbScaleRoom
	damp1 := damp * reverbScaleDamp
	damp2 := 1 - damp1

	wet1 := mix * (width/2 + 0.5)
	wet2 := mix * ((1 - width) / 2)

	for i := range inL {
		input := (inL[i] + inR[i]) * reverbFixedGain

		var outL, outR float32
		for c := range r.combL {
			outL += r.combL[c].process(input, feedback, damp1, damp2)
			outR += r.combR[c].process(input, feedback, damp1, damp2)
		}
		for a := range r.apL {
			outL = r.apL[a].process(outL)
			outR = r.apR[a].process(outR)
		}

		wetL[i] = outL*wet1 + outR*wet2
		wetR[i] = outR*wet1 + outL*wet2
	}
}
