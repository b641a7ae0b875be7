// audio_lut.go - Sine lookup table shared by the synthesis engines

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import "math"

const (
	sinLUTSize = 8192           // ~0.00077 radian resolution
	sinLUTMask = sinLUTSize - 1 // fast modulo
)

const TWO_PI = 2 * math.Pi

// sinLUT holds one cycle of sine for normalized phase [0,1).
var sinLUT [sinLUTSize]float32

func init() {
	for i := 0; i < sinLUTSize; i++ {
		sinLUT[i] = float32(math.Sin(2 * math.Pi * float64(i) / float64(sinLUTSize)))
	}
}

// lutSine returns sin(2*pi*phase) for normalized phase, with linear
// interpolation between adjacent table entries.  Phase outside [0,1) is
// wrapped.
//
//go:nosplit
func lutSine(phase float64) float32 {
	phase -= math.Floor(phase)
	indexF := phase * sinLUTSize
	index := int(indexF)
	frac := float32(indexF - float64(index))
	index &= sinLUTMask
	next := (index + 1) & sinLUTMask
	return sinLUT[index] + frac*(sinLUT[next]-sinLUT[index])
}
