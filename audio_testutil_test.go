// audio_testutil_test.go - Shared helpers for the signal tests

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"math"
	"testing"
	"time"
)

// collectRing drains the given number of left-channel samples from a ring
// while its engine runs, failing the test on stall.
func collectRing(t *testing.T, ring *BufferRing, samples int) (left, right []float32) {
	t.Helper()
	left = make([]float32, 0, samples)
	right = make([]float32, 0, samples)
	deadline := time.Now().Add(20 * time.Second)
	for len(left) < samples {
		slot := ring.ConsumerSlot()
		if slot == nil {
			if time.Now().After(deadline) {
				t.Fatalf("engine stalled with %d/%d samples collected", len(left), samples)
			}
			time.Sleep(50 * time.Microsecond)
			continue
		}
		left = append(left, slot.left...)
		right = append(right, slot.right...)
		ring.ConsumerRelease(true)
	}
	return left, right
}

// measureFrequency estimates the dominant frequency from interpolated
// upward zero crossings.  Accurate to well under 0.1 Hz on a clean tone a
// second long.
func measureFrequency(samples []float32, sampleRate float64) float64 {
	var firstCross, lastCross float64
	count := 0
	for i := 1; i < len(samples); i++ {
		if samples[i-1] < 0 && samples[i] >= 0 {
			frac := float64(-samples[i-1]) / float64(samples[i]-samples[i-1])
			cross := float64(i-1) + frac
			if count == 0 {
				firstCross = cross
			}
			lastCross = cross
			count++
		}
	}
	if count < 2 {
		return 0
	}
	return float64(count-1) * sampleRate / (lastCross - firstCross)
}

func peakAbs(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s > peak {
			peak = s
		} else if -s > peak {
			peak = -s
		}
	}
	return peak
}

func rmsEnergy(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	if len(samples) == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func maxSampleStep(samples []float32) float32 {
	var maxStep float32
	for i := 1; i < len(samples); i++ {
		step := samples[i] - samples[i-1]
		if step < 0 {
			step = -step
		}
		if step > maxStep {
			maxStep = step
		}
	}
	return maxStep
}
