// audio_backend_headless.go - Deviceless output for tests and CI

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"sync"
	"sync/atomic"
	"time"
)

// HeadlessOutput consumes the mixer at wall-clock rate without a device.
// Tests can also drive it manually with Pump.
type HeadlessOutput struct {
	mixer   *Mixer
	out     []float32
	running atomic.Bool
	wg      sync.WaitGroup
	period  time.Duration
}

func NewHeadlessOutput(cfg *Config, mixer *Mixer) *HeadlessOutput {
	return &HeadlessOutput{
		mixer:  mixer,
		out:    make([]float32, mixer.Frames()*2),
		period: time.Duration(cfg.BufferSize) * time.Second / time.Duration(cfg.SampleRate),
	}
}

// Pump renders n callbacks synchronously and returns the last buffer.
func (h *HeadlessOutput) Pump(n int) []float32 {
	for i := 0; i < n; i++ {
		h.mixer.Render(h.out, 2)
	}
	return h.out
}

func (h *HeadlessOutput) Start() error {
	if h.running.Swap(true) {
		return nil
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		tick := time.NewTicker(h.period)
		defer tick.Stop()
		for h.running.Load() {
			<-tick.C
			h.mixer.Render(h.out, 2)
		}
	}()
	return nil
}

func (h *HeadlessOutput) Stop() {
	if h.running.Swap(false) {
		h.wg.Wait()
	}
}

func (h *HeadlessOutput) Close() {
	h.Stop()
}
