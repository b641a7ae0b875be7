// synth_additive.go - Multi-worker additive synthesis from the image line

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
)

// Worker pool bounds: cores minus one, clamped.
const maxAdditiveWorkers = 8

// The gap limiter reaches ~99% of a volume step within one buffer; this is
// the time constant count that achieves that for a one-pole step.
const rampTimeConstants = 5.0

// Notes whose tuned frequency lands above this fraction of the sample rate
// are muted rather than aliased.
const nyquistGuard = 0.45

type additiveNoteState struct {
	phase     float64
	phaseInc  float64
	curWeight float32
	curLeft   float32
	curRight  float32
}

type additiveWorker struct {
	start, end int

	// Thread-local output and per-note scratch.  Only this worker touches
	// them between the start and end barriers.
	accL, accR []float32
	wave       []float32
	weight     []float32
	gainL      []float32
	gainR      []float32
}

// AdditiveEngine sums one tuned sinusoid per image-line note, weighted by
// the note's preprocessed volume and panned by its color temperature.
// A dispatcher thread builds one buffer at a time: a single locked copy of
// the per-note snapshot fields, a barrier release, parallel rendering into
// worker-local accumulators, a barrier join, and a summed publish into the
// engine's SPSC ring.
type AdditiveEngine struct {
	cfg    *Config
	params *EngineParams
	pub    *LinePublisher
	ring   *BufferRing
	rtlog  *RTLogQueue

	notes   []additiveNoteState
	workers []*additiveWorker

	// Per-buffer targets, written by the dispatcher under the snapshot
	// lock, read-only for the workers during rendering.
	targetVol    []float32
	targetL      []float32
	targetR      []float32
	targetWeight []float32

	rampAlpha float32
	noteScale float32

	startBarrier *Barrier
	endBarrier   *Barrier

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewAdditiveEngine(cfg *Config, params *EngineParams, pub *LinePublisher, ring *BufferRing, rtlog *RTLogQueue) *AdditiveEngine {
	numNotes := cfg.NumNotes()
	numWorkers := runtime.NumCPU() - 1
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > maxAdditiveWorkers {
		numWorkers = maxAdditiveWorkers
	}
	if numWorkers > numNotes {
		numWorkers = numNotes
	}

	e := &AdditiveEngine{
		cfg:          cfg,
		params:       params,
		pub:          pub,
		ring:         ring,
		rtlog:        rtlog,
		notes:        make([]additiveNoteState, numNotes),
		targetVol:    make([]float32, numNotes),
		targetL:      make([]float32, numNotes),
		targetR:      make([]float32, numNotes),
		targetWeight: make([]float32, numNotes),
		rampAlpha:    float32(1 - math.Exp(-rampTimeConstants/float64(cfg.BufferSize))),
		noteScale:    float32(1 / math.Sqrt(float64(numNotes))),
		startBarrier: NewBarrier(numWorkers + 1),
		endBarrier:   NewBarrier(numWorkers + 1),
	}

	// Micro-tonal tuning grid.
	divisions := float64(cfg.SemitonesPerOctave * cfg.CommasPerSemitone)
	sr := float64(cfg.SampleRate)
	for n := range e.notes {
		freq := cfg.StartFrequency * math.Pow(2, float64(n)/divisions)
		if freq < sr*nyquistGuard {
			e.notes[n].phaseInc = freq / sr
		}
		center := float32(math.Sqrt2 / 2)
		e.notes[n].curLeft = center
		e.notes[n].curRight = center
	}

	// Contiguous note ranges per worker.
	frames := cfg.BufferSize
	per := (numNotes + numWorkers - 1) / numWorkers
	for start := 0; start < numNotes; start += per {
		end := start + per
		if end > numNotes {
			end = numNotes
		}
		e.workers = append(e.workers, &additiveWorker{
			start:  start,
			end:    end,
			accL:   make([]float32, frames),
			accR:   make([]float32, frames),
			wave:   make([]float32, frames),
			weight: make([]float32, frames),
			gainL:  make([]float32, frames),
			gainR:  make([]float32, frames),
		})
	}
	// The barriers were sized for the ideal worker count; resize if the
	// range split produced fewer.
	if len(e.workers) != numWorkers {
		e.startBarrier = NewBarrier(len(e.workers) + 1)
		e.endBarrier = NewBarrier(len(e.workers) + 1)
	}
	return e
}

// NoteFrequency exposes the tuning grid (used by tests and diagnostics).
func (e *AdditiveEngine) NoteFrequency(n int) float64 {
	divisions := float64(e.cfg.SemitonesPerOctave * e.cfg.CommasPerSemitone)
	return e.cfg.StartFrequency * math.Pow(2, float64(n)/divisions)
}

// Start launches the worker pool and the dispatcher thread.
func (e *AdditiveEngine) Start() {
	e.running.Store(true)
	for _, w := range e.workers {
		w := w
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.workerLoop(w)
		}()
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchLoop()
	}()
}

// Stop signals shutdown and joins every thread.
func (e *AdditiveEngine) Stop() {
	e.running.Store(false)
	e.wg.Wait()
}

func (e *AdditiveEngine) workerLoop(w *additiveWorker) {
	lockAndElevate(SCHED_PRIO_WORKER)
	for {
		e.startBarrier.Wait()
		if !e.running.Load() {
			return
		}
		e.renderRange(w)
		e.endBarrier.Wait()
	}
}

func (e *AdditiveEngine) dispatchLoop() {
	lockAndElevate(SCHED_PRIO_WORKER)
	defer func() {
		// Release the workers one last time so they observe the cleared
		// running flag and exit.
		e.startBarrier.Wait()
	}()
	for e.running.Load() {
		slot, waited := e.ring.ProducerSlot()
		if slot == nil {
			e.rtlog.Push(rtLogRingTimeout, ENGINE_ADDITIVE, waited)
			continue
		}
		if !e.running.Load() {
			return
		}

		// The one lock of the per-buffer protocol: a single batched copy
		// of every worker's note range.
		e.pub.CopyNoteRange(0, len(e.notes), e.targetVol, e.targetL, e.targetR)

		exponent := float64(e.params.WeightingExponent.Load())
		for n, v := range e.targetVol {
			e.targetWeight[n] = float32(math.Pow(float64(v), exponent))
		}

		e.startBarrier.Wait()
		// Workers render their disjoint ranges here.
		e.endBarrier.Wait()

		fillF32(slot.left, 0)
		fillF32(slot.right, 0)
		for _, w := range e.workers {
			addTo(slot.left, w.accL)
			addTo(slot.right, w.accR)
		}
		scaleF32(slot.left, e.noteScale)
		scaleF32(slot.right, e.noteScale)
		e.ring.ProducerPublish()
	}
}

func (e *AdditiveEngine) renderRange(w *additiveWorker) {
	fillF32(w.accL, 0)
	fillF32(w.accR, 0)
	phaseAware := e.params.PhaseAware.Load()

	for n := w.start; n < w.end; n++ {
		st := &e.notes[n]
		if st.phaseInc == 0 {
			continue
		}
		target := e.targetWeight[n]
		if target == 0 && st.curWeight < ENV_IDLE_THRESHOLD &&
			st.curLeft == e.targetL[n] && st.curRight == e.targetR[n] {
			st.curWeight = 0
			continue
		}

		// Resample the precomputed waveform at this note's increment.
		phase := st.phase
		inc := st.phaseInc
		for i := range w.wave {
			w.wave[i] = lutSine(phase)
			phase += inc
			if phase >= 1 {
				phase--
			}
		}
		st.phase = phase

		// Gap limiter: the volume steps toward its target across the
		// buffer instead of jumping, which is what keeps a 1 kHz
		// black/white flicker from clicking.
		st.curWeight = gapLimiterRamp(w.weight, st.curWeight, target, e.rampAlpha, phaseAware, w.wave)

		// Equal-power pan ramp, linear across the buffer.
		linRamp(w.gainL, st.curLeft, e.targetL[n])
		linRamp(w.gainR, st.curRight, e.targetR[n])
		st.curLeft = e.targetL[n]
		st.curRight = e.targetR[n]

		panAccumulate(w.accL, w.accR, w.wave, w.weight, w.gainL, w.gainR)
	}
}
