// synth_wavetable.go - Image line as a single-cycle wavetable

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
	"time"
)

// Largest blur kernel radius in pixels at blur_amount = 1.
const maxBlurRadius = 64

// How often the line-update thread refreshes from the publisher.
const lineUpdatePeriod = time.Millisecond

// Highest playable wavetable pitch.
const wavetableMaxFreq = 12000.0

type lineBuffer struct {
	data []float32
}

type wavetableVoice struct {
	VoiceCore
	phase   float64 // [0,1), or [0,2) in ping-pong
	freq    float64
	velGain float32
}

// WavetableEngine plays the current image line as a one-cycle waveform.
// A non-RT thread copies the latest grayscale into a spare buffer,
// recenters it around zero, applies the circular moving-average blur and
// swaps an atomic pointer; the audio thread only ever follows pointers, so
// it never waits on the producer at all (the buffers rotate through three
// slots, skipping whichever one the audio thread last pinned).
type WavetableEngine struct {
	cfg    *Config
	params *EngineParams
	pub    *LinePublisher
	ring   *BufferRing
	rtlog  *RTLogQueue

	voices []*wavetableVoice
	cores  []*VoiceCore
	order  atomic.Uint64
	events noteEventQueue

	lines      [3]*lineBuffer
	active     atomic.Pointer[lineBuffer]
	readerLine atomic.Pointer[lineBuffer]
	rawLine    []float32
	lastGen    uint64
	lastBlur   float32

	fMin, fMax float64
	voiceGain  float32

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewWavetableEngine(cfg *Config, params *EngineParams, pub *LinePublisher, ring *BufferRing, rtlog *RTLogQueue) *WavetableEngine {
	e := &WavetableEngine{
		cfg:       cfg,
		params:    params,
		pub:       pub,
		ring:      ring,
		rtlog:     rtlog,
		rawLine:   make([]float32, cfg.LineLength),
		fMin:      float64(cfg.SampleRate) / float64(cfg.LineLength),
		fMax:      wavetableMaxFreq,
		voiceGain: float32(1 / math.Sqrt(float64(cfg.NumVoicesWavetable))),
	}
	for i := range e.lines {
		e.lines[i] = &lineBuffer{data: make([]float32, cfg.LineLength)}
	}
	e.active.Store(e.lines[0])
	for i := 0; i < cfg.NumVoicesWavetable; i++ {
		v := &wavetableVoice{}
		v.VolumeEnv.Configure(cfg.VolumeEnv, cfg.SampleRate)
		v.FilterEnv.Configure(cfg.FilterEnv, cfg.SampleRate)
		e.voices = append(e.voices, v)
		e.cores = append(e.cores, &v.VoiceCore)
	}
	return e
}

// NoteFrequency maps MIDI note 0..127 exponentially between f_min and f_max.
func (e *WavetableEngine) NoteFrequency(note uint8) float64 {
	t := float64(note) / 127
	return math.Exp(math.Log(e.fMin) + t*math.Log(e.fMax/e.fMin))
}

func (e *WavetableEngine) NoteOn(note, velocity uint8) {
	e.events.push(noteEvent{on: true, note: note, velocity: velocity})
}

func (e *WavetableEngine) NoteOff(note uint8) {
	e.events.push(noteEvent{on: false, note: note})
}

func (e *WavetableEngine) Start() {
	e.running.Store(true)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.lineUpdateLoop()
	}()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run()
	}()
}

func (e *WavetableEngine) Stop() {
	e.running.Store(false)
	e.wg.Wait()
}

// ------------------------------------------------------------------------------
// Line update thread (non-RT)
// ------------------------------------------------------------------------------

func (e *WavetableEngine) lineUpdateLoop() {
	tick := time.NewTicker(lineUpdatePeriod)
	defer tick.Stop()
	for e.running.Load() {
		<-tick.C
		gen := e.pub.Generation()
		blur := e.params.WTBlurAmount.Load()
		if gen == e.lastGen && blur == e.lastBlur {
			continue
		}
		e.lastGen = gen
		e.lastBlur = blur
		e.refreshLine(blur)
	}
}

func (e *WavetableEngine) refreshLine(blur float32) {
	e.pub.CopyGrayscale(e.rawLine)

	target := e.spareLine()
	radius := int(math.Round(float64(blur) * maxBlurRadius))
	if radius <= 0 {
		for i, v := range e.rawLine {
			target.data[i] = v*2 - 1 // recenter around zero
		}
	} else {
		blurCircular(target.data, e.rawLine, radius)
	}
	e.active.Store(target)
}

// spareLine picks a rotation slot that is neither published nor pinned by
// the audio thread.
func (e *WavetableEngine) spareLine() *lineBuffer {
	act := e.active.Load()
	rd := e.readerLine.Load()
	for _, l := range e.lines {
		if l != act && l != rd {
			return l
		}
	}
	return e.lines[0] // unreachable with three slots
}

// blurCircular writes the recentered moving average of src into dst with
// circular wrap.  Runs on the non-RT thread only.
func blurCircular(dst, src []float32, radius int) {
	n := len(src)
	if radius >= n/2 {
		radius = n/2 - 1
	}
	window := float32(2*radius + 1)
	var sum float32
	for i := -radius; i <= radius; i++ {
		sum += src[wrapIndex(i, n)]
	}
	for i := 0; i < n; i++ {
		dst[i] = (sum/window)*2 - 1
		sum += src[wrapIndex(i+radius+1, n)] - src[wrapIndex(i-radius, n)]
	}
}

func wrapIndex(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// ------------------------------------------------------------------------------
// Audio thread
// ------------------------------------------------------------------------------

func (e *WavetableEngine) run() {
	lockAndElevate(SCHED_PRIO_ENGINE)
	for e.running.Load() {
		slot, waited := e.ring.ProducerSlot()
		if slot == nil {
			e.rtlog.Push(rtLogRingTimeout, ENGINE_WAVETABLE, waited)
			continue
		}
		if !e.running.Load() {
			return
		}
		e.drainEvents()
		e.renderBuffer(slot.left, slot.right)
		e.ring.ProducerPublish()
	}
}

func (e *WavetableEngine) drainEvents() {
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

func (e *WavetableEngine) noteOn(note, velocity uint8) {
	idx, stolen := allocateVoice(e.cores)
	if stolen {
		e.rtlog.Push(rtLogVoiceSteal, ENGINE_WAVETABLE, int64(note))
	}
	v := e.voices[idx]
	triggerVoice(&v.VoiceCore, note, velocity, &e.order)
	v.freq = e.NoteFrequency(note)
	v.velGain = float32(velocity) / 127
	v.phase = 0
}

func (e *WavetableEngine) renderBuffer(left, right []float32) {
	fillF32(left, 0)
	fillF32(right, 0)

	line := e.active.Load()
	e.readerLine.Store(line)
	data := line.data
	n := len(data)

	scanMode := int(e.params.WTScanMode.Load())
	interpMode := int(e.params.WTInterpMode.Load())
	amp := e.params.WTAmplitude.Load() * e.voiceGain
	bend := math.Pow(2, float64(e.params.PitchBend.Load())/12)
	sr := float64(e.cfg.SampleRate)

	period := 1.0
	if scanMode == SCAN_PINGPONG {
		period = 2.0
	}

	for _, v := range e.voices {
		if !v.Active() {
			continue
		}
		inc := v.freq * bend / sr
		gain := amp * v.velGain
		phase := v.phase

		for i := range left {
			vol := v.VolumeEnv.Process()
			v.FilterEnv.Process()

			pos := scanPosition(phase, scanMode, n)
			var y float32
			if interpMode == INTERP_CUBIC {
				y = sampleCubic(data, pos)
			} else {
				y = sampleLinear(data, pos)
			}

			out := y * vol * gain
			left[i] += out
			right[i] += out

			phase += inc
			if phase >= period {
				phase -= period
			}
		}
		v.phase = phase
	}
}

// scanPosition maps the voice phase onto a fractional line position for the
// configured scan mode.
func scanPosition(phase float64, mode, n int) float64 {
	fn := float64(n)
	switch mode {
	case SCAN_RL:
		return (1 - phase) * fn
	case SCAN_PINGPONG:
		// Mirror across [0, L-1] rather than wrapping, so the reversal at
		// the line's far end is continuous.
		if phase < 1 {
			return phase * (fn - 1)
		}
		return (2 - phase) * (fn - 1)
	default: // SCAN_LR
		return phase * fn
	}
}

// sampleLinear reads the line at fractional position p with modulo wrap.
func sampleLinear(line []float32, p float64) float32 {
	n := len(line)
	i := int(math.Floor(p))
	frac := float32(p - math.Floor(p))
	i0 := wrapIndex(i, n)
	i1 := wrapIndex(i+1, n)
	return (1-frac)*line[i0] + frac*line[i1]
}

// sampleCubic reads the line with Catmull-Rom interpolation over the four
// samples around p, wrapping modulo the line length.
func sampleCubic(line []float32, p float64) float32 {
	n := len(line)
	i := int(math.Floor(p))
	t := float32(p - math.Floor(p))
	y0 := line[wrapIndex(i-1, n)]
	y1 := line[wrapIndex(i, n)]
	y2 := line[wrapIndex(i+1, n)]
	y3 := line[wrapIndex(i+2, n)]

	a := 2*y1 - 2*y2 + (y2-y0)*0.5 + (y3-y1)*0.5
	b := -3*y1 + 3*y2 - (y2-y0) - (y3-y1)*0.5
	c := (y2 - y0) * 0.5
	return ((a*t+b)*t+c)*t + y1
}
