// synth_voice.go - Shared voice pool, ADSR envelopes and Note-Off matching

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"math"
	"sync/atomic"
)

// ------------------------------------------------------------------------------
// Envelope state machine
// ------------------------------------------------------------------------------
const (
	ENV_IDLE = iota
	ENV_ATTACK
	ENV_DECAY
	ENV_SUSTAIN
	ENV_RELEASE
)

// Below this level a releasing envelope counts as finished.
const ENV_IDLE_THRESHOLD = 1e-4

// Attack overshoot target: aiming slightly above 1.0 lets the exponential
// segment actually reach full level instead of approaching it forever.
const envAttackTarget = 1.2

// ADSR is one exponential-segment envelope.  All coefficients are
// precomputed at configure time; Process is allocation- and branch-light.
type ADSR struct {
	State int
	Level float32

	sustain     float32
	attackCoef  float32
	decayCoef   float32
	releaseCoef float32
}

// Exponential time constants per segment, chosen so each segment finishes
// (crosses its completion threshold) at its configured time rather than
// merely approaching it.
const (
	envAttackConstants  = 1.7918 // ln(1.2/0.2): attack hits 1.0 with the overshoot target
	envDecayConstants   = 6.9078 // ln(1e3): decay lands inside the snap window
	envReleaseConstants = 9.2103 // ln(1e4): release crosses the idle threshold
)

// envCoef converts a segment time in seconds to a per-sample one-pole
// coefficient completing in that time.  Zero time snaps immediately.
func envCoef(seconds, constants float64, sampleRate int) float32 {
	if seconds <= 0 {
		return 1
	}
	return float32(1 - math.Exp(-constants/(seconds*float64(sampleRate))))
}

func (e *ADSR) Configure(times EnvTimes, sampleRate int) {
	e.sustain = float32(times.Sustain)
	e.attackCoef = envCoef(times.Attack, envAttackConstants, sampleRate)
	e.decayCoef = envCoef(times.Decay, envDecayConstants, sampleRate)
	e.releaseCoef = envCoef(times.Release, envReleaseConstants, sampleRate)
}

// Trigger starts (or retriggers) the attack from the current level, which
// avoids clicks when a sounding voice is stolen.
func (e *ADSR) Trigger() {
	e.State = ENV_ATTACK
}

// Release moves any non-idle state to RELEASE.
func (e *ADSR) Release() {
	if e.State != ENV_IDLE {
		e.State = ENV_RELEASE
	}
}

// Reset forces the envelope silent.
func (e *ADSR) Reset() {
	e.State = ENV_IDLE
	e.Level = 0
}

// Process advances one sample and returns the new level.
func (e *ADSR) Process() float32 {
	switch e.State {
	case ENV_ATTACK:
		e.Level += e.attackCoef * (envAttackTarget - e.Level)
		if e.Level >= 1 {
			e.Level = 1
			e.State = ENV_DECAY
		}
	case ENV_DECAY:
		e.Level += e.decayCoef * (e.sustain - e.Level)
		if diff := e.Level - e.sustain; diff < 1e-3 && diff > -1e-3 {
			e.Level = e.sustain
			e.State = ENV_SUSTAIN
		}
	case ENV_SUSTAIN:
		// Held until Release.
	case ENV_RELEASE:
		e.Level -= e.releaseCoef * e.Level
		if e.Level < ENV_IDLE_THRESHOLD {
			e.Level = 0
			e.State = ENV_IDLE
		}
	}
	return e.Level
}

// ------------------------------------------------------------------------------
// Voice core
// ------------------------------------------------------------------------------

// VoiceCore is the schema shared by the spectral and wavetable engines.
// MidiNote is retained through RELEASE and IDLE until the matching Note Off
// is processed, which is what makes duplicate and late Note Offs silent.
type VoiceCore struct {
	MidiNote  uint8 // 0 when unassigned
	Velocity  uint8
	Order     uint64
	VolumeEnv ADSR
	FilterEnv ADSR
}

// Active reports whether the voice belongs in the audio mix.
func (v *VoiceCore) Active() bool {
	return v.VolumeEnv.State != ENV_IDLE
}

func (v *VoiceCore) sounding() bool {
	s := v.VolumeEnv.State
	return s == ENV_ATTACK || s == ENV_DECAY || s == ENV_SUSTAIN
}

// allocateVoice picks a slot for a new Note On: any idle voice first,
// otherwise the oldest non-idle one (voice stealing always succeeds).
// Returns the chosen index and whether an active voice was stolen.
func allocateVoice(cores []*VoiceCore) (int, bool) {
	for i, v := range cores {
		if !v.Active() {
			return i, false
		}
	}
	oldest := 0
	for i := range cores {
		if cores[i].Order < cores[oldest].Order {
			oldest = i
		}
	}
	return oldest, true
}

// triggerVoice initializes the chosen core for a Note On.
func triggerVoice(v *VoiceCore, note, velocity uint8, orderCounter *atomic.Uint64) {
	v.MidiNote = note
	v.Velocity = velocity
	v.Order = orderCounter.Add(1)
	v.VolumeEnv.Trigger()
	v.FilterEnv.Trigger()
}

// Note-off match outcomes, in priority order.
const (
	NOTEOFF_RELEASED = iota // an active voice was sent to RELEASE
	NOTEOFF_DUPLICATE       // voice already releasing; silently acknowledged
	NOTEOFF_LATE            // idle voice still holding the note; note cleared
	NOTEOFF_UNMATCHED       // nothing matched; not an error
)

// matchNoteOff implements the mandatory three-tier search:
//
//  1. Active voices (ATTACK/DECAY/SUSTAIN) holding the note - release the
//     oldest.  MidiNote stays set so later duplicates still match tier 2.
//  2. Releasing voices holding the note - duplicate Note Off, acknowledge
//     silently, keep MidiNote for any further duplicate.
//  3. Idle voices still holding the note - very late Note Off, clear it.
//
// Anything else is silently ignored.  Envelope completion never clears
// MidiNote; only this function does.
func matchNoteOff(cores []*VoiceCore, note uint8) (int, int) {
	best := -1
	for i, v := range cores {
		if v.MidiNote == note && v.sounding() {
			if best < 0 || v.Order < cores[best].Order {
				best = i
			}
		}
	}
	if best >= 0 {
		cores[best].VolumeEnv.Release()
		cores[best].FilterEnv.Release()
		return NOTEOFF_RELEASED, best
	}

	for i, v := range cores {
		if v.MidiNote == note && v.VolumeEnv.State == ENV_RELEASE {
			return NOTEOFF_DUPLICATE, i
		}
	}

	for i, v := range cores {
		if v.MidiNote == note && !v.Active() {
			v.MidiNote = 0
			return NOTEOFF_LATE, i
		}
	}

	return NOTEOFF_UNMATCHED, -1
}

// ------------------------------------------------------------------------------
// Note intent queue.  The MIDI thread produces, the engine thread consumes
// at the top of each buffer.  Fixed capacity, no locks, SPSC.
// ------------------------------------------------------------------------------

const noteQueueCapacity = 128 // power of two

type noteEvent struct {
	on       bool
	note     uint8
	velocity uint8
}

type noteEventQueue struct {
	events [noteQueueCapacity]noteEvent
	head   atomic.Uint64 // producer writes
	tail   atomic.Uint64 // consumer writes
}

// push enqueues an event; a full queue drops the oldest pressure by
// rejecting the new event (bounded behavior, caller does not block).
func (q *noteEventQueue) push(ev noteEvent) bool {
	head := q.head.Load()
	if head-q.tail.Load() >= noteQueueCapacity {
		return false
	}
	q.events[head&(noteQueueCapacity-1)] = ev
	q.head.Store(head + 1)
	return true
}

// pop dequeues one event if present.
func (q *noteEventQueue) pop() (noteEvent, bool) {
	tail := q.tail.Load()
	if tail == q.head.Load() {
		return noteEvent{}, false
	}
	ev := q.events[tail&(noteQueueCapacity-1)]
	q.tail.Store(tail + 1)
	return ev, true
}
