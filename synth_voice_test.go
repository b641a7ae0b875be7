// synth_voice_test.go - ADSR, voice stealing and Note-Off matching

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"sync/atomic"
	"testing"

	"pgregory.net/rapid"
)

const testSampleRate = 48000

func makeCores(n int, sr int) []*VoiceCore {
	env := EnvTimes{Attack: 0.005, Decay: 0.01, Sustain: 0.7, Release: 0.05}
	cores := make([]*VoiceCore, n)
	for i := range cores {
		cores[i] = &VoiceCore{}
		cores[i].VolumeEnv.Configure(env, sr)
		cores[i].FilterEnv.Configure(env, sr)
	}
	return cores
}

func runEnvelopes(cores []*VoiceCore, samples int) {
	for s := 0; s < samples; s++ {
		for _, c := range cores {
			c.VolumeEnv.Process()
			c.FilterEnv.Process()
		}
	}
}

func TestADSR_StateProgression(t *testing.T) {
	var env ADSR
	env.Configure(EnvTimes{Attack: 0.01, Decay: 0.01, Sustain: 0.5, Release: 0.02}, testSampleRate)

	if env.State != ENV_IDLE {
		t.Fatalf("fresh envelope should be IDLE, got %d", env.State)
	}

	env.Trigger()
	sawAttack := false
	for i := 0; i < testSampleRate; i++ {
		env.Process()
		if env.State == ENV_ATTACK {
			sawAttack = true
		}
		if env.State == ENV_SUSTAIN {
			break
		}
	}
	if !sawAttack {
		t.Error("envelope never reported ATTACK")
	}
	if env.State != ENV_SUSTAIN {
		t.Fatalf("envelope should reach SUSTAIN, got state %d", env.State)
	}
	if diff := env.Level - 0.5; diff > 0.01 || diff < -0.01 {
		t.Errorf("sustain level = %f, want ~0.5", env.Level)
	}

	env.Release()
	for i := 0; i < testSampleRate; i++ {
		env.Process()
		if env.State == ENV_IDLE {
			break
		}
	}
	if env.State != ENV_IDLE {
		t.Fatal("envelope never returned to IDLE after release")
	}
	if env.Level != 0 {
		t.Errorf("idle level = %f, want 0", env.Level)
	}
}

func TestADSR_LevelStaysNormalized(t *testing.T) {
	var env ADSR
	env.Configure(EnvTimes{Attack: 0.001, Decay: 0.002, Sustain: 0.9, Release: 0.001}, testSampleRate)
	env.Trigger()
	for i := 0; i < testSampleRate/10; i++ {
		l := env.Process()
		if l < 0 || l > 1 {
			t.Fatalf("envelope level %f escaped [0,1] at sample %d", l, i)
		}
	}
}

func TestVoice_MonotonicTriggerOrder(t *testing.T) {
	cores := makeCores(4, testSampleRate)
	var counter atomic.Uint64

	var lastOrder uint64
	for note := uint8(40); note < 80; note++ {
		idx, _ := allocateVoice(cores)
		triggerVoice(cores[idx], note, 100, &counter)
		if cores[idx].Order <= lastOrder {
			t.Fatalf("trigger order not strictly increasing: %d after %d", cores[idx].Order, lastOrder)
		}
		lastOrder = cores[idx].Order
	}
}

func TestVoice_StealingPicksOldest(t *testing.T) {
	cores := makeCores(3, testSampleRate)
	var counter atomic.Uint64

	for i, note := range []uint8{60, 61, 62} {
		idx, stolen := allocateVoice(cores)
		if stolen {
			t.Fatalf("allocation %d should not steal", i)
		}
		triggerVoice(cores[idx], note, 100, &counter)
		runEnvelopes(cores, 100)
	}

	idx, stolen := allocateVoice(cores)
	if !stolen {
		t.Fatal("fourth note on a 3-voice table must steal")
	}
	if cores[idx].MidiNote != 60 {
		t.Errorf("stole voice holding note %d, want oldest (60)", cores[idx].MidiNote)
	}
}

func TestNoteOff_ThreeTierMatching(t *testing.T) {
	t.Log("tier 1: active voice goes to RELEASE, note retained for duplicates")
	cores := makeCores(4, testSampleRate)
	var counter atomic.Uint64
	idx, _ := allocateVoice(cores)
	triggerVoice(cores[idx], 60, 100, &counter)
	runEnvelopes(cores, 2000) // well into sustain

	action, matched := matchNoteOff(cores, 60)
	if action != NOTEOFF_RELEASED || matched != idx {
		t.Fatalf("first note off: action=%d matched=%d, want RELEASED on %d", action, matched, idx)
	}
	if cores[idx].VolumeEnv.State != ENV_RELEASE {
		t.Fatal("volume envelope not releasing")
	}
	if cores[idx].FilterEnv.State != ENV_RELEASE {
		t.Fatal("filter envelope not releasing")
	}
	if cores[idx].MidiNote != 60 {
		t.Fatal("note must be retained through RELEASE so duplicates can match")
	}

	t.Log("tier 2: duplicate while releasing is silently acknowledged")
	action, _ = matchNoteOff(cores, 60)
	if action != NOTEOFF_DUPLICATE {
		t.Fatalf("duplicate note off: action=%d, want DUPLICATE", action)
	}
	if cores[idx].MidiNote != 60 {
		t.Fatal("duplicate must not clear the note")
	}
	if cores[idx].VolumeEnv.State != ENV_RELEASE {
		t.Fatal("duplicate must not re-trigger release")
	}

	t.Log("tier 3: after natural completion a late note off clears the note")
	runEnvelopes(cores, testSampleRate) // run the release out
	if cores[idx].Active() {
		t.Fatal("voice should have reached IDLE")
	}
	if cores[idx].MidiNote != 60 {
		t.Fatal("envelope completion must not clear the note")
	}
	action, _ = matchNoteOff(cores, 60)
	if action != NOTEOFF_LATE {
		t.Fatalf("late note off: action=%d, want LATE", action)
	}
	if cores[idx].MidiNote != 0 {
		t.Fatal("late note off must clear the note")
	}

	t.Log("tier 4: a note off with no holder is silently ignored")
	action, _ = matchNoteOff(cores, 60)
	if action != NOTEOFF_UNMATCHED {
		t.Fatalf("unmatched note off: action=%d, want UNMATCHED", action)
	}
}

func TestNoteOff_ReleasesOldestOfSameNote(t *testing.T) {
	cores := makeCores(4, testSampleRate)
	var counter atomic.Uint64

	i1, _ := allocateVoice(cores)
	triggerVoice(cores[i1], 60, 100, &counter)
	runEnvelopes(cores, 100)
	i2, _ := allocateVoice(cores)
	triggerVoice(cores[i2], 60, 100, &counter)
	runEnvelopes(cores, 100)

	_, matched := matchNoteOff(cores, 60)
	if matched != i1 {
		t.Errorf("note off matched voice %d, want oldest %d", matched, i1)
	}
	if cores[i2].VolumeEnv.State == ENV_RELEASE {
		t.Error("newer voice must keep sounding")
	}
}

func TestNoteOff_RapidOnOffPairsLeaveNoStuckNotes(t *testing.T) {
	cores := makeCores(8, testSampleRate)
	var counter atomic.Uint64

	// <=1ms apart: trigger and release with only 48 samples between.
	for rep := 0; rep < 20; rep++ {
		idx, _ := allocateVoice(cores)
		triggerVoice(cores[idx], 64, 127, &counter)
		runEnvelopes(cores, 48)
		action, _ := matchNoteOff(cores, 64)
		if action != NOTEOFF_RELEASED {
			t.Fatalf("rep %d: note off action = %d, want RELEASED", rep, action)
		}
		runEnvelopes(cores, 48)
	}

	runEnvelopes(cores, testSampleRate)
	for i, c := range cores {
		if c.Active() {
			t.Errorf("voice %d stuck active after rapid on/off sequence", i)
		}
	}
}

// Property: under any interleaving of note ons and offs, trigger order stays
// strictly monotonic, a Note Off releases at most one voice, and once every
// note received as many offs as ons no voice is left sounding.
func TestNoteOff_RandomSequencesProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cores := makeCores(rapid.IntRange(1, 8).Draw(rt, "voices"), testSampleRate)
		var counter atomic.Uint64

		pending := map[uint8]int{} // note -> outstanding ons
		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		var lastOrder uint64

		for s := 0; s < steps; s++ {
			note := uint8(rapid.IntRange(40, 44).Draw(rt, "note"))
			if rapid.Bool().Draw(rt, "on") {
				idx, _ := allocateVoice(cores)
				stolenNote := cores[idx].MidiNote
				if stolenNote != 0 && cores[idx].sounding() {
					// Stealing a sounding voice consumes its outstanding
					// on; a releasing voice already had its off counted.
					if pending[stolenNote] > 0 {
						pending[stolenNote]--
					}
				}
				triggerVoice(cores[idx], note, 100, &counter)
				if cores[idx].Order <= lastOrder {
					rt.Fatalf("order regression: %d after %d", cores[idx].Order, lastOrder)
				}
				lastOrder = cores[idx].Order
				pending[note]++
			} else {
				action, _ := matchNoteOff(cores, note)
				if action == NOTEOFF_RELEASED {
					if pending[note] == 0 {
						rt.Fatalf("released a voice for note %d with no outstanding on", note)
					}
					pending[note]--
				}
			}
			runEnvelopes(cores, rapid.IntRange(0, 200).Draw(rt, "gap"))
		}

		// Drain: send offs until every note is resolved, then run the
		// envelopes out and require silence.
		for note := uint8(40); note <= 44; note++ {
			for i := 0; i < 16; i++ {
				matchNoteOff(cores, note)
			}
		}
		runEnvelopes(cores, 2*testSampleRate)
		for i, c := range cores {
			if c.Active() {
				rt.Fatalf("voice %d stuck active after drain", i)
			}
		}
	})
}
