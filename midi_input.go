// midi_input.go - Wire MIDI ingress via gomidi

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
)

// MIDIInput adapts decoded wire messages to dispatcher calls.  The hardware
// driver stays external: anything able to hand us midi.Message values (a
// gomidi driver port, a test, a network bridge) can feed Handle.
type MIDIInput struct {
	dispatcher *MIDIDispatcher
	unknown    uint64
}

func NewMIDIInput(dispatcher *MIDIDispatcher) *MIDIInput {
	return &MIDIInput{dispatcher: dispatcher}
}

// Handle classifies one MIDI message and forwards it.  Runs on the MIDI
// thread; never blocks.
func (in *MIDIInput) Handle(msg midi.Message) {
	var channel, key, velocity uint8
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		in.dispatcher.HandleNoteOn(int(channel), key, velocity)
	case msg.GetNoteOff(&channel, &key, &velocity):
		in.dispatcher.HandleNoteOff(int(channel), key)
	default:
		in.handleNonNote(msg)
	}
}

func (in *MIDIInput) handleNonNote(msg midi.Message) {
	var channel, controller, value uint8
	var rel int16
	var abs uint16
	switch {
	case msg.GetControlChange(&channel, &controller, &value):
		in.dispatcher.HandleControlChange(int(channel), int(controller), value)
	case msg.GetPitchBend(&channel, &rel, &abs):
		in.dispatcher.HandlePitchBend(int(channel), abs)
	case msg.GetAfterTouch(&channel, &value):
		in.dispatcher.HandleAftertouch(int(channel), value)
	default:
		in.unknown++
		if in.unknown == 1 {
			log.Debug("midi: unhandled message type", "msg", msg.String())
		}
	}
}
