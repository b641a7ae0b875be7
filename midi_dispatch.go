// midi_dispatch.go - Table-driven MIDI to parameter dispatch

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// MIDI control types the mapping table understands.
const (
	MIDI_CC = iota
	MIDI_NOTE_ON
	MIDI_NOTE_OFF
	MIDI_PITCH_BEND
	MIDI_AFTERTOUCH
)

// Wildcard channel/number in a binding.
const MIDI_ANY = -1

// ControlDescriptor identifies one MIDI control: type, channel (0-15 or
// MIDI_ANY) and number (CC/note number, or MIDI_ANY; unused for pitch bend
// and aftertouch).
type ControlDescriptor struct {
	Type    int
	Channel int
	Number  int
}

func (d ControlDescriptor) String() string {
	typeName := map[int]string{
		MIDI_CC: "cc", MIDI_NOTE_ON: "note_on", MIDI_NOTE_OFF: "note_off",
		MIDI_PITCH_BEND: "pitch_bend", MIDI_AFTERTOUCH: "aftertouch",
	}[d.Type]
	ch := "*"
	if d.Channel != MIDI_ANY {
		ch = strconv.Itoa(d.Channel)
	}
	switch d.Type {
	case MIDI_PITCH_BEND, MIDI_AFTERTOUCH:
		return fmt.Sprintf("%s:%s", typeName, ch)
	}
	num := "*"
	if d.Number != MIDI_ANY {
		num = strconv.Itoa(d.Number)
	}
	return fmt.Sprintf("%s:%s:%s", typeName, ch, num)
}

// ParseControlDescriptor parses "cc:1:74", "note_on:*:60", "pitch_bend:*",
// "aftertouch:2" or "none".  The "none" descriptor means unbound and is
// perfectly normal.
func ParseControlDescriptor(s string) (ControlDescriptor, bool, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "none" {
		return ControlDescriptor{}, false, nil
	}
	parts := strings.Split(s, ":")
	var d ControlDescriptor
	switch parts[0] {
	case "cc":
		d.Type = MIDI_CC
	case "note_on":
		d.Type = MIDI_NOTE_ON
	case "note_off":
		d.Type = MIDI_NOTE_OFF
	case "pitch_bend":
		d.Type = MIDI_PITCH_BEND
	case "aftertouch":
		d.Type = MIDI_AFTERTOUCH
	default:
		return d, false, fmt.Errorf("midi: unknown control type %q", parts[0])
	}
	parseField := func(s string, lo, hi int) (int, error) {
		if s == "*" {
			return MIDI_ANY, nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, err
		}
		if v < lo || v > hi {
			return 0, fmt.Errorf("midi: value %d out of range %d..%d", v, lo, hi)
		}
		return v, nil
	}
	d.Channel = MIDI_ANY
	d.Number = MIDI_ANY
	var err error
	if len(parts) > 1 {
		if d.Channel, err = parseField(parts[1], 0, 15); err != nil {
			return d, false, err
		}
	}
	needsNumber := d.Type == MIDI_CC || d.Type == MIDI_NOTE_ON || d.Type == MIDI_NOTE_OFF
	if needsNumber {
		if len(parts) < 3 {
			return d, false, fmt.Errorf("midi: %q needs type:channel:number", s)
		}
		if d.Number, err = parseField(parts[2], 0, 127); err != nil {
			return d, false, err
		}
	} else if len(parts) > 2 {
		return d, false, fmt.Errorf("midi: %q has trailing fields", s)
	}
	return d, true, nil
}

type binding struct {
	desc  ControlDescriptor
	param *Parameter
}

// NoteTarget is implemented by the MIDI-driven engines.
type NoteTarget interface {
	NoteOn(note, velocity uint8)
	NoteOff(note uint8)
}

// MIDIDispatcher routes incoming messages either to Note targets (spectral
// and wavetable engines) or through the binding table to parameter setters.
// Dispatch runs on the MIDI thread; everything it touches downstream is an
// atomic store or an engine's own intent queue.
type MIDIDispatcher struct {
	registry map[string]*Parameter
	bindings []binding
	targets  []NoteTarget
	limiter  *rateLimitedLogger
}

func NewMIDIDispatcher(registry []*Parameter, targets ...NoteTarget) *MIDIDispatcher {
	d := &MIDIDispatcher{
		registry: make(map[string]*Parameter, len(registry)),
		targets:  targets,
		limiter:  newRateLimitedLogger(time.Second),
	}
	for _, p := range registry {
		d.registry[p.Name] = p
	}
	return d
}

// LoadMappingTable installs parameter bindings from the config's [midi_map]
// section.  Conflicts (two parameters on one control) are reported listing
// both bindings; the later one wins.  Unknown parameter names fail load.
func (d *MIDIDispatcher) LoadMappingTable(table map[string]string) error {
	d.bindings = d.bindings[:0]
	for name, descStr := range table {
		param, ok := d.registry[name]
		if !ok {
			return fmt.Errorf("midi: mapping refers to unknown parameter %q", name)
		}
		desc, bound, err := ParseControlDescriptor(descStr)
		if err != nil {
			return fmt.Errorf("midi: parameter %q: %w", name, err)
		}
		if !bound {
			continue // "none" is normal, never warned about
		}
		for i := range d.bindings {
			if bindingsOverlap(d.bindings[i].desc, desc) {
				log.Warn("midi: mapping conflict, later binding wins",
					"control", desc.String(),
					"earlier", d.bindings[i].param.Name,
					"later", name)
			}
		}
		d.bindings = append(d.bindings, binding{desc: desc, param: param})
	}
	return nil
}

func bindingsOverlap(a, b ControlDescriptor) bool {
	if a.Type != b.Type {
		return false
	}
	chMatch := a.Channel == MIDI_ANY || b.Channel == MIDI_ANY || a.Channel == b.Channel
	numMatch := a.Number == MIDI_ANY || b.Number == MIDI_ANY || a.Number == b.Number
	return chMatch && numMatch
}

// lookup returns the bound parameter for a concrete incoming control, last
// match winning (the conflict rule).
func (d *MIDIDispatcher) lookup(typ, channel, number int) *Parameter {
	var found *Parameter
	for i := range d.bindings {
		bd := d.bindings[i].desc
		if bd.Type != typ {
			continue
		}
		if bd.Channel != MIDI_ANY && bd.Channel != channel {
			continue
		}
		if bd.Number != MIDI_ANY && bd.Number != number {
			continue
		}
		found = d.bindings[i].param
	}
	return found
}

// HandleControlChange dispatches CC(channel, number, value 0..127).
func (d *MIDIDispatcher) HandleControlChange(channel, number int, value uint8) {
	if p := d.lookup(MIDI_CC, channel, number); p != nil {
		p.Apply(p.ScaledValue(float64(value) / 127.0))
	}
}

// HandleNoteOn routes the note to every engine and fires any NoteOn
// parameter binding (velocity as the control value).
func (d *MIDIDispatcher) HandleNoteOn(channel int, note, velocity uint8) {
	if velocity == 0 {
		// Running-status convention: NoteOn velocity 0 is NoteOff.
		d.HandleNoteOff(channel, note)
		return
	}
	for _, t := range d.targets {
		t.NoteOn(note, velocity)
	}
	if p := d.lookup(MIDI_NOTE_ON, channel, int(note)); p != nil {
		p.Apply(p.ScaledValue(float64(velocity) / 127.0))
	}
}

// HandleNoteOff routes the note-off to every engine; the engines own the
// three-tier matching rules.
func (d *MIDIDispatcher) HandleNoteOff(channel int, note uint8) {
	for _, t := range d.targets {
		t.NoteOff(note)
	}
	if p := d.lookup(MIDI_NOTE_OFF, channel, int(note)); p != nil {
		p.Apply(p.ScaledValue(1))
	}
}

// HandlePitchBend dispatches a 14-bit bend value (0..16383, center 8192).
func (d *MIDIDispatcher) HandlePitchBend(channel int, value14 uint16) {
	if p := d.lookup(MIDI_PITCH_BEND, channel, 0); p != nil {
		p.Apply(p.ScaledValue(float64(value14) / 16383.0))
	}
}

// HandleAftertouch dispatches channel pressure (0..127).
func (d *MIDIDispatcher) HandleAftertouch(channel int, pressure uint8) {
	if p := d.lookup(MIDI_AFTERTOUCH, channel, 0); p != nil {
		p.Apply(p.ScaledValue(float64(pressure) / 127.0))
	}
}
