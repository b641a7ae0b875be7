// audio_backend_oto.go - Default audio output through oto/v3

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"sync"
	"time"
	"unsafe"

	"github.com/ebitengine/oto/v3"
)

// OtoOutput plays the stereo mix through oto's pull model: the player calls
// Read from its own thread, which renders whole mixer buffers and carves
// them into whatever byte counts oto asks for.  Stereo only; raw multi-
// channel outputs need the portaudio backend.
type OtoOutput struct {
	ctx    *oto.Context
	player *oto.Player
	mixer  *Mixer

	staging  []float32 // one mixer buffer, interleaved stereo
	leftover []byte    // rendered bytes not yet consumed by Read
	pending  []byte

	started bool
	mutex   sync.Mutex
}

func NewOtoOutput(cfg *Config, mixer *Mixer) (*OtoOutput, error) {
	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize: 2 * time.Duration(cfg.BufferSize) * time.Second /
			time.Duration(cfg.SampleRate),
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready

	o := &OtoOutput{
		ctx:     ctx,
		mixer:   mixer,
		staging: make([]float32, mixer.Frames()*2),
		pending: make([]byte, 0, mixer.Frames()*2*4),
	}
	o.player = ctx.NewPlayer(o)
	return o, nil
}

// Read renders mixer buffers on demand.  This is the audio callback for
// this backend: no locks, no allocation beyond the pre-sized pending slice.
func (o *OtoOutput) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(o.leftover) == 0 {
			o.mixer.Render(o.staging, 2)
			raw := unsafe.Slice((*byte)(unsafe.Pointer(&o.staging[0])), len(o.staging)*4)
			o.pending = o.pending[:len(raw)]
			copy(o.pending, raw)
			o.leftover = o.pending
		}
		c := copy(p[n:], o.leftover)
		o.leftover = o.leftover[c:]
		n += c
	}
	return n, nil
}

func (o *OtoOutput) Start() error {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if !o.started {
		o.player.Play()
		o.started = true
	}
	return nil
}

func (o *OtoOutput) Stop() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.started {
		o.player.Pause()
		o.started = false
	}
}

func (o *OtoOutput) Close() {
	o.Stop()
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
}
