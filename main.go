// main.go - Sp3ctra: image-line audio synthesis engine

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"gitlab.com/gomidi/midi/v2"
)

func main() {
	var (
		configPath  = pflag.StringP("config", "c", "", "path to the INI configuration file")
		backendName = pflag.StringP("backend", "b", "oto", "audio backend: oto, portaudio, headless")
		debug       = pflag.Bool("debug", false, "enable debug logging")
	)
	pflag.Parse()

	SetupLogging(*debug)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal("startup failed", "err", err)
	}
	backend, err := ParseBackendName(*backendName)
	if err != nil {
		log.Fatal("startup failed", "err", err)
	}

	var running atomic.Bool
	running.Store(true)

	rtlog := NewRTLogQueue()
	rtlog.Start()

	pub := NewLinePublisher(cfg)
	pre := NewPreprocessor(cfg, pub)
	imu := &IMUState{}

	udp, err := NewUDPInput(cfg, pre, imu, &running)
	if err != nil {
		log.Fatal("startup failed", "err", err)
	}

	var rings [NUM_ENGINES]*BufferRing
	for i := range rings {
		rings[i] = NewBufferRing(cfg.RingSlots, cfg.BufferSize)
	}
	params := NewEngineParams(cfg)

	additive := NewAdditiveEngine(cfg, params, pub, rings[ENGINE_ADDITIVE], rtlog)
	spectral := NewSpectralEngine(cfg, params, pub, rings[ENGINE_SPECTRAL], rtlog)
	wavetable := NewWavetableEngine(cfg, params, pub, rings[ENGINE_WAVETABLE], rtlog)

	mixer := NewMixer(cfg, params, rings)
	output, err := NewAudioOutput(backend, cfg, mixer)
	if err != nil {
		log.Fatal("startup failed", "err", err)
	}

	registry := BuildParameterRegistry(cfg, params, pub)
	dispatcher := NewMIDIDispatcher(registry, spectral, wavetable)
	if err := dispatcher.LoadMappingTable(cfg.MIDIMap); err != nil {
		log.Fatal("startup failed", "err", err)
	}
	midiIn := NewMIDIInput(dispatcher)

	// A MIDI driver is optional: with none registered there are simply no
	// ports and the engines run image-only.
	var stopMIDI func()
	if ports := midi.GetInPorts(); len(ports) > 0 {
		stop, err := midi.ListenTo(ports[0], func(msg midi.Message, _ int32) {
			midiIn.Handle(msg)
		})
		if err != nil {
			log.Warn("midi: listen failed, continuing without hardware input", "err", err)
		} else {
			log.Info("midi: listening", "port", ports[0].String())
			stopMIDI = stop
		}
	} else {
		log.Info("midi: no input ports available")
	}

	additive.Start()
	spectral.Start()
	wavetable.Start()
	udp.Start()
	if err := output.Start(); err != nil {
		log.Fatal("audio device start failed", "err", err)
	}

	log.Info("sp3ctra running",
		"sample_rate", cfg.SampleRate,
		"buffer", cfg.BufferSize,
		"notes", cfg.NumNotes(),
		"listen", cfg.UDPListen)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info("shutting down")
	go func() {
		<-sigs
		log.Error("second signal, forcing exit")
		os.Exit(1)
	}()

	// Shutdown order matters: stop the consumer first so no engine can
	// wedge on a full ring while the device disappears, then the
	// producers, then everything else.
	running.Store(false)
	output.Stop()
	output.Close()
	if stopMIDI != nil {
		stopMIDI()
	}
	udp.Stop()
	additive.Stop()
	spectral.Stop()
	wavetable.Stop()
	rtlog.Stop()
}
