// logging.go - Structured logging and the RT-safe diagnostic queue

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// SetupLogging configures the process-wide logger.  Engines never call it
// from RT threads; they go through the RTLogQueue below.
func SetupLogging(debug bool) {
	log.SetOutput(os.Stderr)
	log.SetReportTimestamp(true)
	log.SetTimeFormat(time.TimeOnly)
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// ------------------------------------------------------------------------------
// Rate limiter for recurring warnings (one line per key per interval).
// ------------------------------------------------------------------------------

type rateLimitedLogger struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
}

func newRateLimitedLogger(interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{last: map[string]time.Time{}, interval: interval}
}

func (rl *rateLimitedLogger) Warn(key, msg string, kv ...interface{}) {
	rl.mu.Lock()
	now := time.Now()
	ok := now.Sub(rl.last[key]) >= rl.interval
	if ok {
		rl.last[key] = now
	}
	rl.mu.Unlock()
	if ok {
		log.Warn(msg, kv...)
	}
}

// ------------------------------------------------------------------------------
// RT log queue.  Engine threads (and only engine threads - the audio callback
// never logs at all) push fixed-size event records into a lock-free SPSC-ish
// ring; a non-RT goroutine formats and emits them.  Full queue drops the
// event and counts the drop.
// ------------------------------------------------------------------------------

type rtLogCode uint8

const (
	rtLogNone rtLogCode = iota
	rtLogRingTimeout
	rtLogVoiceSteal
	rtLogSnapshotStale
	rtLogBlurLag
)

type rtLogEvent struct {
	code rtLogCode
	a, b int64
}

const rtLogCapacity = 256 // power of two

// RTLogQueue is a fixed multi-producer ring: producers claim slots with an
// atomic counter, the drain goroutine consumes published ones.  Records are
// plain integers; formatting happens entirely off the RT threads.
type RTLogQueue struct {
	events  [rtLogCapacity]rtLogEvent
	ready   [rtLogCapacity]atomic.Bool
	head    atomic.Uint64
	tail    uint64
	dropped atomic.Uint64
	limiter *rateLimitedLogger
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewRTLogQueue() *RTLogQueue {
	return &RTLogQueue{
		limiter: newRateLimitedLogger(time.Second),
		done:    make(chan struct{}),
	}
}

// Push enqueues an event without blocking.  Safe from any engine thread.
func (q *RTLogQueue) Push(code rtLogCode, a, b int64) {
	head := q.head.Load()
	if head-atomic.LoadUint64(&q.tail) >= rtLogCapacity {
		q.dropped.Add(1)
		return
	}
	idx := q.head.Add(1) - 1
	slot := idx & (rtLogCapacity - 1)
	q.events[slot] = rtLogEvent{code: code, a: a, b: b}
	q.ready[slot].Store(true)
}

// Start launches the drain goroutine.
func (q *RTLogQueue) Start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-q.done:
				q.drain()
				return
			case <-tick.C:
				q.drain()
			}
		}
	}()
}

func (q *RTLogQueue) Stop() {
	close(q.done)
	q.wg.Wait()
	if n := q.dropped.Load(); n > 0 {
		log.Warn("rtlog: diagnostic events dropped", "count", n)
	}
}

func (q *RTLogQueue) drain() {
	for {
		tail := atomic.LoadUint64(&q.tail)
		slot := tail & (rtLogCapacity - 1)
		if tail >= q.head.Load() || !q.ready[slot].Load() {
			return
		}
		ev := q.events[slot]
		q.ready[slot].Store(false)
		atomic.AddUint64(&q.tail, 1)
		q.emit(ev)
	}
}

func (q *RTLogQueue) emit(ev rtLogEvent) {
	switch ev.code {
	case rtLogRingTimeout:
		q.limiter.Warn("ring-timeout", "engine ring full, buffer dropped", "engine", engineName(int(ev.a)), "waited_us", ev.b)
	case rtLogVoiceSteal:
		q.limiter.Warn("voice-steal", "voice stolen", "engine", engineName(int(ev.a)), "note", ev.b)
	case rtLogSnapshotStale:
		q.limiter.Warn("snapshot-stale", "preprocessed snapshot older than expected", "age_us", ev.a)
	case rtLogBlurLag:
		q.limiter.Warn("blur-lag", "wavetable line update lagging", "waited_us", ev.a)
	}
}

// Thread priorities requested where the OS allows it (spec'd ladder:
// callback > engine threads > additive workers; the callback thread belongs
// to the audio backend).
const (
	SCHED_PRIO_WORKER = 70
	SCHED_PRIO_ENGINE = 75
)

// Engine indices used across rings, mixer and diagnostics.
const (
	ENGINE_ADDITIVE = iota
	ENGINE_SPECTRAL
	ENGINE_WAVETABLE
	NUM_ENGINES
)

func engineName(idx int) string {
	switch idx {
	case ENGINE_ADDITIVE:
		return "additive"
	case ENGINE_SPECTRAL:
		return "spectral"
	case ENGINE_WAVETABLE:
		return "wavetable"
	}
	return "unknown"
}
