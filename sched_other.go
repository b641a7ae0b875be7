// sched_other.go - Scheduling stub for non-Linux platforms

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

//go:build !linux

package main

import (
	"runtime"
	"sync"

	"github.com/charmbracelet/log"
)

var schedFallbackOnce sync.Once

// lockAndElevate pins the goroutine to its OS thread.  Platform-specific
// time-constraint policies are not wired here; the engines run best-effort.
func lockAndElevate(priority int) {
	runtime.LockOSThread()
	schedFallbackOnce.Do(func() {
		log.Info("sched: no realtime policy on this platform, continuing best-effort")
	})
	_ = priority
}
