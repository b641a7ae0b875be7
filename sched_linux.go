// sched_linux.go - Best-effort SCHED_FIFO elevation on Linux

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

//go:build linux

package main

import (
	"runtime"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

var schedFallbackOnce sync.Once

// lockAndElevate pins the calling goroutine to its OS thread and requests
// SCHED_FIFO at the given priority.  Missing privileges are not an error:
// the process continues at normal priority and says so once.
func lockAndElevate(priority int) {
	runtime.LockOSThread()
	attr := &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		schedFallbackOnce.Do(func() {
			log.Info("sched: realtime priority unavailable, continuing best-effort", "err", err)
		})
	}
}
