// barrier.go - Generation-based barrier for the additive worker pool

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import "sync"

// Barrier is a reusable synchronization point for a fixed set of parties,
// built on mutex+condvar (two uses per buffer per engine is acceptable
// overhead; the workers spend their time computing, not waiting here).
// The generation counter makes it safe to reuse immediately: a late waker
// from generation g cannot be confused with a waiter in g+1.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	waiting    int
	generation uint64
}

func NewBarrier(parties int) *Barrier {
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until all parties have arrived, then releases everyone.
func (b *Barrier) Wait() {
	b.mu.Lock()
	gen := b.generation
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.generation++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}
	for gen == b.generation {
		b.cond.Wait()
	}
	b.mu.Unlock()
}
