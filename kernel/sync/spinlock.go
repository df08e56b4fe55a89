// Package sync provides the synchronization primitives used across the
// memory-management core. Kernel code cannot use the standard library's
// sync.Mutex since it assumes a scheduler capable of parking goroutines;
// before and during boot no such scheduler exists, so every lock in this
// core busy-waits instead.
package sync

import "sync/atomic"

var (
	// yieldFn is invoked by Acquire while it spins. It is a no-op in the
	// freestanding build; hosted tests substitute runtime.Gosched so that
	// contended-lock tests don't starve the Go scheduler.
	// TODO: replace with a real yield once context-switching exists.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. It carries no notion of interrupt state;
// callers that must be safe against an interrupt handler re-entering the
// lock holder should use IRQSpinlock instead.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state, 1)
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock is an arch-specific implementation for acquiring the lock.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32)

// spinYield is called from archAcquireSpinlock whenever the spin-attempt
// budget is exhausted. It is exported to assembly via go:linkname-free direct
// symbol reference (same package).
func spinYield() {
	if yieldFn != nil {
		yieldFn()
	}
}
