// Package sync provides spin-based synchronization primitives that are safe
// to use in contexts where blocking primitives are not available.
package sync

import "sync/atomic"

var (
	// yieldFn is invoked while busy-waiting for a lock to be released.
	// It is nil until the kernel scheduler provides a yield implementation.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. Critical sections guarded by a Spinlock
// must be short and bounded; the lock is suitable for serializing foreground
// register updates against each other but must never be waited on from
// interrupt context.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		if yieldFn != nil {
			yieldFn()
		}
	}
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
