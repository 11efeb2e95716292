package index

import "sync/atomic"

// syncLock provides non-blocking lock semantics using atomic operations,
// used to reject overlapped sync passes on the same handle.
type syncLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
func (l *syncLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock. Must only be called after a successful
// TryAcquire.
func (l *syncLock) Release() {
	l.state.Store(0)
}
