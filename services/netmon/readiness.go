package netmon

import (
	"context"
	"sync"
	"time"

	"foxco2-go/errcode"
)

// Readiness is a sticky "network usable" condition. Once Set it stays set
// until Clear, so a waiter arriving late still returns immediately. Clear
// releases every blocked waiter with errcode.Offline.
type Readiness struct {
	mu    sync.Mutex
	set   bool
	ready chan struct{} // closed while set
	abort chan struct{} // closed and replaced on every Clear
}

func NewReadiness() *Readiness {
	return &Readiness{
		ready: make(chan struct{}),
		abort: make(chan struct{}),
	}
}

// Set marks the condition. Idempotent.
func (r *Readiness) Set() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.set {
		r.set = true
		close(r.ready)
	}
}

// Clear resets the condition and fails any pending waiters.
func (r *Readiness) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.set {
		r.set = false
		r.ready = make(chan struct{})
	}
	close(r.abort)
	r.abort = make(chan struct{})
}

// IsSet reports the current level.
func (r *Readiness) IsSet() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set
}

// Wait blocks until the condition is set, it is cleared, the timeout
// elapses or ctx ends. A non-positive timeout only checks the level.
func (r *Readiness) Wait(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	ready, abort := r.ready, r.abort
	r.mu.Unlock()

	select {
	case <-ready:
		return nil
	default:
	}
	if timeout <= 0 {
		return errcode.Timeout
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ready:
		return nil
	case <-abort:
		return errcode.Offline
	case <-t.C:
		return errcode.Timeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
