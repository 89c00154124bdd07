// Package syncx holds the small set of synchronization primitives shared by the
// worker pool and the server: a scoped lock, a predicate wait/notify facility
// and a counting semaphore.
package syncx

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Locker is a mutex that is only ever held for the duration of a closure.
type Locker struct {
	mu sync.Mutex
}

// Do runs fn with the lock held. The lock is released on every exit path,
// including a panic in fn.
func (l *Locker) Do(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// Cond lets goroutines block inside Locker.Do until a predicate holds.
type Cond struct {
	c *sync.Cond
}

// NewCond binds a condition to l.
func NewCond(l *Locker) *Cond {
	return &Cond{c: sync.NewCond(&l.mu)}
}

// WaitUntil blocks until pred returns true. It must be called from inside
// Do on the Locker the Cond was built with; pred is evaluated with the lock held.
func (c *Cond) WaitUntil(pred func() bool) {
	for !pred() {
		c.c.Wait()
	}
}

// Signal wakes one waiter.
func (c *Cond) Signal() {
	c.c.Signal()
}

// Broadcast wakes all waiters.
func (c *Cond) Broadcast() {
	c.c.Broadcast()
}

// Semaphore is a counting semaphore with a fixed number of permits.
type Semaphore struct {
	sem  *semaphore.Weighted
	size int64
	held atomic.Int64
}

// NewSemaphore creates a semaphore with size permits.
func NewSemaphore(size int) *Semaphore {
	return &Semaphore{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Acquire blocks until a permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.held.Add(1)
	return nil
}

// TryAcquire takes a permit without blocking and reports whether it got one.
func (s *Semaphore) TryAcquire() bool {
	if !s.sem.TryAcquire(1) {
		return false
	}
	s.held.Add(1)
	return true
}

// Release returns a permit. Releasing with no permit held is a no-op.
func (s *Semaphore) Release() {
	for {
		h := s.held.Load()
		if h <= 0 {
			return
		}
		if s.held.CompareAndSwap(h, h-1) {
			s.sem.Release(1)
			return
		}
	}
}

// Held returns the number of permits currently taken.
func (s *Semaphore) Held() int {
	return int(s.held.Load())
}

// Size returns the total number of permits.
func (s *Semaphore) Size() int {
	return int(s.size)
}
