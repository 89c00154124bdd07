package server

import "github.com/tbxark/hsha/pkg/hsha/syncx"

// ConnectionLimiter enforces a maximum number of live connections.
type ConnectionLimiter struct {
	sem *syncx.Semaphore
}

// NewConnectionLimiter creates a new connection limiter.
func NewConnectionLimiter(maxConns int) *ConnectionLimiter {
	return &ConnectionLimiter{sem: syncx.NewSemaphore(maxConns)}
}

// Acquire attempts to take a connection slot without blocking.
func (cl *ConnectionLimiter) Acquire() bool {
	return cl.sem.TryAcquire()
}

// Release gives a connection slot back.
func (cl *ConnectionLimiter) Release() {
	cl.sem.Release()
}

// Active returns the number of slots in use.
func (cl *ConnectionLimiter) Active() int {
	return cl.sem.Held()
}

// Available returns the number of free slots.
func (cl *ConnectionLimiter) Available() int {
	return cl.sem.Size() - cl.sem.Held()
}
