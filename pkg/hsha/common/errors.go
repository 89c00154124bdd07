package common

import (
	"errors"
	"strconv"
)

// Standard errors for use with errors.Is.
var (
	ErrQueueFull       = errors.New("task queue full")
	ErrPoolClosed      = errors.New("worker pool closed")
	ErrConnectionLimit = errors.New("connection limit reached")
	ErrRateLimited     = errors.New("rate limited")
	ErrSlotBusy        = errors.New("connection slot busy")
	ErrOwnership       = errors.New("connection owned by another goroutine")
	ErrServerClosed    = errors.New("server closed")
)

// FDRangeError reports a descriptor that does not fit the connection table.
type FDRangeError struct {
	FD  int
	Max int
}

func (e *FDRangeError) Error() string {
	return "descriptor " + strconv.Itoa(e.FD) + " outside connection table of " + strconv.Itoa(e.Max)
}
