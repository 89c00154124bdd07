//go:build linux

package poller

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/tbxark/hsha/pkg/hsha/common"
)

// Waker interrupts a blocked Wait from another goroutine through an eventfd.
type Waker struct {
	fd int
}

// NewWaker creates the eventfd and registers it level-triggered with p.
func NewWaker(p Poller) (*Waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	if err := p.Add(fd, Read); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &Waker{fd: fd}, nil
}

// Fd returns the eventfd descriptor.
func (w *Waker) Fd() int { return w.fd }

// Wake makes the next (or current) Wait return.
func (w *Waker) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(w.fd, buf[:])
	if err != nil && !common.IsWouldBlock(err) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Drain resets the counter so the level-triggered registration goes quiet.
func (w *Waker) Drain() {
	var buf [8]byte
	_, _ = unix.Read(w.fd, buf[:])
}

// Close releases the eventfd.
func (w *Waker) Close() error {
	return unix.Close(w.fd)
}
