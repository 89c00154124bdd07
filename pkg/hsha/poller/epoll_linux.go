//go:build linux

package poller

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/tbxark/hsha/pkg/hsha/common"
)

const hangUpBits = unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR

// Readable reports read readiness.
func (e Event) Readable() bool { return e.Bits&unix.EPOLLIN != 0 }

// Writable reports write readiness.
func (e Event) Writable() bool { return e.Bits&unix.EPOLLOUT != 0 }

// HangUp reports peer shutdown or a socket error.
func (e Event) HangUp() bool { return e.Bits&hangUpBits != 0 }

// Epoll is an epoll-based Poller.
type Epoll struct {
	epfd int
	raw  []unix.EpollEvent
}

// NewEpoll creates an epoll instance able to report up to maxEvents events per Wait.
func NewEpoll(maxEvents int) (*Epoll, error) {
	if maxEvents <= 0 {
		maxEvents = 1024
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Epoll{
		epfd: epfd,
		raw:  make([]unix.EpollEvent, maxEvents),
	}, nil
}

func toEpoll(in Interest) uint32 {
	ev := uint32(unix.EPOLLRDHUP)
	if in&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if in&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	if in&EdgeTriggered != 0 {
		ev |= unix.EPOLLET
	}
	if in&OneShot != 0 {
		ev |= unix.EPOLLONESHOT
	}
	return ev
}

// Add registers fd.
func (p *Epoll) Add(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: toEpoll(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Arm replaces the interest set of an already registered fd. For one-shot
// registrations this re-enables delivery.
func (p *Epoll) Arm(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: toEpoll(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Remove deregisters fd.
func (p *Epoll) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait blocks until at least one event is ready and copies up to len(events)
// of them. An interrupted wait returns (0, nil).
func (p *Epoll) Wait(events []Event) (int, error) {
	max := len(events)
	if max > len(p.raw) {
		max = len(p.raw)
	}
	n, err := unix.EpollWait(p.epfd, p.raw[:max], -1)
	if err != nil {
		if common.IsInterrupted(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		events[i] = Event{Fd: int(p.raw[i].Fd), Bits: p.raw[i].Events}
	}
	return n, nil
}

// Close releases the epoll descriptor.
func (p *Epoll) Close() error {
	return unix.Close(p.epfd)
}
