// Package poller wraps the readiness-notification facility used by the reactor.
package poller

// Interest selects the readiness conditions a descriptor is registered for.
type Interest uint32

const (
	Read Interest = 1 << iota
	Write
	EdgeTriggered
	OneShot
)

// Event is one readiness notification.
type Event struct {
	Fd   int
	Bits uint32
}

// Poller is the I/O multiplexing interface.
type Poller interface {
	Add(fd int, in Interest) error
	Arm(fd int, in Interest) error
	Remove(fd int) error
	Wait(events []Event) (int, error)
	Close() error
}
