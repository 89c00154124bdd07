package conn

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/tbxark/hsha/pkg/hsha/poller"
)

const (
	defaultReadChunk = 4096
	defaultMaxInput  = 1 << 20
)

// Registrar is the shared event-registration handle. poller.Poller satisfies it.
type Registrar interface {
	Add(fd int, in poller.Interest) error
	Arm(fd int, in poller.Interest) error
	Remove(fd int) error
}

// SocketIO performs raw non-blocking descriptor I/O.
type SocketIO interface {
	Read(fd int, p []byte) (int, error)
	Write(fd int, p []byte) (int, error)
	Close(fd int) error
}

// UnixIO is the SocketIO backed by read(2), write(2) and close(2).
type UnixIO struct{}

func (UnixIO) Read(fd int, p []byte) (int, error)  { return unix.Read(fd, p) }
func (UnixIO) Write(fd int, p []byte) (int, error) { return unix.Write(fd, p) }
func (UnixIO) Close(fd int) error                  { return unix.Close(fd) }

// Env is the state shared by every connection of one server.
type Env struct {
	Registrar Registrar
	IO        SocketIO
	// Dispatch hands a Queued connection to the worker pool. A non-nil error
	// means the connection was not taken and must be closed.
	Dispatch func(c *Conn) error
	// OnClose runs once for every connection that is torn down.
	OnClose func()
	Logger  *zap.Logger

	ReadChunk int
	MaxInput  int
}

func (e *Env) withDefaults() *Env {
	if e.IO == nil {
		e.IO = UnixIO{}
	}
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.ReadChunk <= 0 {
		e.ReadChunk = defaultReadChunk
	}
	if e.MaxInput <= 0 {
		e.MaxInput = defaultMaxInput
	}
	return e
}

const armFlags = poller.EdgeTriggered | poller.OneShot
