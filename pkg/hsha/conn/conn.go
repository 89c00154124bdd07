// Package conn implements the per-connection state machine shared by the
// reactor and the worker pool.
//
// A connection is owned by exactly one goroutine at a time: the reactor while
// it is Reading or Writing, a single worker while it is Processing. Ownership
// moves only through an atomic state transition followed by a one-shot
// re-arm of the descriptor, so no lock is held on the connection itself.
package conn

import (
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tbxark/hsha/pkg/hsha/common"
	"github.com/tbxark/hsha/pkg/hsha/poller"
)

// Conn is one slot of the connection table.
type Conn struct {
	env   *Env
	proc  Processor
	state atomic.Int32

	fd   int
	peer string
	id   string

	in        []byte // request bytes not yet consumed by proc
	out       []byte // response bytes, out[sent:] still pending
	sent      int
	keepAlive bool
}

func newConn(env *Env, proc Processor) *Conn {
	c := &Conn{env: env, proc: proc, fd: -1}
	c.state.Store(int32(Free))
	return c
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Fd returns the descriptor, -1 when the slot is free. Only the owner may call it.
func (c *Conn) Fd() int { return c.fd }

// Peer returns the remote address. Only the owner may call it.
func (c *Conn) Peer() string { return c.peer }

// ID returns the identifier assigned at Init. Only the owner may call it.
func (c *Conn) ID() string { return c.id }

// Pending returns the number of unflushed output bytes. Only the owner may call it.
func (c *Conn) Pending() int { return len(c.out) - c.sent }

func (c *Conn) transition(from, to State) bool {
	if c.state.CompareAndSwap(int32(from), int32(to)) {
		return true
	}
	c.env.Logger.Error("Connection ownership violation",
		zap.String("conn_id", c.id),
		zap.Stringer("expected", from),
		zap.Stringer("actual", c.State()),
		zap.Stringer("next", to),
		zap.Error(common.ErrOwnership))
	return false
}

// Init claims a free slot for fd and registers it for one-shot read readiness.
func (c *Conn) Init(fd int, peer string) error {
	if !c.state.CompareAndSwap(int32(Free), int32(Reading)) {
		return common.ErrSlotBusy
	}
	c.fd = fd
	c.peer = peer
	c.id = uuid.NewString()
	c.in = c.in[:0]
	c.out = c.out[:0]
	c.sent = 0
	c.keepAlive = false
	c.proc.Reset()

	if err := c.env.Registrar.Add(fd, poller.Read|armFlags); err != nil {
		c.fd = -1
		c.peer = ""
		c.state.Store(int32(Free))
		return err
	}
	return nil
}

// Read drains the socket into the input buffer until it would block. It
// returns false when the peer closed or the read failed; the caller must then
// close the connection. On success the connection is Queued for the pool.
func (c *Conn) Read() bool {
	if c.State() != Reading {
		return false
	}
	for len(c.in) < c.env.MaxInput {
		c.in = slices.Grow(c.in, c.env.ReadChunk)
		room := min(cap(c.in), c.env.MaxInput) - len(c.in)
		n, err := c.env.IO.Read(c.fd, c.in[len(c.in):len(c.in)+room])
		if err != nil {
			if common.IsInterrupted(err) {
				continue
			}
			if common.IsWouldBlock(err) {
				break
			}
			c.env.Logger.Debug("Read failed",
				zap.String("conn_id", c.id),
				zap.Int("fd", c.fd),
				zap.Error(err))
			return false
		}
		if n == 0 {
			c.env.Logger.Debug("Peer closed connection",
				zap.String("conn_id", c.id),
				zap.Int("fd", c.fd))
			return false
		}
		c.in = c.in[:len(c.in)+n]
	}
	return c.transition(Reading, Queued)
}

// Process runs the Processor over the buffered input. It is the worker pool
// task and returns ownership to the reactor by re-arming the descriptor.
func (c *Conn) Process() {
	if !c.transition(Queued, Processing) {
		return
	}

	out := c.runProcessor()
	switch out.Status {
	case NeedMore:
		if len(c.in) >= c.env.MaxInput {
			c.env.Logger.Warn("Request exceeds input limit",
				zap.String("conn_id", c.id),
				zap.Int("limit", c.env.MaxInput))
			c.Close()
			return
		}
		c.handoff(Processing, Reading, poller.Read)
	case Respond:
		// Response may alias the input buffer, so copy it out before consuming.
		c.out = append(c.out, out.Response...)
		c.consume(out.Consumed)
		c.keepAlive = out.KeepAlive
		c.handoff(Processing, Writing, poller.Write)
	default:
		c.env.Logger.Debug("Protocol error, closing",
			zap.String("conn_id", c.id),
			zap.String("peer", c.peer))
		c.Close()
	}
}

func (c *Conn) runProcessor() (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.env.Logger.Error("Processor panicked",
				zap.String("conn_id", c.id),
				zap.Any("panic", r))
			out = Outcome{Status: Fatal}
		}
	}()
	return c.proc.Process(c.in)
}

// handoff releases a worker's ownership. The descriptor is captured before the
// state is published because the reactor may own the slot right after Arm.
func (c *Conn) handoff(from, to State, in poller.Interest) {
	if err := c.rearm(from, to, in); err != nil {
		c.Close()
	}
}

func (c *Conn) rearm(from, to State, in poller.Interest) error {
	fd, id := c.fd, c.id
	if !c.transition(from, to) {
		return common.ErrOwnership
	}
	if err := c.env.Registrar.Arm(fd, in|armFlags); err != nil {
		c.env.Logger.Warn("Failed to re-arm descriptor",
			zap.String("conn_id", id),
			zap.Int("fd", fd),
			zap.Error(err))
		return err
	}
	return nil
}

func (c *Conn) consume(n int) {
	if n <= 0 || n > len(c.in) {
		n = len(c.in)
	}
	rest := copy(c.in, c.in[n:])
	c.in = c.in[:rest]
}

// Write flushes the output buffer. A short write keeps the remaining bytes
// and re-arms for write readiness. After a full flush the connection is
// re-armed for read, dispatched again if pipelined input is waiting, or closed
// when keep-alive was not negotiated. It returns false when the caller must
// close the connection.
func (c *Conn) Write() bool {
	if c.State() != Writing {
		return false
	}
	for c.sent < len(c.out) {
		n, err := c.env.IO.Write(c.fd, c.out[c.sent:])
		if err != nil {
			if common.IsInterrupted(err) {
				continue
			}
			if common.IsWouldBlock(err) {
				return c.rearm(Writing, Writing, poller.Write) == nil
			}
			c.env.Logger.Debug("Write failed",
				zap.String("conn_id", c.id),
				zap.Int("fd", c.fd),
				zap.Error(err))
			return false
		}
		c.sent += n
	}
	c.out = c.out[:0]
	c.sent = 0

	if !c.keepAlive {
		c.Close()
		return true
	}
	if len(c.in) > 0 {
		if !c.transition(Writing, Queued) {
			return false
		}
		if err := c.env.Dispatch(c); err != nil {
			c.env.Logger.Warn("Failed to dispatch pipelined request",
				zap.String("conn_id", c.id),
				zap.Error(err))
			return false
		}
		return true
	}
	return c.rearm(Writing, Reading, poller.Read) == nil
}

// Shed answers a Queued connection with resp and closes it once resp is
// flushed. It is used when the pool refuses the connection.
func (c *Conn) Shed(resp []byte) error {
	if c.State() != Queued {
		return common.ErrOwnership
	}
	c.in = c.in[:0]
	c.out = append(c.out[:0], resp...)
	c.sent = 0
	c.keepAlive = false
	return c.rearm(Queued, Writing, poller.Write)
}

// Close tears the connection down. It is idempotent: only the first call on
// an active slot deregisters and closes the descriptor.
func (c *Conn) Close() {
	for {
		s := c.State()
		if s == Free || s == Closed {
			return
		}
		if c.state.CompareAndSwap(int32(s), int32(Closed)) {
			break
		}
	}

	fd := c.fd
	if err := c.env.Registrar.Remove(fd); err != nil {
		c.env.Logger.Debug("Failed to deregister descriptor", zap.Int("fd", fd), zap.Error(err))
	}
	c.in = c.in[:0]
	c.out = c.out[:0]
	c.sent = 0
	c.keepAlive = false
	c.proc.Reset()
	c.fd = -1
	c.peer = ""
	if c.env.OnClose != nil {
		c.env.OnClose()
	}

	// The slot is free before the descriptor number can be handed out again.
	c.state.Store(int32(Free))
	if err := c.env.IO.Close(fd); err != nil {
		c.env.Logger.Debug("Failed to close descriptor", zap.Int("fd", fd), zap.Error(err))
	}
}
