//go:build linux

// Package server runs the reactor: one goroutine multiplexes every socket
// through epoll and hands complete reads to a worker pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/tbxark/hsha/pkg/hsha/common"
	"github.com/tbxark/hsha/pkg/hsha/conn"
	"github.com/tbxark/hsha/pkg/hsha/poller"
	"github.com/tbxark/hsha/pkg/hsha/pool"
)

type Server struct {
	cfg     Config
	logger  *zap.Logger
	factory conn.ProcessorFactory

	limiter   *ConnectionLimiter
	ipLimiter *AcceptRateLimiter
	table     *conn.Table
	pool      *pool.Pool[*conn.Conn]
	poller    *poller.Epoll
	waker     *poller.Waker

	listenFd int
	addr     string
	closed   bool

	accepted atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

// Stats contains server statistics.
type Stats struct {
	Active   int
	Accepted uint64
	Rejected uint64 // admission refused: limit, rate or descriptor range
	Dropped  uint64 // refused by the worker pool
	Pool     pool.Stats
}

// NewServer validates cfg and allocates the connection table.
func NewServer(cfg Config, factory conn.ProcessorFactory, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		factory:  factory,
		limiter:  NewConnectionLimiter(cfg.MaxConnections),
		listenFd: -1,
	}
	return s, nil
}

// Listen binds the listening socket and prepares the poller and worker pool.
func (s *Server) Listen() (err error) {
	if s.listenFd >= 0 {
		return fmt.Errorf("server already listening on %s", s.addr)
	}

	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	fd, err := listenTCP4(s.cfg.Host, s.cfg.Port, s.cfg.Backlog)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, func() { _ = unix.Close(fd) })

	sa, err := unix.Getsockname(fd)
	if err != nil {
		return fmt.Errorf("getsockname: %w", err)
	}

	ep, err := poller.NewEpoll(s.cfg.MaxEvents)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, func() { _ = ep.Close() })

	if err := ep.Add(fd, poller.Read); err != nil {
		return err
	}
	waker, err := poller.NewWaker(ep)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, func() { _ = waker.Close() })

	workers, err := pool.New[*conn.Conn](pool.Config{
		Workers:    s.cfg.Workers,
		QueueDepth: s.cfg.QueueDepth,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	s.listenFd = fd
	s.addr = common.SockaddrString(sa)
	s.poller = ep
	s.waker = waker
	s.pool = workers
	s.ipLimiter = NewAcceptRateLimiter(s.cfg.PerIPRate, s.cfg.PerIPBurst)
	s.table = conn.NewTable(s.cfg.MaxFD, &conn.Env{
		Registrar: ep,
		IO:        conn.UnixIO{},
		Dispatch:  s.dispatch,
		OnClose:   s.limiter.Release,
		Logger:    s.logger,
		ReadChunk: s.cfg.ReadChunk,
		MaxInput:  s.cfg.MaxInput,
	}, s.factory)

	s.logger.Info("Server listening",
		zap.String("address", s.addr),
		zap.Int("workers", s.cfg.Workers),
		zap.Int("max_connections", s.cfg.MaxConnections))
	return nil
}

func listenTCP4(host string, port, backlog int) (int, error) {
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return -1, fmt.Errorf("invalid IPv4 address %q", host)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip)
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("failed to bind %s: %w", net.JoinHostPort(host, fmt.Sprint(port)), err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

// Addr returns the bound address, empty before Listen.
func (s *Server) Addr() string {
	return s.addr
}

// Start listens and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the reactor loop on the calling goroutine until ctx is done or
// the poller fails. On return every connection is closed and the worker pool
// has finished.
func (s *Server) Serve(ctx context.Context) error {
	if s.closed {
		return common.ErrServerClosed
	}
	if s.listenFd < 0 {
		return errors.New("server is not listening")
	}
	defer s.shutdown()

	woke := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(woke)
		if err := s.waker.Wake(); err != nil {
			s.logger.Error("Failed to wake reactor", zap.Error(err))
		}
	})
	// shutdown closes the waker, so a wake already in flight must finish first.
	defer func() {
		if !stop() {
			<-woke
		}
	}()

	events := make([]poller.Event, s.cfg.MaxEvents)
	for {
		n, err := s.poller.Wait(events)
		if err != nil {
			s.logger.Error("Reactor stopped on poller failure", zap.Error(err))
			return fmt.Errorf("reactor: %w", err)
		}
		if ctx.Err() != nil {
			s.logger.Info("Shutting down server")
			return ctx.Err()
		}

		batch := events[:n]
		for _, ev := range batch {
			switch ev.Fd {
			case s.listenFd:
				s.acceptAll()
			case s.waker.Fd():
				s.waker.Drain()
			}
		}
		for _, ev := range batch {
			if ev.Fd != s.listenFd && ev.Fd != s.waker.Fd() {
				s.handle(ev)
			}
		}
	}
}

func (s *Server) acceptAll() {
	for {
		fd, sa, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case common.IsInterrupted(err), errors.Is(err, unix.ECONNABORTED):
				continue
			case common.IsWouldBlock(err):
			default:
				s.logger.Warn("Failed to accept connection", zap.Error(err))
			}
			return
		}
		s.admit(fd, sa)
	}
}

func (s *Server) admit(fd int, sa unix.Sockaddr) {
	peer := common.SockaddrString(sa)

	if !s.ipLimiter.Allow(common.SockaddrIP(sa)) {
		s.reject(fd, peer, common.ErrRateLimited)
		return
	}
	if !s.limiter.Acquire() {
		s.reject(fd, peer, common.ErrConnectionLimit)
		return
	}
	c, err := s.table.Slot(fd)
	if err != nil {
		s.limiter.Release()
		s.reject(fd, peer, err)
		return
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	if err := c.Init(fd, peer); err != nil {
		s.limiter.Release()
		s.reject(fd, peer, err)
		return
	}

	s.accepted.Add(1)
	s.logger.Debug("Accepted connection",
		zap.String("conn_id", c.ID()),
		zap.String("peer", peer),
		zap.Int("fd", fd))
}

func (s *Server) reject(fd int, peer string, reason error) {
	s.rejected.Add(1)
	s.logger.Warn("Connection rejected",
		zap.String("peer", peer),
		zap.Int("fd", fd),
		zap.Error(reason))
	_ = unix.Close(fd)
}

// handle processes one readiness event for a connection descriptor. Events for
// slots a worker owns, or that were closed earlier in the batch, are stale.
func (s *Server) handle(ev poller.Event) {
	c, err := s.table.Slot(ev.Fd)
	if err != nil {
		return
	}
	state := c.State()
	if !state.ReactorOwned() {
		return
	}

	if ev.HangUp() {
		s.logger.Debug("Peer hung up",
			zap.String("conn_id", c.ID()),
			zap.String("peer", c.Peer()))
		c.Close()
		return
	}

	switch state {
	case conn.Reading:
		if !ev.Readable() {
			return
		}
		if !c.Read() {
			c.Close()
			return
		}
		if err := s.dispatch(c); err != nil {
			c.Close()
		}
	case conn.Writing:
		if !ev.Writable() {
			return
		}
		if !c.Write() {
			c.Close()
		}
	}
}

// dispatch submits a Queued connection to the worker pool and applies the
// overflow policy when the pool refuses it. A non-nil error means the caller
// must close the connection.
func (s *Server) dispatch(c *conn.Conn) error {
	err := s.pool.Submit(c)
	if err == nil {
		return nil
	}

	s.dropped.Add(1)
	s.logger.Warn("Worker pool refused connection",
		zap.String("conn_id", c.ID()),
		zap.String("peer", c.Peer()),
		zap.String("policy", s.cfg.Overflow),
		zap.Error(err))

	if s.cfg.Overflow == OverflowBusy && errors.Is(err, common.ErrQueueFull) {
		if shedErr := c.Shed(BusyResponse); shedErr == nil {
			return nil
		}
	}
	return err
}

func (s *Server) shutdown() {
	s.closed = true

	if err := unix.Close(s.listenFd); err != nil {
		s.logger.Warn("Failed to close listener", zap.Error(err))
	}
	s.listenFd = -1

	s.pool.Close()
	closed := s.table.CloseAll()
	s.ipLimiter.Close()

	_ = s.waker.Close()
	if err := s.poller.Close(); err != nil {
		s.logger.Warn("Failed to close poller", zap.Error(err))
	}

	s.logger.Info("Server stopped",
		zap.Int("closed_connections", closed),
		zap.Uint64("accepted", s.accepted.Load()),
		zap.Uint64("rejected", s.rejected.Load()))
}

// Stats returns server statistics. It is safe to call while Serve runs.
func (s *Server) Stats() Stats {
	st := Stats{
		Active:   s.limiter.Active(),
		Accepted: s.accepted.Load(),
		Rejected: s.rejected.Load(),
		Dropped:  s.dropped.Load(),
	}
	if s.pool != nil {
		st.Pool = s.pool.Stats()
	}
	return st
}
