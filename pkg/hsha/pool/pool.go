// Package pool implements the fixed-size worker pool that performs blocking,
// CPU-bound connection processing off the reactor goroutine.
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tbxark/hsha/pkg/hsha/common"
	"github.com/tbxark/hsha/pkg/hsha/syncx"
)

// Task is one unit of work.
type Task interface {
	Process()
}

// Config holds worker pool configuration.
type Config struct {
	Workers    int `validate:"min=1"`
	QueueDepth int `validate:"min=0"` // 0 means unbounded
}

// Pool runs a fixed set of workers draining a shared FIFO queue.
type Pool[T Task] struct {
	cfg    Config
	logger *zap.Logger

	lock   syncx.Locker
	cond   *syncx.Cond
	queue  *queue.Queue // guarded by lock
	closed bool         // guarded by lock

	group     errgroup.Group
	closeOnce sync.Once

	stats struct {
		submitted atomic.Uint64
		completed atomic.Uint64
		rejected  atomic.Uint64
		panics    atomic.Uint64
	}
}

// Stats contains pool statistics.
type Stats struct {
	Workers   int
	Submitted uint64
	Completed uint64
	Rejected  uint64
	Panics    uint64
	Queued    int
}

// New validates cfg and starts cfg.Workers workers.
func New[T Task](cfg Config, logger *zap.Logger) (*Pool[T], error) {
	if err := common.ValidateStruct(&cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool[T]{
		cfg:    cfg,
		logger: logger,
		queue:  queue.New(),
	}
	p.cond = syncx.NewCond(&p.lock)

	for i := 0; i < cfg.Workers; i++ {
		id := i
		p.group.Go(func() error {
			p.work(id)
			return nil
		})
	}

	logger.Debug("Worker pool started",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_depth", cfg.QueueDepth))
	return p, nil
}

// Submit enqueues t. It never waits for queue space: a full queue returns
// common.ErrQueueFull and a closed pool returns common.ErrPoolClosed.
func (p *Pool[T]) Submit(t T) error {
	var err error
	p.lock.Do(func() {
		switch {
		case p.closed:
			err = common.ErrPoolClosed
		case p.cfg.QueueDepth > 0 && p.queue.Length() >= p.cfg.QueueDepth:
			err = common.ErrQueueFull
		default:
			p.queue.Add(t)
			p.stats.submitted.Add(1)
			p.cond.Signal()
		}
	})
	if err != nil {
		p.stats.rejected.Add(1)
	}
	return err
}

func (p *Pool[T]) next() (T, bool) {
	var (
		t  T
		ok bool
	)
	p.lock.Do(func() {
		p.cond.WaitUntil(func() bool {
			return p.closed || p.queue.Length() > 0
		})
		if p.queue.Length() == 0 {
			return
		}
		t = p.queue.Remove().(T)
		ok = true
	})
	return t, ok
}

func (p *Pool[T]) work(id int) {
	for {
		t, ok := p.next()
		if !ok {
			return
		}
		p.run(id, t)
	}
}

func (p *Pool[T]) run(id int, t T) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.panics.Add(1)
			p.logger.Error("Task panicked", zap.Int("worker", id), zap.Any("panic", r))
		}
		p.stats.completed.Add(1)
	}()
	t.Process()
}

// Close stops accepting work and waits until the workers have drained the
// queue. Tasks already running are never interrupted.
func (p *Pool[T]) Close() {
	p.closeOnce.Do(func() {
		p.lock.Do(func() {
			p.closed = true
			p.cond.Broadcast()
		})
	})
	_ = p.group.Wait()
}

// Stats returns pool statistics.
func (p *Pool[T]) Stats() Stats {
	var queued int
	p.lock.Do(func() {
		queued = p.queue.Length()
	})
	return Stats{
		Workers:   p.cfg.Workers,
		Submitted: p.stats.submitted.Load(),
		Completed: p.stats.completed.Load(),
		Rejected:  p.stats.rejected.Load(),
		Panics:    p.stats.panics.Load(),
		Queued:    queued,
	}
}
