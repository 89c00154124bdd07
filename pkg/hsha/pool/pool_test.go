package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tbxark/hsha/pkg/hsha/common"
)

type funcTask func()

func (f funcTask) Process() { f() }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no workers", cfg: Config{Workers: 0}},
		{name: "negative depth", cfg: Config{Workers: 1, QueueDepth: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New[funcTask](tt.cfg, zap.NewNop())
			assert.Error(t, err)
			assert.Nil(t, p)
		})
	}
}

func TestPool_ProcessesEveryTaskOnce(t *testing.T) {
	p, err := New[funcTask](Config{Workers: 4}, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	const n = 1000
	var hits [n]atomic.Int32
	for i := 0; i < n; i++ {
		i := i
		require.NoError(t, p.Submit(func() {
			hits[i].Add(1)
		}))
	}

	waitFor(t, func() bool { return p.Stats().Completed == n })
	for i := range hits {
		assert.Equal(t, int32(1), hits[i].Load(), "task %d", i)
	}
}

func TestPool_FIFOWithSingleWorker(t *testing.T) {
	p, err := New[funcTask](Config{Workers: 1}, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, p.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}

	waitFor(t, func() bool { return p.Stats().Completed == 50 })
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestPool_QueueFullNeverBlocks(t *testing.T) {
	p, err := New[funcTask](Config{Workers: 1, QueueDepth: 2}, zap.NewNop())
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	require.NoError(t, p.Submit(func() {}))
	require.NoError(t, p.Submit(func() {}))

	start := time.Now()
	for i := 0; i < 100; i++ {
		assert.ErrorIs(t, p.Submit(func() {}), common.ErrQueueFull)
	}
	assert.Less(t, time.Since(start), time.Second)

	stats := p.Stats()
	assert.Equal(t, uint64(100), stats.Rejected)
	assert.Equal(t, 2, stats.Queued)

	close(release)
	p.Close()
	assert.Equal(t, uint64(3), p.Stats().Completed)
}

func TestPool_CloseDrainsQueue(t *testing.T) {
	p, err := New[funcTask](Config{Workers: 2}, zap.NewNop())
	require.NoError(t, err)

	var done atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(func() {
			time.Sleep(time.Millisecond)
			done.Add(1)
		}))
	}

	p.Close()
	assert.Equal(t, int32(20), done.Load())
	assert.ErrorIs(t, p.Submit(func() {}), common.ErrPoolClosed)

	// Second close returns without blocking.
	p.Close()
}

func TestPool_RecoversPanickingTask(t *testing.T) {
	p, err := New[funcTask](Config{Workers: 1}, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	var ran atomic.Bool
	require.NoError(t, p.Submit(func() { panic("bad task") }))
	require.NoError(t, p.Submit(func() { ran.Store(true) }))

	waitFor(t, ran.Load)
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Panics)
	assert.Equal(t, 1, stats.Workers)
}

func BenchmarkPool_Submit(b *testing.B) {
	p, err := New[funcTask](Config{Workers: 8}, zap.NewNop())
	require.NoError(b, err)
	defer p.Close()

	noop := funcTask(func() {})
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = p.Submit(noop)
		}
	})
}
