//go:build linux

package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func waitOne(t *testing.T, p *Epoll) []Event {
	t.Helper()
	events := make([]Event, 8)
	done := make(chan int, 1)
	go func() {
		n, err := p.Wait(events)
		assert.NoError(t, err)
		done <- n
	}()
	select {
	case n := <-done:
		return events[:n]
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
		return nil
	}
}

func TestEpoll_OneShotReadiness(t *testing.T) {
	p, err := NewEpoll(16)
	require.NoError(t, err)
	defer p.Close()

	a, b := socketPair(t)
	require.NoError(t, p.Add(a, Read|EdgeTriggered|OneShot))

	_, err = unix.Write(b, []byte("x"))
	require.NoError(t, err)

	events := waitOne(t, p)
	require.Len(t, events, 1)
	assert.Equal(t, a, events[0].Fd)
	assert.True(t, events[0].Readable())
	assert.False(t, events[0].HangUp())

	// Disarmed after one shot: a waker is the only thing that can fire now.
	w, err := NewWaker(p)
	require.NoError(t, err)
	defer w.Close()
	_, err = unix.Write(b, []byte("y"))
	require.NoError(t, err)
	require.NoError(t, w.Wake())

	events = waitOne(t, p)
	require.Len(t, events, 1)
	assert.Equal(t, w.Fd(), events[0].Fd)
	w.Drain()

	// Re-arming delivers the pending data again.
	require.NoError(t, p.Arm(a, Read|EdgeTriggered|OneShot))
	events = waitOne(t, p)
	require.Len(t, events, 1)
	assert.Equal(t, a, events[0].Fd)
}

func TestEpoll_WriteAndHangUp(t *testing.T) {
	p, err := NewEpoll(16)
	require.NoError(t, err)
	defer p.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	a, b := fds[0], fds[1]
	defer unix.Close(a)

	require.NoError(t, p.Add(a, Write|EdgeTriggered|OneShot))
	events := waitOne(t, p)
	require.Len(t, events, 1)
	assert.True(t, events[0].Writable())

	require.NoError(t, unix.Close(b))
	require.NoError(t, p.Arm(a, Read|EdgeTriggered|OneShot))
	events = waitOne(t, p)
	require.Len(t, events, 1)
	assert.True(t, events[0].HangUp())
}

func TestEpoll_RemoveUnknown(t *testing.T) {
	p, err := NewEpoll(0)
	require.NoError(t, err)
	defer p.Close()

	assert.Error(t, p.Remove(12345))
	assert.Error(t, p.Arm(12345, Read))
}
