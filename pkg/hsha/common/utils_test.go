package common

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestIsWouldBlock(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "eagain", err: unix.EAGAIN, expected: true},
		{name: "wrapped eagain", err: fmt.Errorf("read: %w", unix.EAGAIN), expected: true},
		{name: "econnreset", err: unix.ECONNRESET, expected: false},
		{name: "nil", err: nil, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsWouldBlock(tt.err))
		})
	}
}

func TestIsInterrupted(t *testing.T) {
	assert.True(t, IsInterrupted(unix.EINTR))
	assert.True(t, IsInterrupted(fmt.Errorf("epoll wait: %w", unix.EINTR)))
	assert.False(t, IsInterrupted(unix.EBADF))
}

func TestSockaddrString(t *testing.T) {
	tests := []struct {
		name     string
		sa       unix.Sockaddr
		expected string
		ip       string
	}{
		{
			name:     "ipv4",
			sa:       &unix.SockaddrInet4{Port: 8080, Addr: [4]byte{127, 0, 0, 1}},
			expected: "127.0.0.1:8080",
			ip:       "127.0.0.1",
		},
		{
			name:     "ipv6 loopback",
			sa:       &unix.SockaddrInet6{Port: 443, Addr: [16]byte{15: 1}},
			expected: "[::1]:443",
			ip:       "::1",
		},
		{
			name:     "unix",
			sa:       &unix.SockaddrUnix{Name: "/tmp/sock"},
			expected: "/tmp/sock",
			ip:       "",
		},
		{
			name:     "nil",
			sa:       nil,
			expected: "",
			ip:       "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SockaddrString(tt.sa))
			assert.Equal(t, tt.ip, SockaddrIP(tt.sa))
		})
	}
}
