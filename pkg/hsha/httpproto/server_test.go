//go:build linux

package httpproto

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tbxark/hsha/pkg/hsha/server"
)

func serve(t *testing.T, scfg server.Config, hcfg Config) string {
	t.Helper()
	factory, err := NewFactory(hcfg, zap.NewNop())
	require.NoError(t, err)
	srv, err := server.NewServer(scfg, factory, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv.Addr()
}

func testServerConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.MaxFD = 4096
	cfg.MaxConnections = 64
	cfg.Workers = 2
	return cfg
}

func TestDefaultLimitsFit(t *testing.T) {
	hcfg := DefaultConfig(".")
	assert.NoError(t, hcfg.CheckInput(server.DefaultConfig().MaxInput))
}

func TestServer_BodyAtLimitGetsResponse(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*server.Config, *Config)
	}{
		{
			name:   "default limits",
			modify: func(*server.Config, *Config) {},
		},
		{
			name: "input limit derived from processor limits",
			modify: func(s *server.Config, h *Config) {
				h.MaxBodyBytes = 64 << 10
				s.MaxInput = h.MinInput()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scfg := testServerConfig()
			hcfg := DefaultConfig(docRoot(t))
			tt.modify(&scfg, &hcfg)
			require.NoError(t, hcfg.CheckInput(scfg.MaxInput))
			addr := serve(t, scfg, hcfg)

			c, err := net.DialTimeout("tcp", addr, 2*time.Second)
			require.NoError(t, err)
			defer c.Close()
			require.NoError(t, c.SetDeadline(time.Now().Add(10*time.Second)))

			n := hcfg.MaxBodyBytes
			head := fmt.Sprintf("POST / HTTP/1.1\r\nHost: x\r\nContent-Length: %d\r\n\r\n", n)
			go func() {
				_, _ = io.WriteString(c, head)
				_, _ = io.WriteString(c, strings.Repeat("b", n))
			}()

			resp, err := http.ReadResponse(bufio.NewReader(c), &http.Request{Method: "POST"})
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Equal(t, 405, resp.StatusCode)
			assert.Equal(t, "GET, HEAD", resp.Header.Get("Allow"))
		})
	}
}
