//go:build linux

package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tbxark/hsha/pkg/hsha/httpproto"
	"github.com/tbxark/hsha/pkg/hsha/server"
)

func TestIntegration_ServesDocRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>hsha</h1>\n"), 0o644))

	factory, err := httpproto.NewFactory(httpproto.DefaultConfig(root), zap.NewNop())
	require.NoError(t, err)

	cfg := server.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Backlog = 128
	cfg.MaxFD = 4096
	cfg.Workers = 4
	srv, err := server.NewServer(cfg, factory, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	}()

	ccfg := DefaultConfig(srv.Addr(), "/")
	ccfg.Connections = 8
	ccfg.Requests = 20
	c, err := New(ccfg, zap.NewNop())
	require.NoError(t, err)

	stats, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(160), stats.Status2xx)
	assert.Equal(t, uint64(8), stats.Dials, "connections are kept alive")
	assert.Equal(t, uint64(160*len("<h1>hsha</h1>\n")), stats.BodyBytes)

	ccfg.Path = "/missing.html"
	ccfg.Connections = 1
	c, err = New(ccfg, zap.NewNop())
	require.NoError(t, err)
	stats, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(20), stats.Status4xx)
}
