// Package client is a keep-alive HTTP/1.1 load client used to exercise the
// server over real sockets.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Stats summarizes one Run.
type Stats struct {
	Dials     uint64
	Requests  uint64
	Status2xx uint64
	Status3xx uint64
	Status4xx uint64
	Status5xx uint64
	Errors    uint64
	BodyBytes uint64
	Elapsed   time.Duration
}

// Client issues GET requests over persistent connections.
type Client struct {
	cfg     Config
	logger  *zap.Logger
	limiter *rate.Limiter

	stats struct {
		dials, requests, errors, bodyBytes atomic.Uint64
		classes                            [6]atomic.Uint64
	}
}

// New validates cfg and creates a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Host == "" {
		cfg.Host = cfg.Addr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{cfg: cfg, logger: logger}
	if cfg.Rate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Connections)
	}
	return c, nil
}

// Run opens cfg.Connections connections concurrently and sends cfg.Requests
// requests on each. It stops at the first connection that cannot be
// (re)established and returns the statistics gathered so far.
func (c *Client) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Connections; i++ {
		id := i
		g.Go(func() error {
			return c.worker(gctx, id)
		})
	}
	err := g.Wait()
	return c.snapshot(time.Since(start)), err
}

func (c *Client) snapshot(elapsed time.Duration) Stats {
	return Stats{
		Dials:     c.stats.dials.Load(),
		Requests:  c.stats.requests.Load(),
		Status2xx: c.stats.classes[2].Load(),
		Status3xx: c.stats.classes[3].Load(),
		Status4xx: c.stats.classes[4].Load(),
		Status5xx: c.stats.classes[5].Load(),
		Errors:    c.stats.errors.Load(),
		BodyBytes: c.stats.bodyBytes.Load(),
		Elapsed:   elapsed,
	}
}

func (c *Client) worker(ctx context.Context, id int) error {
	var conn net.Conn
	var r *bufio.Reader
	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
	}()

	for sent := 0; sent < c.cfg.Requests; sent++ {
		if conn == nil {
			var err error
			if conn, err = c.dial(ctx); err != nil {
				return fmt.Errorf("connection %d: %w", id, err)
			}
			r = bufio.NewReader(conn)
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		reuse, err := c.do(conn, r)
		if err != nil {
			c.stats.errors.Add(1)
			c.logger.Debug("Request failed",
				zap.Int("connection", id),
				zap.Error(err))
		}
		if err != nil || !reuse {
			_ = conn.Close()
			conn = nil
		}
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var conn net.Conn
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(policy, c.cfg.DialRetries), ctx)

	op := func() error {
		var err error
		conn, err = dialer.DialContext(ctx, "tcp", c.cfg.Addr)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn("Dial failed, will retry",
			zap.String("addr", c.cfg.Addr),
			zap.Duration("delay", next),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.cfg.Addr, err)
	}
	c.stats.dials.Add(1)
	return conn, nil
}

// do sends one request and reads its response. It reports whether the
// connection may carry another request.
func (c *Client) do(conn net.Conn, r *bufio.Reader) (bool, error) {
	if err := conn.SetDeadline(time.Now().Add(c.cfg.IOTimeout)); err != nil {
		return false, err
	}

	requestID := uuid.NewString()
	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: hsha-client\r\nX-Request-Id: %s\r\n\r\n",
		c.cfg.Path, c.cfg.Host, requestID)
	if _, err := io.WriteString(conn, req); err != nil {
		return false, err
	}
	c.stats.requests.Add(1)

	resp, err := http.ReadResponse(r, &http.Request{Method: http.MethodGet})
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return false, err
	}
	n, err := io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return false, err
	}

	c.stats.bodyBytes.Add(uint64(n))
	if class := resp.StatusCode / 100; class >= 2 && class <= 5 {
		c.stats.classes[class].Add(1)
	}
	c.logger.Debug("Response received",
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Int64("bytes", n))
	return !resp.Close, nil
}
