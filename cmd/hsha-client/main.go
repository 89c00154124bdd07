package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tbxark/hsha/pkg/hsha/client"
	"github.com/tbxark/hsha/pkg/hsha/common"
	"github.com/tbxark/hsha/pkg/hsha/version"
)

func main() {
	cfg, logLevel, err := parseFlags()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger, err := common.NewLoggerFromString(logLevel)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	c, err := client.New(*cfg, logger)
	if err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	logger.Info("HSHA Client starting",
		zap.String("server", cfg.Addr),
		zap.String("path", cfg.Path),
		zap.Int("connections", cfg.Connections),
		zap.Int("requests", cfg.Requests),
		zap.Float64("rate", cfg.Rate))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stats, err := c.Run(ctx)
	logger.Info("HSHA Client finished",
		zap.Uint64("dials", stats.Dials),
		zap.Uint64("requests", stats.Requests),
		zap.Uint64("2xx", stats.Status2xx),
		zap.Uint64("3xx", stats.Status3xx),
		zap.Uint64("4xx", stats.Status4xx),
		zap.Uint64("5xx", stats.Status5xx),
		zap.Uint64("errors", stats.Errors),
		zap.Uint64("body_bytes", stats.BodyBytes),
		zap.Duration("elapsed", stats.Elapsed))

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Client error", zap.Error(err))
		os.Exit(1)
	}
}

func parseFlags() (*client.Config, string, error) {
	cfg := client.DefaultConfig("", "/")
	var (
		logLevel    string
		showVersion bool
	)

	pflag.StringVar(&cfg.Addr, "server", "", "Server address host:port (required)")
	pflag.StringVar(&cfg.Path, "path", cfg.Path, "Request path")
	pflag.StringVar(&cfg.Host, "host-header", "", "Host header, defaults to the server address")
	pflag.IntVarP(&cfg.Connections, "connections", "c", cfg.Connections, "Number of concurrent connections")
	pflag.IntVarP(&cfg.Requests, "requests", "n", cfg.Requests, "Requests per connection")
	pflag.Float64Var(&cfg.Rate, "rate", 0, "Total requests per second, 0 for unlimited")
	pflag.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Timeout for each dial attempt")
	pflag.DurationVar(&cfg.IOTimeout, "io-timeout", 10*time.Second, "Timeout for each request")
	pflag.Uint64Var(&cfg.DialRetries, "dial-retries", cfg.DialRetries, "Extra dial attempts with exponential backoff")
	pflag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pflag.BoolVarP(&showVersion, "version", "v", false, "Show version information")

	pflag.Parse()

	if showVersion {
		fmt.Println(version.GetFullVersion())
		os.Exit(0)
	}

	if cfg.Addr == "" {
		return nil, "", fmt.Errorf("--server is required")
	}
	return &cfg, logLevel, nil
}
