//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tbxark/hsha/pkg/hsha/common"
	"github.com/tbxark/hsha/pkg/hsha/httpproto"
	"github.com/tbxark/hsha/pkg/hsha/server"
	"github.com/tbxark/hsha/pkg/hsha/version"
)

type options struct {
	server   server.Config
	http     httpproto.Config
	logLevel string
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n\nusage: %s [flags] port_number\n", err, os.Args[0])
		pflag.PrintDefaults()
		os.Exit(1)
	}

	logger, err := common.NewLoggerFromString(opts.logLevel)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := opts.server.Validate(); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}
	// A request the processor accepts must fit in the connection buffer.
	if err := opts.http.CheckInput(opts.server.MaxInput); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}
	factory, err := httpproto.NewFactory(opts.http, logger)
	if err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	logger.Info("HSHA Server starting",
		zap.String("version", version.GetVersion()),
		zap.String("host", opts.server.Host),
		zap.Int("port", opts.server.Port),
		zap.Int("workers", opts.server.Workers),
		zap.Int("queue_depth", opts.server.QueueDepth),
		zap.String("overflow", opts.server.Overflow),
		zap.Int("max_connections", opts.server.MaxConnections),
		zap.String("doc_root", opts.http.DocRoot))

	srv, err := server.NewServer(opts.server, factory, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	signal.Ignore(syscall.SIGPIPE)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		if err := <-errChan; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Server error during shutdown", zap.Error(err))
			os.Exit(1)
		}
	case err := <-errChan:
		logger.Error("Server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("HSHA Server stopped")
}

func parseFlags() (*options, error) {
	cfg := server.DefaultConfig()
	hcfg := httpproto.DefaultConfig(".")
	var (
		logLevel    string
		showVersion bool
	)

	pflag.StringVar(&cfg.Host, "host", cfg.Host, "IPv4 address to bind")
	pflag.IntVar(&cfg.Port, "port", 0, "Port to listen on (or pass it as the first argument)")
	pflag.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "Listen backlog")
	pflag.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "Maximum number of live connections")
	pflag.IntVar(&cfg.MaxFD, "max-fd", cfg.MaxFD, "Size of the connection table (highest descriptor number + 1)")
	pflag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of worker goroutines")
	pflag.IntVar(&cfg.QueueDepth, "queue-depth", cfg.QueueDepth, "Maximum queued connections, 0 for unbounded")
	pflag.StringVar(&cfg.Overflow, "overflow", cfg.Overflow, "Policy when the queue is full: drop or busy")
	pflag.IntVar(&cfg.MaxEvents, "max-events", cfg.MaxEvents, "Maximum readiness events per wait")
	pflag.IntVar(&cfg.MaxInput, "max-input", cfg.MaxInput, "Maximum buffered input per connection, defaults to header plus body limit")
	pflag.Float64Var(&cfg.PerIPRate, "per-ip-rate", 0, "Accepted connections per second per client IP, 0 disables")
	pflag.IntVar(&cfg.PerIPBurst, "per-ip-burst", 0, "Burst of accepted connections per client IP")
	pflag.StringVar(&hcfg.DocRoot, "doc-root", hcfg.DocRoot, "Directory served to clients")
	pflag.IntVar(&hcfg.MaxHeaderBytes, "max-header-bytes", hcfg.MaxHeaderBytes, "Maximum size of a request header section")
	pflag.IntVar(&hcfg.MaxBodyBytes, "max-body-bytes", hcfg.MaxBodyBytes, "Maximum size of a request body")
	pflag.Int64Var(&hcfg.MaxFileSize, "max-file-size", hcfg.MaxFileSize, "Largest file served, bytes")
	pflag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pflag.BoolVarP(&showVersion, "version", "v", false, "Show version information")

	pflag.Parse()

	if showVersion {
		fmt.Println(version.GetFullVersion())
		os.Exit(0)
	}

	if pflag.NArg() > 0 {
		port, err := strconv.Atoi(pflag.Arg(0))
		if err != nil {
			return nil, fmt.Errorf("invalid port number %q: %w", pflag.Arg(0), err)
		}
		cfg.Port = port
	} else if !pflag.CommandLine.Changed("port") {
		return nil, errors.New("port number is required")
	}
	if cfg.PerIPRate > 0 && cfg.PerIPBurst == 0 {
		cfg.PerIPBurst = 1
	}
	if !pflag.CommandLine.Changed("max-input") {
		cfg.MaxInput = max(cfg.MaxInput, hcfg.MinInput())
	}

	return &options{server: cfg, http: hcfg, logLevel: logLevel}, nil
}
