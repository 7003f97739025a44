// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bureau-foundation/tierbuf/lib/clock"
	"github.com/bureau-foundation/tierbuf/lib/config"
	"github.com/bureau-foundation/tierbuf/lib/process"
	"github.com/bureau-foundation/tierbuf/lib/service"
	"github.com/bureau-foundation/tierbuf/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		debug       bool
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to the server config (default: $TIERBUF_CONFIG, else the built-in layout)")
	flag.BoolVar(&debug, "debug", false, "log at debug level")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("tierbuf-service %s\n", version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return process.Usage(err)
	}

	logger := service.NewLogger()
	if debug {
		logger = service.NewLoggerTo(os.Stderr, slog.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server, err := NewServer(cfg, Options{
		Clock:    clock.Real(),
		Logger:   logger,
		Registry: registry,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Error("closing server", "error", err)
		}
	}()

	return server.Run(ctx)
}

// loadConfig reads the config named by path, then TIERBUF_CONFIG, then
// falls back to the built-in layout. The result is validated.
func loadConfig(path string) (*config.ServerConfig, error) {
	var (
		cfg *config.ServerConfig
		err error
	)
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv("TIERBUF_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
		cfg.ExpandVariables()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
