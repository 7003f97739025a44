// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/tierbuf/lib/bdev"
	"github.com/bureau-foundation/tierbuf/lib/clock"
	"github.com/bureau-foundation/tierbuf/lib/config"
	"github.com/bureau-foundation/tierbuf/lib/engine"
	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/inspect"
	"github.com/bureau-foundation/tierbuf/lib/placement"
	"github.com/bureau-foundation/tierbuf/lib/service"
	"github.com/bureau-foundation/tierbuf/lib/target"
)

// drainTimeout bounds the final flush after shutdown is requested.
const drainTimeout = 30 * time.Second

// Options are the process-level collaborators of a Server.
type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger

	// Registry receives every metric and backs /metrics. Nil creates
	// a private registry.
	Registry *prometheus.Registry

	// PlacementSeed fixes the Random policy's sequence. Zero seeds
	// from the time.
	PlacementSeed uint64
}

// Server wires the engine to its socket and background tasks.
type Server struct {
	config     *config.ServerConfig
	clock      clock.Clock
	logger     *slog.Logger
	instanceID string
	startedAt  time.Time

	targets *target.Registry
	engine  *engine.Engine
	socket  *service.SocketServer
	http    *service.HTTPServer
}

// NewServer opens every configured device and builds the engine. On
// failure, devices opened so far are closed.
func NewServer(cfg *config.ServerConfig, opts Options) (*Server, error) {
	if opts.Clock == nil || opts.Logger == nil {
		return nil, errors.New("server needs a clock and a logger")
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	policy, err := placement.ParsePolicy(cfg.DPE.DefaultPlacementPolicy)
	if err != nil {
		return nil, err
	}

	instanceID := uuid.NewString()
	logger := opts.Logger.With("instance", instanceID)

	devices := make([]target.Device, 0, len(cfg.Devices))
	closeDevices := func() {
		for _, device := range devices {
			_ = device.Close()
		}
	}
	for _, deviceConfig := range cfg.Devices {
		device, err := bdev.Open(deviceConfig)
		if err != nil {
			closeDevices()
			return nil, err
		}
		devices = append(devices, device)
	}

	allocator := ident.NewAllocator(cfg.NodeID)
	targets, err := target.NewRegistry(target.RegistryConfig{
		Devices:    devices,
		Allocator:  allocator,
		Clock:      opts.Clock,
		Logger:     logger,
		Registerer: opts.Registry,
	})
	if err != nil {
		closeDevices()
		return nil, err
	}

	eng, err := engine.New(engine.Config{
		Lanes:          cfg.Lanes,
		Targets:        targets,
		Placement:      placement.NewEngine(targets.Fallback().ID(), opts.PlacementSeed),
		Allocator:      allocator,
		Clock:          opts.Clock,
		Logger:         logger,
		Registerer:     opts.Registry,
		DefaultPolicy:  policy,
		IOPatternDepth: cfg.IOPatternDepth,
		Reorganizer: engine.ReorganizerConfig{
			RecencyMax: cfg.Reorganizer.RecencyMax.Std(),
			FreqMax:    cfg.Reorganizer.FreqMax,
			Threshold:  cfg.Reorganizer.Threshold,
		},
	})
	if err != nil {
		_ = targets.Close()
		return nil, err
	}

	s := &Server{
		config:     cfg,
		clock:      opts.Clock,
		logger:     logger,
		instanceID: instanceID,
		startedAt:  opts.Clock.Now(),
		targets:    targets,
		engine:     eng,
		socket:     service.NewSocketServer(cfg.SocketPath, logger),
	}
	s.socket.SetMaxRequestSize(int64(cfg.MaxRequestSize))
	s.registerActions(s.socket)

	if cfg.HTTPAddress != "" {
		s.http = service.NewHTTPServer(service.HTTPServerConfig{
			Address: cfg.HTTPAddress,
			Handler: inspect.NewHandler(eng, opts.Registry, logger),
			Logger:  logger,
		})
	}
	return s, nil
}

// Ready is closed once the socket accepts requests.
func (s *Server) Ready() <-chan struct{} {
	return s.socket.Ready()
}

// HTTP returns the inspection server, nil when disabled.
func (s *Server) HTTP() *service.HTTPServer {
	return s.http
}

// Run serves until ctx is cancelled, then drains every dirty blob to
// its staging backend. The returned error is the first serving failure
// or the drain failure.
func (s *Server) Run(ctx context.Context) error {
	taskCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()

	var tasks sync.WaitGroup
	start := func(fn func()) {
		tasks.Add(1)
		go func() {
			defer tasks.Done()
			fn()
		}()
	}

	start(func() { s.targets.Run(taskCtx, s.config.StatsPeriod.Std()) })
	start(func() { s.engine.RunFlush(taskCtx, s.config.FlushPeriod.Std()) })
	if s.config.Reorganizer.Enabled {
		start(func() { s.engine.RunReorganizer(taskCtx, s.config.Reorganizer.Period.Std()) })
	}

	serveErrors := make(chan error, 2)
	start(func() { serveErrors <- s.socket.Serve(taskCtx) })
	if s.http != nil {
		start(func() { serveErrors <- s.http.Serve(taskCtx) })
	}

	s.logger.Info("tierbuf server running",
		"socket", s.config.SocketPath,
		"http", s.config.HTTPAddress,
		"targets", len(s.targets.Targets()),
		"lanes", s.engine.LaneCount(),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case serveErr = <-serveErrors:
		if serveErr != nil {
			s.logger.Error("server stopped unexpectedly", "error", serveErr)
		}
	}
	cancelTasks()
	tasks.Wait()

	// Nothing touches the engine past this point except the drain.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	drained, err := s.engine.Drain(drainCtx)
	if err != nil {
		s.logger.Error("drain failed", "drained", drained, "error", err)
		return errors.Join(serveErr, fmt.Errorf("draining dirty blobs: %w", err))
	}
	s.logger.Info("drain complete", "drained", drained)
	return serveErr
}

// Close releases stagers and devices. Call after Run returns.
func (s *Server) Close() error {
	return errors.Join(s.engine.Close(), s.targets.Close())
}
