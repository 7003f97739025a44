// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// defaultShutdownTimeout bounds the drain of in-flight inspection
// requests.
const defaultShutdownTimeout = 10 * time.Second

// HTTPServerConfig configures an HTTPServer. Address, Handler and
// Logger are required.
type HTTPServerConfig struct {
	// Address is a TCP listen address such as "127.0.0.1:9470". Port
	// 0 picks a free port; read it back with Addr.
	Address         string
	Handler         http.Handler
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// HTTPServer carries the daemon's read-only inspection routes and the
// /metrics endpoint. Its lifecycle mirrors SocketServer.
type HTTPServer struct {
	config HTTPServerConfig
	ready  chan struct{}
	addr   net.Addr
}

// NewHTTPServer validates config. It panics on a missing required
// field since that is a wiring bug, not a runtime condition.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	switch {
	case config.Address == "":
		panic("service.HTTPServer: Address is required")
	case config.Handler == nil:
		panic("service.HTTPServer: Handler is required")
	case config.Logger == nil:
		panic("service.HTTPServer: Logger is required")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	return &HTTPServer{config: config, ready: make(chan struct{})}
}

// Ready is closed once the listener is bound.
func (s *HTTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound address. Valid after Ready is closed.
func (s *HTTPServer) Addr() net.Addr {
	return s.addr
}

// Serve binds the listener and serves until ctx is cancelled, then
// shuts down gracefully within ShutdownTimeout.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler:           s.config.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
	logger := s.config.Logger.With("address", s.addr.String())
	logger.Info("inspection server listening")

	shutdownErr := make(chan error, 1)
	stop := context.AfterFunc(ctx, func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		shutdownErr <- server.Shutdown(drainCtx)
	})
	defer stop()

	err = server.Serve(listener)
	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	if err := <-shutdownErr; err != nil {
		logger.Error("inspection server shutdown", "error", err)
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info("inspection server stopped")
	return nil
}
