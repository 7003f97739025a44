// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/tierbuf/lib/codec"
)

// ActionFunc handles one action. raw is the whole CBOR request map,
// "action" included; the handler decodes the fields it needs. A nil
// result answers {ok: true}, anything else is carried in "data".
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope of every socket response.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// DefaultMaxRequestSize bounds one encoded request (and, on the client
// side, one response) unless configured otherwise.
const DefaultMaxRequestSize = 64 << 20

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// SocketServer is the tierbuf RPC surface: one CBOR request and one
// CBOR response per Unix socket connection, dispatched by action name.
// Register every action with Handle before Serve.
type SocketServer struct {
	socketPath     string
	logger         *slog.Logger
	handlers       map[string]ActionFunc
	maxRequestSize int64
	ready          chan struct{}
	inflight       sync.WaitGroup
}

// NewSocketServer creates a server for socketPath.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath:     socketPath,
		logger:         logger,
		handlers:       make(map[string]ActionFunc),
		maxRequestSize: DefaultMaxRequestSize,
		ready:          make(chan struct{}),
	}
}

// SetMaxRequestSize bounds one encoded request. Puts carry their data
// inline, so this is also the largest single write. Non-positive
// values keep the current limit.
func (s *SocketServer) SetMaxRequestSize(size int64) {
	if size > 0 {
		s.maxRequestSize = size
	}
}

// Handle registers handler under action. Registering an action twice
// panics.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Actions lists the registered actions in sorted order.
func (s *SocketServer) Actions() []string {
	return slices.Sorted(maps.Keys(s.handlers))
}

// Ready is closed once the socket accepts connections.
func (s *SocketServer) Ready() <-chan struct{} {
	return s.ready
}

// Serve listens on the socket path, replacing a stale socket file, and
// dispatches until ctx is cancelled. It then waits for in-flight
// handlers and removes the socket file.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer os.Remove(s.socketPath)
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.logger.Info("socket server listening",
		"path", s.socketPath,
		"actions", len(s.handlers),
		"max_request_size", s.maxRequestSize,
	)
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.inflight.Go(func() { s.serveConn(ctx, conn) })
	}
	listener.Close()
	s.inflight.Wait()
	return nil
}

// serveConn answers the single request carried by conn.
func (s *SocketServer) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	err := codec.NewDecoder(io.LimitReader(conn, s.maxRequestSize)).Decode(&raw)
	switch {
	case errors.Is(err, io.EOF):
		// The peer connected and hung up without a request.
		return
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.respond(conn, nil, fmt.Errorf("invalid request: truncated or larger than %d bytes", s.maxRequestSize))
		return
	case err != nil:
		s.respond(conn, nil, fmt.Errorf("invalid request: %w", err))
		return
	}

	action, result, err := s.dispatch(ctx, raw)
	if err != nil && action != "" {
		s.logger.Debug("action failed", "action", action, "error", err)
	}
	s.respond(conn, result, err)
}

// dispatch routes raw to its handler. action is empty when the
// request could not be routed.
func (s *SocketServer) dispatch(ctx context.Context, raw codec.RawMessage) (action string, result any, err error) {
	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		return "", nil, fmt.Errorf("invalid request: %w", err)
	}
	if header.Action == "" {
		return "", nil, errors.New("missing required field: action")
	}
	handler, ok := s.handlers[header.Action]
	if !ok {
		return "", nil, fmt.Errorf("unknown action %q", header.Action)
	}
	result, err = handler(ctx, raw)
	return header.Action, result, err
}

// respond writes the envelope for result or err. Write failures are
// logged at debug; the connection is closing either way.
func (s *SocketServer) respond(conn net.Conn, result any, err error) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	response := Response{OK: err == nil}
	if err != nil {
		response.Error = err.Error()
	} else if result != nil {
		data, marshalErr := codec.Marshal(result)
		if marshalErr != nil {
			response = Response{Error: fmt.Sprintf("internal: marshaling response: %v", marshalErr)}
		} else {
			response.Data = data
		}
	}
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("writing response", "error", err)
	}
}
