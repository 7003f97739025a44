// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/tierbuf/lib/codec"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for a response
// after writing the request: the server's read and write timeouts
// plus handler time.
const responseReadTimeout = 45 * time.Second

// ServiceError is returned by Call when the server responds with
// ok=false.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// ServiceClient sends CBOR requests to a tierbuf socket. Each Call
// opens a new connection, matching the server's one-request-per-
// connection model.
type ServiceClient struct {
	socketPath      string
	maxResponseSize int64
}

// NewServiceClient creates a client for the server at socketPath.
func NewServiceClient(socketPath string) *ServiceClient {
	return &ServiceClient{
		socketPath:      socketPath,
		maxResponseSize: DefaultMaxRequestSize,
	}
}

// SetMaxResponseSize bounds the encoded size of one response. A blob
// get returns its payload inline, so this must cover the largest read
// the caller issues. Non-positive values keep the default.
func (c *ServiceClient) SetMaxResponseSize(size int64) {
	if size > 0 {
		c.maxResponseSize = size
	}
}

// SocketPath returns the socket this client dials.
func (c *ServiceClient) SocketPath() string {
	return c.socketPath
}

// Call sends a request and decodes the response.
//
// fields carries the action-specific request fields; the client adds
// "action". Pass nil for actions without parameters. fields must not
// contain an "action" key.
//
// On ok=true, response data is decoded into result when both are
// present. On ok=false, Call returns a *ServiceError. Connection and
// encoding failures are plain errors.
func (c *ServiceClient) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ServiceError{
			Action:  action,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// send connects, writes the request and reads the response.
func (c *ServiceClient) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	// Abort a blocked read or write when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close so the server's read side sees EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, c.maxResponseSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}
