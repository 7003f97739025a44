// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bureau-foundation/tierbuf/lib/engine"
	"github.com/bureau-foundation/tierbuf/lib/service"
)

// Client is a typed tierbuf socket client. Safe for concurrent use.
type Client struct {
	client *service.ServiceClient
}

// New creates a client for the server listening on socketPath.
func New(socketPath string) (*Client, error) {
	if socketPath == "" {
		return nil, errors.New("tierbuf socket path is required")
	}
	return &Client{client: service.NewServiceClient(socketPath)}, nil
}

// SetMaxResponseSize bounds one response, which must hold the largest
// blob read issued through this client.
func (c *Client) SetMaxResponseSize(size int64) {
	c.client.SetMaxResponseSize(size)
}

// sentinels are matched against server error messages.
var sentinels = []error{
	engine.ErrStagerNotFound,
	engine.ErrTagNotFound,
	engine.ErrBlobNotFound,
	engine.ErrOutOfSpace,
	engine.ErrStagingFailed,
	engine.ErrInvalidRange,
}

// RemoteError is a server-side failure whose message names engine
// sentinels. errors.Is matches each named sentinel and the underlying
// *service.ServiceError.
type RemoteError struct {
	*service.ServiceError
	matched []error
}

func (e *RemoteError) Unwrap() []error {
	return append([]error{e.ServiceError}, e.matched...)
}

// call issues one action and maps sentinel messages onto errors.
func (c *Client) call(ctx context.Context, action string, fields map[string]any, result any) error {
	err := c.client.Call(ctx, action, fields, result)
	if err == nil {
		return nil
	}
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		return err
	}
	var matched []error
	for _, sentinel := range sentinels {
		if strings.Contains(serviceErr.Message, sentinel.Error()) {
			matched = append(matched, sentinel)
		}
	}
	if len(matched) == 0 {
		return err
	}
	return &RemoteError{ServiceError: serviceErr, matched: matched}
}

// IsNotFound reports whether err is a missing tag, blob or stager.
func IsNotFound(err error) bool {
	return errors.Is(err, engine.ErrTagNotFound) ||
		errors.Is(err, engine.ErrBlobNotFound) ||
		errors.Is(err, engine.ErrStagerNotFound)
}

// IsOutOfSpace reports whether err is a write no target could hold.
func IsOutOfSpace(err error) bool {
	return errors.Is(err, engine.ErrOutOfSpace)
}

// Status is the response to the "status" action.
type Status struct {
	UptimeSeconds float64 `cbor:"uptime_seconds"`
	InstanceID    string  `cbor:"instance_id"`
	Version       string  `cbor:"version"`
	Node          uint32  `cbor:"node"`
	Lanes         int     `cbor:"lanes"`
	Tags          int     `cbor:"tags"`
	Blobs         int     `cbor:"blobs"`
	Targets       int     `cbor:"targets"`
}

// Uptime returns UptimeSeconds as a duration.
func (s Status) Uptime() time.Duration {
	return time.Duration(s.UptimeSeconds * float64(time.Second))
}

// Status returns server liveness and counts.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := c.call(ctx, "status", nil, &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// FlushAll stages out every dirty blob and returns how many were
// written.
func (c *Client) FlushAll(ctx context.Context) (int, error) {
	var response struct {
		Flushed int `cbor:"flushed"`
	}
	if err := c.call(ctx, "flush-all", nil, &response); err != nil {
		return 0, err
	}
	return response.Flushed, nil
}

func requireName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name is required", kind)
	}
	return nil
}
