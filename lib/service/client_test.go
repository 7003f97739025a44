// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bureau-foundation/tierbuf/lib/codec"
	"github.com/bureau-foundation/tierbuf/lib/testutil"
)

func TestClientCall(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		return map[string]any{"uptime_seconds": 42}, nil
	})
	startServer(t, server)

	client := NewServiceClient(socketPath)
	var result map[string]any
	if err := client.Call(t.Context(), "status", nil, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["uptime_seconds"] != uint64(42) {
		t.Errorf("uptime_seconds: got %v (%T), want 42", result["uptime_seconds"], result["uptime_seconds"])
	}
}

func TestClientCallCarriesBinaryPayload(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("put", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Data []byte `cbor:"data"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return map[string]any{"data": request.Data, "written": len(request.Data)}, nil
	})
	startServer(t, server)

	payload := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 64<<10)
	client := NewServiceClient(socketPath)
	var result struct {
		Data    []byte `cbor:"data"`
		Written int    `cbor:"written"`
	}
	if err := client.Call(t.Context(), "put", map[string]any{"data": payload}, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Written != len(payload) || !bytes.Equal(result.Data, payload) {
		t.Errorf("payload did not survive the round trip (written = %d)", result.Written)
	}
}

func TestClientCallNilResult(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) {
		return map[string]any{"pong": true}, nil
	})
	startServer(t, server)

	client := NewServiceClient(socketPath)
	if err := client.Call(t.Context(), "ping", nil, nil); err != nil {
		t.Fatalf("Call with nil result: %v", err)
	}
}

func TestClientCallNoResponseData(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("noop", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})
	startServer(t, server)

	client := NewServiceClient(socketPath)
	var result map[string]any
	if err := client.Call(t.Context(), "noop", nil, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != nil {
		t.Errorf("result should be nil when server returns no data, got %v", result)
	}
}

func TestClientCallServiceError(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
		return nil, errors.New("something broke")
	})
	startServer(t, server)

	client := NewServiceClient(socketPath)
	for _, action := range []string{"fail", "unknown"} {
		err := client.Call(t.Context(), action, nil, nil)
		var serviceErr *ServiceError
		if !errors.As(err, &serviceErr) {
			t.Fatalf("%s: expected *ServiceError, got %T: %v", action, err, err)
		}
		if serviceErr.Action != action {
			t.Errorf("%s: error action = %q", action, serviceErr.Action)
		}
	}

	err := client.Call(t.Context(), "fail", nil, nil)
	var serviceErr *ServiceError
	errors.As(err, &serviceErr)
	if serviceErr.Message != "something broke" {
		t.Errorf("error message = %q, want %q", serviceErr.Message, "something broke")
	}
}

func TestClientCallConnectionRefused(t *testing.T) {
	client := NewServiceClient(filepath.Join(testutil.SocketDir(t), "absent.sock"))

	err := client.Call(context.Background(), "status", nil, nil)
	if err == nil {
		t.Fatal("expected error for a missing socket")
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		t.Fatalf("connection failure should not be *ServiceError, got %v", serviceErr)
	}
}

func TestClientResponseTooLarge(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("get", func(ctx context.Context, raw []byte) (any, error) {
		return map[string]any{"data": make([]byte, 4096)}, nil
	})
	startServer(t, server)

	client := NewServiceClient(socketPath)
	client.SetMaxResponseSize(512)
	err := client.Call(t.Context(), "get", nil, nil)
	if err == nil {
		t.Fatal("expected an error for a response over the limit")
	}
	if !strings.Contains(err.Error(), "reading response") {
		t.Errorf("error = %v, want a read failure", err)
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Value int `cbor:"value"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return map[string]any{"value": request.Value}, nil
	})
	startServer(t, server)

	client := NewServiceClient(socketPath)

	const concurrency = 20
	var wg sync.WaitGroup
	for i := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var result map[string]any
			if err := client.Call(t.Context(), "echo", map[string]any{"value": i}, &result); err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			if result["value"] != uint64(i) {
				t.Errorf("call %d: got value %v, want %d", i, result["value"], i)
			}
		}()
	}
	wg.Wait()
}
