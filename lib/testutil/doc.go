// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for tierbuf packages.
//
// [SocketDir] creates a short directory under /tmp for Unix domain
// sockets, whose paths are limited to 108 bytes. t.TempDir() paths can
// exceed that.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests waiting on background work (flushes, cascades,
// pollers) do not repeat time.After calls.
//
// [UniqueID] returns monotonically increasing names for tags and blobs
// that must not collide within a shared test server.
package testutil
