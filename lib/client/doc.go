// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client provides typed access to a tierbuf server over its
// Unix socket. Each [Client] method maps to one socket action; [Bucket]
// layers the tag-centric convenience API on top.
//
// Server-side failures come back as *service.ServiceError. When the
// message names one of the engine's sentinel errors the returned
// error also matches that sentinel, so callers can write
//
//	if errors.Is(err, engine.ErrBlobNotFound) { ... }
//
// across the socket. [IsNotFound] and [IsOutOfSpace] are shorthands.
package client
