// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the request surface of a tierbuf server.
//
// A tierbuf server answers one CBOR request per Unix socket
// connection. The request is a map carrying an "action" field plus
// action-specific fields; the response is a [Response] envelope. This
// package holds the pieces every binary shares:
//
//   - [SocketServer]: action dispatch, connection timeouts, request
//     size limit, graceful shutdown.
//   - [ServiceClient]: the matching one-shot client.
//   - [HTTPServer]: TCP listener lifecycle for the inspection surface.
//   - [NewLogger]: the daemon's structured logger.
//
// Binaries compose these in their own main function. Typed access to
// the engine actions lives in lib/client.
package service
