// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Tierbuf-service is the tierbuf daemon. It opens the configured
// storage devices as targets, serves the engine's actions on a Unix
// socket, and runs the periodic tasks: target stats reconciliation,
// flushing dirty blobs to their staging backends, and score-driven
// reorganization. With http_address set it also serves the read-only
// inspection routes and Prometheus metrics.
//
// On SIGINT or SIGTERM the socket stops accepting, in-flight requests
// finish, and every dirty blob is drained to its backend before exit.
//
// Usage:
//
//	tierbuf-service [--config tierbuf.yaml] [--debug]
//
// Without --config the file named by TIERBUF_CONFIG is used, and
// without that the built-in four-tier layout.
package main
