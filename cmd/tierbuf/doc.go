// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Tierbuf is the command-line client of a tierbuf server.
//
// It stores and retrieves blobs, manages tags, and inspects targets and
// access history over the server's Unix socket. Run "tierbuf --help"
// for the command tree.
package main
