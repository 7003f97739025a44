// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build version information for the tierbuf
// binaries. Values are injected with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/tierbuf/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// The service reports [Info] in its status action, and the CLI prints
// [Full] for "tierbuf version".
package version
