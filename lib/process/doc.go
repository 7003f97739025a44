// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers of the tierbuf
// binaries: reporting a fatal error from run() before or after the
// structured logger exists, and mapping it onto an exit status.
package process
