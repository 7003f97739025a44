// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package target tracks the storage targets a server buffers into.
//
// A [Target] wraps one block device with the engine's view of it:
// identity, tracked free bytes, bandwidth, latency and a relative
// score. The tracked free count is optimistic. Allocations decrement
// it and frees increment it immediately, without asking the device;
// the periodic stats poll started by [Registry.Run] replaces it with
// the device's own figure. The difference found at each poll is
// exported as the tierbuf_target_free_bytes_discrepancy gauge.
//
// Stats polls that fail are retried with exponential backoff bounded
// by the poll period, then skipped until the next tick. Targets are
// created once at startup and never removed. The last configured
// target is the placement fallback.
package target
