// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bdev implements the block devices that back storage targets.
//
// A [Device] pairs a [SlabAllocator], which hands out fixed-size blocks
// at offsets within the device, with a byte store holding the data:
//
//   - ram: an anonymous memory mapping,
//   - file: a file in the tier's mount directory, read through a
//     shared read-only mapping and written with pwrite,
//   - direct: a file opened with O_DIRECT, written with aligned
//     read-modify-write cycles.
//
// Allocation is greedy over the configured slab sizes. A request is
// carved into the largest slabs that fit, then one smallest slab for
// the tail, so the returned blocks may total slightly more than the
// request. When the device is nearly full, Allocate returns what it
// could get, possibly less than requested; the caller spills the
// shortfall to another device.
//
// Every block returned by Allocate must be passed to Free exactly once.
// Free reports an error for blocks it did not hand out.
package bdev
