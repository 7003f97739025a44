// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package buffer manages the physical buffers behind a blob.
//
// A blob's data lives in an ordered list of [Info] entries, each one
// block on one target. The list is contiguous in logical space: the
// first buffer holds bytes [0, size0), the second [size0, size0+size1)
// and so on. Buffers only ever get appended, except when a
// reorganization replaces the whole list.
//
// [Allocate] turns a placement schema into new buffers, spilling
// whatever a target could not supply into the next sub-placement. If
// the last sub-placement also falls short, Allocate frees what it got
// and returns [ErrOutOfSpace].
//
// [Iterator] maps a logical (offset, size) range onto the buffer list,
// yielding for each intersecting buffer the physical target offset and
// the offset within the caller's data. Writes, reads and flushes all
// walk the list through it.
package buffer
