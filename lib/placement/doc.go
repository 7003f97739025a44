// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package placement decides which targets receive the bytes of a blob.
//
// [Engine.Place] takes the extra space a write needs, a snapshot of the
// targets, and the blob's score, and returns one [Schema] per requested
// size. A schema is an ordered list of (size, target) sub-placements,
// most preferred first. The policy is one of Random, RoundRobin,
// MinimizeIoTime or None, selected by [ParsePolicy].
//
// Every schema the engine returns ends with a zero-sized sub-placement
// on the fallback target, and a request needing no space still yields
// one schema holding only that entry. The buffer allocator spills a
// shortfall from one sub-placement into the next, so the trailing
// entry catches whatever the preferred targets could not hold.
package placement
