// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"

	"github.com/bureau-foundation/tierbuf/lib/buffer"
)

var (
	ErrTagNotFound  = errors.New("tag not found")
	ErrBlobNotFound = errors.New("blob not found")

	// ErrOutOfSpace is returned when a write needs more space than
	// every target, the fallback included, can supply.
	ErrOutOfSpace = buffer.ErrOutOfSpace

	// ErrStagingFailed wraps a backing-store failure during stage-in
	// or stage-out.
	ErrStagingFailed = errors.New("staging failed")

	ErrStagerNotFound = errors.New("no stager registered for tag")

	// ErrInvalidRange rejects a write whose end does not fit in a
	// uint64.
	ErrInvalidRange = errors.New("invalid range")
)
