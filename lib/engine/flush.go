// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/tierbuf/lib/ident"
)

// FlushBlob stages a dirty blob out to its tag's backing store and
// reports whether it did. A clean blob, or one whose tag has no
// stager, is left alone.
func (e *Engine) FlushBlob(id ident.BlobID) (bool, error) {
	info, err := e.lookupBlob(id)
	if err != nil {
		return false, e.metrics.observe("flush_blob", err)
	}
	flushed, err := e.flush(info)
	return flushed, e.metrics.observe("flush_blob", err)
}

func (e *Engine) flush(info *blobInfo) (bool, error) {
	st, ok := e.stagerFor(info.tag)
	if !ok {
		return false, nil
	}

	info.mu.Lock()
	defer info.mu.Unlock()
	if info.destroyed || info.modCount <= info.lastFlush {
		return false, nil
	}
	data := make([]byte, info.size)
	if err := e.transfer(info.buffers, 0, data, false); err != nil {
		return false, fmt.Errorf("reading blob %q for flush: %w", info.name, err)
	}
	if err := st.StageOut(info.name, data); err != nil {
		return false, fmt.Errorf("%w: stage-out of %q: %w", ErrStagingFailed, info.name, err)
	}
	info.lastFlush = info.modCount

	e.metrics.flushes.Inc()
	e.metrics.bytes.WithLabelValues("stage_out").Add(float64(len(data)))
	if e.draining.Load() {
		e.drained.Add(1)
	}
	return true, nil
}

// TagFlush flushes every blob a tag lists and returns how many were
// dirty.
func (e *Engine) TagFlush(id ident.TagID) (int, error) {
	blobs, err := e.TagGetContainedBlobIDs(id)
	if err != nil {
		return 0, e.metrics.observe("tag_flush", err)
	}
	count := 0
	var errs []error
	for _, blob := range blobs {
		flushed, err := e.FlushBlob(blob)
		if err != nil && !errors.Is(err, ErrBlobNotFound) {
			errs = append(errs, err)
		}
		if flushed {
			count++
		}
	}
	return count, e.metrics.observe("tag_flush", errors.Join(errs...))
}

// FlushAll flushes every dirty blob of every lane. Failures do not stop
// the walk; they are joined into the returned error.
func (e *Engine) FlushAll(ctx context.Context) (int, error) {
	count := 0
	var errs []error
	for _, l := range e.lanes {
		for _, info := range l.blobList() {
			if err := ctx.Err(); err != nil {
				return count, errors.Join(append(errs, err)...)
			}
			flushed, err := e.flush(info)
			if err != nil {
				errs = append(errs, err)
			}
			if flushed {
				count++
			}
		}
	}
	return count, errors.Join(errs...)
}

// Drain flushes everything in draining mode and returns how many
// blobs have been flushed since draining began.
func (e *Engine) Drain(ctx context.Context) (uint64, error) {
	e.draining.Store(true)
	_, err := e.FlushAll(ctx)
	return e.drained.Load(), err
}

// RunFlush flushes every dirty blob each period until ctx is
// cancelled. Failures are logged; the blobs stay dirty and are retried
// on the next tick.
func (e *Engine) RunFlush(ctx context.Context, period time.Duration) {
	ticker := e.clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := e.FlushAll(ctx)
			if err != nil && ctx.Err() == nil {
				e.logger.Warn("periodic flush failed", "flushed", count, "error", err)
			} else if count > 0 {
				e.logger.Debug("periodic flush", "flushed", count)
			}
		}
	}
}
