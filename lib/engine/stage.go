// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"fmt"

	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/stager"
)

// RegisterStager attaches a stager built from params to a tag, whose
// name is the backing path. A tag that already stages keeps its
// existing stager.
func (e *Engine) RegisterStager(id ident.TagID, params []byte) error {
	l := e.tagLane(id)
	l.tagMu.Lock()
	defer l.tagMu.Unlock()

	info, ok := l.tags[id]
	if !ok {
		return e.metrics.observe("register_stager", fmt.Errorf("%w: %v", ErrTagNotFound, id))
	}
	l.stagerMu.Lock()
	defer l.stagerMu.Unlock()
	if _, ok := l.stagers[id]; ok {
		return e.metrics.observe("register_stager", nil)
	}
	st, err := stager.New(info.name, params)
	if err != nil {
		return e.metrics.observe("register_stager", fmt.Errorf("registering stager for %q: %w", info.name, err))
	}
	l.stagers[id] = st
	info.staging = true
	return e.metrics.observe("register_stager", nil)
}

// UnregisterStager detaches and closes a tag's stager.
func (e *Engine) UnregisterStager(id ident.TagID) error {
	err := e.closeStager(id)
	if err == nil {
		// The tag may already be gone.
		_ = e.withTag(id, true, func(info *tagInfo) error {
			info.staging = false
			return nil
		})
	}
	return e.metrics.observe("unregister_stager", err)
}

func (e *Engine) closeStager(id ident.TagID) error {
	l := e.tagLane(id)
	l.stagerMu.Lock()
	st, ok := l.stagers[id]
	delete(l.stagers, id)
	l.stagerMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %v", ErrStagerNotFound, id)
	}
	if err := st.Close(); err != nil {
		return fmt.Errorf("closing stager of tag %v: %w", id, err)
	}
	return nil
}

func (e *Engine) stagerFor(id ident.TagID) (stager.Stager, bool) {
	l := e.tagLane(id)
	l.stagerMu.Lock()
	defer l.stagerMu.Unlock()
	st, ok := l.stagers[id]
	return st, ok
}

// StageIn pulls the named page of a staging tag into its blob,
// creating the blob if needed. A blob that was already staged is left
// alone.
func (e *Engine) StageIn(tag ident.TagID, blobName string) (ident.BlobID, error) {
	st, ok := e.stagerFor(tag)
	if !ok {
		return ident.BlobID{}, e.metrics.observe("stage_in", fmt.Errorf("%w: %v", ErrStagerNotFound, tag))
	}
	info, _, err := e.getOrCreateBlob(tag, blobName)
	if err != nil {
		return ident.BlobID{}, e.metrics.observe("stage_in", err)
	}
	info.mu.Lock()
	defer info.mu.Unlock()
	return info.id, e.metrics.observe("stage_in", e.stageInLocked(info, st))
}

// stageInLocked fills a never-staged blob from its backing page. The
// staged bytes are clean: they do not raise the modify count.
func (e *Engine) stageInLocked(info *blobInfo, st stager.Stager) error {
	if info.destroyed {
		return fmt.Errorf("%w: %v", ErrBlobNotFound, info.id)
	}
	if info.staged {
		return nil
	}
	data, err := st.StageIn(info.name)
	if err != nil {
		return fmt.Errorf("%w: stage-in of %q: %w", ErrStagingFailed, info.name, err)
	}
	if len(data) > 0 {
		if _, err := e.writeLocked(info, 0, data, e.policy); err != nil {
			return fmt.Errorf("%w: buffering staged page %q: %w", ErrStagingFailed, info.name, err)
		}
		e.metrics.bytes.WithLabelValues("stage_in").Add(float64(len(data)))
		e.logger.Debug("staged in blob", "blob", info.id.String(), "name", info.name, "bytes", len(data))
	}
	info.staged = true
	return nil
}

// StageOut writes data to the backing page named blobName of a
// staging tag, bypassing any buffered blob.
func (e *Engine) StageOut(tag ident.TagID, blobName string, data []byte) error {
	st, ok := e.stagerFor(tag)
	if !ok {
		return e.metrics.observe("stage_out", fmt.Errorf("%w: %v", ErrStagerNotFound, tag))
	}
	if err := st.StageOut(blobName, data); err != nil {
		return e.metrics.observe("stage_out", fmt.Errorf("%w: stage-out of %q: %w", ErrStagingFailed, blobName, err))
	}
	e.metrics.bytes.WithLabelValues("stage_out").Add(float64(len(data)))
	return e.metrics.observe("stage_out", nil)
}
