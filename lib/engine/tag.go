// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/stager"
)

// tagInfo is guarded by its lane's tagMu.
type tagInfo struct {
	id      ident.TagID
	name    string
	blobs   []ident.BlobID
	size    uint64
	owner   bool
	staging bool
}

// TagInfo is a snapshot of one tag.
type TagInfo struct {
	ID      ident.TagID    `cbor:"id" json:"id"`
	Name    string         `cbor:"name" json:"name"`
	Blobs   []ident.BlobID `cbor:"blobs" json:"blobs"`
	Size    uint64         `cbor:"size" json:"size"`
	Owner   bool           `cbor:"owner" json:"owner"`
	Staging bool           `cbor:"staging" json:"staging"`
}

func (t *tagInfo) snapshot() TagInfo {
	return TagInfo{
		ID:      t.id,
		Name:    t.name,
		Blobs:   slices.Clone(t.blobs),
		Size:    t.size,
		Owner:   t.owner,
		Staging: t.staging,
	}
}

// TagOptions configure a tag at creation.
type TagOptions struct {
	// Owner makes destroying or clearing the tag destroy its blobs.
	Owner bool

	// BackendSize is the initial size of the tag.
	BackendSize uint64

	// StagingParams, when set, registers a stager for the tag. The tag
	// name is then the backing path. See [stager.BuildFileParams].
	StagingParams []byte
}

// SizeMode selects how TagUpdateSize applies its value.
type SizeMode uint8

const (
	// SizeAdd adds a signed delta, flooring the result at zero.
	SizeAdd SizeMode = iota
	// SizeCap raises the size to the value if it is larger.
	SizeCap
)

func (m SizeMode) String() string {
	switch m {
	case SizeAdd:
		return "add"
	case SizeCap:
		return "cap"
	default:
		return fmt.Sprintf("SizeMode(%d)", m)
	}
}

// GetOrCreateTag returns the id of the tag named name, creating it
// with opts if it does not exist. Options are ignored for an existing
// tag. A stager that cannot be created fails the call and no tag is
// created.
func (e *Engine) GetOrCreateTag(name string, opts TagOptions) (ident.TagID, error) {
	l := e.laneFor(ident.HashTagName(name))
	l.tagMu.Lock()
	defer l.tagMu.Unlock()

	if id, ok := l.tagNames[name]; ok {
		return id, nil
	}

	var st stager.Stager
	if len(opts.StagingParams) > 0 {
		var err error
		st, err = stager.New(name, opts.StagingParams)
		if err != nil {
			return ident.TagID{}, e.metrics.observe("get_or_create_tag", fmt.Errorf("registering stager for %q: %w", name, err))
		}
	}

	id := e.allocator.Tag(name)
	l.tags[id] = &tagInfo{id: id, name: name, size: opts.BackendSize, owner: opts.Owner, staging: st != nil}
	l.tagNames[name] = id
	if st != nil {
		l.stagerMu.Lock()
		l.stagers[id] = st
		l.stagerMu.Unlock()
	}
	e.logger.Debug("created tag", "tag", id.String(), "name", name, "owner", opts.Owner, "staging", st != nil)
	return id, e.metrics.observe("get_or_create_tag", nil)
}

// GetTagID returns the id of the tag named name.
func (e *Engine) GetTagID(name string) (ident.TagID, error) {
	l := e.laneFor(ident.HashTagName(name))
	l.tagMu.RLock()
	defer l.tagMu.RUnlock()
	id, ok := l.tagNames[name]
	if !ok {
		return ident.TagID{}, fmt.Errorf("%w: %q", ErrTagNotFound, name)
	}
	return id, nil
}

// withTag runs fn on the tag under its lane's tag lock, taken for
// writing when write is set.
func (e *Engine) withTag(id ident.TagID, write bool, fn func(*tagInfo) error) error {
	l := e.tagLane(id)
	if write {
		l.tagMu.Lock()
		defer l.tagMu.Unlock()
	} else {
		l.tagMu.RLock()
		defer l.tagMu.RUnlock()
	}
	info, ok := l.tags[id]
	if !ok {
		return fmt.Errorf("%w: %v", ErrTagNotFound, id)
	}
	return fn(info)
}

// GetTagName returns the name of a tag.
func (e *Engine) GetTagName(id ident.TagID) (string, error) {
	var name string
	err := e.withTag(id, false, func(info *tagInfo) error {
		name = info.name
		return nil
	})
	return name, err
}

// Tag returns a snapshot of a tag.
func (e *Engine) Tag(id ident.TagID) (TagInfo, error) {
	var snapshot TagInfo
	err := e.withTag(id, false, func(info *tagInfo) error {
		snapshot = info.snapshot()
		return nil
	})
	return snapshot, err
}

// TagGetContainedBlobIDs returns the blobs listed by a tag, in no
// particular order.
func (e *Engine) TagGetContainedBlobIDs(id ident.TagID) ([]ident.BlobID, error) {
	var blobs []ident.BlobID
	err := e.withTag(id, false, func(info *tagInfo) error {
		blobs = slices.Clone(info.blobs)
		return nil
	})
	return blobs, err
}

// TagAddBlob lists blob in tag. Listing a blob twice is a no-op.
func (e *Engine) TagAddBlob(tag ident.TagID, blob ident.BlobID) error {
	return e.withTag(tag, true, func(info *tagInfo) error {
		if !slices.Contains(info.blobs, blob) {
			info.blobs = append(info.blobs, blob)
		}
		return nil
	})
}

// TagRemoveBlob removes blob from tag's list.
func (e *Engine) TagRemoveBlob(tag ident.TagID, blob ident.BlobID) error {
	return e.withTag(tag, true, func(info *tagInfo) error {
		if i := slices.Index(info.blobs, blob); i >= 0 {
			// Order is not preserved.
			last := len(info.blobs) - 1
			info.blobs[i] = info.blobs[last]
			info.blobs = info.blobs[:last]
		}
		return nil
	})
}

// TagGetSize returns the logical size of a tag.
func (e *Engine) TagGetSize(id ident.TagID) (uint64, error) {
	var size uint64
	err := e.withTag(id, false, func(info *tagInfo) error {
		size = info.size
		return nil
	})
	return size, err
}

// TagUpdateSize applies value to the tag size under mode and returns
// the new size. In SizeCap mode a negative value is ignored.
func (e *Engine) TagUpdateSize(id ident.TagID, value int64, mode SizeMode) (uint64, error) {
	var size uint64
	err := e.withTag(id, true, func(info *tagInfo) error {
		switch mode {
		case SizeAdd:
			if value < 0 && uint64(-value) > info.size {
				info.size = 0
			} else {
				info.size = uint64(int64(info.size) + value)
			}
		case SizeCap:
			if value > 0 {
				info.size = max(info.size, uint64(value))
			}
		default:
			return fmt.Errorf("unknown size mode %v", mode)
		}
		size = info.size
		return nil
	})
	return size, err
}

// TagClearBlobs empties a tag's list and resets its size. An owning
// tag destroys the listed blobs first.
func (e *Engine) TagClearBlobs(id ident.TagID) error {
	var blobs []ident.BlobID
	var owner bool
	err := e.withTag(id, true, func(info *tagInfo) error {
		blobs, owner = info.blobs, info.owner
		info.blobs = nil
		info.size = 0
		return nil
	})
	if err != nil {
		return e.metrics.observe("tag_clear_blobs", err)
	}
	if owner {
		err = e.destroyBlobs(id, blobs)
	}
	return e.metrics.observe("tag_clear_blobs", err)
}

// DestroyTag removes a tag. An owning tag destroys its blobs first; a
// staging tag closes its stager. Blob destruction completes before
// DestroyTag returns.
func (e *Engine) DestroyTag(id ident.TagID) error {
	l := e.tagLane(id)
	l.tagMu.Lock()
	info, ok := l.tags[id]
	if !ok {
		l.tagMu.Unlock()
		return e.metrics.observe("destroy_tag", fmt.Errorf("%w: %v", ErrTagNotFound, id))
	}
	delete(l.tags, id)
	delete(l.tagNames, info.name)
	l.tagMu.Unlock()

	var errs []error
	if info.owner {
		errs = append(errs, e.destroyBlobs(id, info.blobs))
	}
	if err := e.closeStager(id); err != nil && !errors.Is(err, ErrStagerNotFound) {
		errs = append(errs, err)
	}
	e.logger.Debug("destroyed tag", "tag", id.String(), "name", info.name, "blobs", len(info.blobs))
	return e.metrics.observe("destroy_tag", errors.Join(errs...))
}

// destroyBlobs destroys blobs of a tag that is going away or being
// cleared. Blobs already destroyed are skipped.
func (e *Engine) destroyBlobs(tag ident.TagID, blobs []ident.BlobID) error {
	var errs []error
	for _, blob := range blobs {
		err := e.destroyBlob(blob, tag)
		if err == nil || errors.Is(err, ErrBlobNotFound) {
			continue
		}
		e.detachedFailure("cascade_destroy", err)
		errs = append(errs, fmt.Errorf("destroying blob %v of tag %v: %w", blob, tag, err))
	}
	return errors.Join(errs...)
}
