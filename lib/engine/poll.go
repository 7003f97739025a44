// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"sync"

	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/target"
)

// IoType is the direction of a recorded access.
type IoType uint8

const (
	IoRead IoType = iota
	IoWrite
)

func (t IoType) String() string {
	switch t {
	case IoRead:
		return "read"
	case IoWrite:
		return "write"
	default:
		return fmt.Sprintf("IoType(%d)", t)
	}
}

// MarshalText encodes the type by name.
func (t IoType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a name written by MarshalText.
func (t *IoType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "read":
		*t = IoRead
	case "write":
		*t = IoWrite
	default:
		return fmt.Errorf("unknown io type %q", text)
	}
	return nil
}

// IoStat records one blob access.
type IoStat struct {
	ID   uint64       `cbor:"id" json:"id"`
	Type IoType       `cbor:"type" json:"type"`
	Blob ident.BlobID `cbor:"blob" json:"blob"`
	Tag  ident.TagID  `cbor:"tag" json:"tag"`
	Size uint64       `cbor:"size" json:"size"`
}

// accessRing keeps the most recent accesses. Ids increase by one per
// access starting at 1.
type accessRing struct {
	mu      sync.Mutex
	entries []IoStat
	next    uint64
}

func newAccessRing(depth int) *accessRing {
	return &accessRing{entries: make([]IoStat, depth), next: 1}
}

func (r *accessRing) record(kind IoType, info *blobInfo, size uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.entries[id%uint64(len(r.entries))] = IoStat{ID: id, Type: kind, Blob: info.id, Tag: info.tag, Size: size}
}

// since returns retained entries with id >= lastID in id order, and
// the id the next access will get.
func (r *accessRing) since(lastID uint64) ([]IoStat, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stats []IoStat
	for _, stat := range r.entries {
		if stat.ID != 0 && stat.ID >= lastID {
			stats = append(stats, stat)
		}
	}
	slices.SortFunc(stats, func(a, b IoStat) int { return cmp.Compare(a.ID, b.ID) })
	return stats, r.next
}

// PollAccessPattern returns the retained accesses with id >= lastID,
// oldest first, and the id to pass on the next poll. A lastID of 0
// returns everything retained.
func (e *Engine) PollAccessPattern(lastID uint64) ([]IoStat, uint64) {
	return e.accesses.since(lastID)
}

// matcher compiles a poll filter. Patterns must match the whole name;
// an empty pattern matches everything.
func matcher(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = ".*"
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", pattern, err)
	}
	return re, nil
}

func truncate[T any](items []T, maxCount int) []T {
	if maxCount > 0 && len(items) > maxCount {
		return items[:maxCount]
	}
	return items
}

// PollBlobMetadata returns snapshots of blobs whose name matches
// pattern, ordered by tag then name, at most maxCount when positive.
func (e *Engine) PollBlobMetadata(pattern string, maxCount int) ([]BlobInfo, error) {
	re, err := matcher(pattern)
	if err != nil {
		return nil, err
	}
	var blobs []BlobInfo
	for _, l := range e.lanes {
		for _, info := range l.blobList() {
			if re.MatchString(info.name) {
				blobs = append(blobs, info.snapshot())
			}
		}
	}
	slices.SortFunc(blobs, func(a, b BlobInfo) int {
		return cmp.Or(compareID(a.Tag.ID, b.Tag.ID), cmp.Compare(a.Name, b.Name))
	})
	return truncate(blobs, maxCount), nil
}

// PollTagMetadata returns snapshots of tags whose name matches
// pattern, ordered by name, at most maxCount when positive.
func (e *Engine) PollTagMetadata(pattern string, maxCount int) ([]TagInfo, error) {
	re, err := matcher(pattern)
	if err != nil {
		return nil, err
	}
	var tags []TagInfo
	for _, l := range e.lanes {
		l.tagMu.RLock()
		for _, info := range l.tags {
			if re.MatchString(info.name) {
				tags = append(tags, info.snapshot())
			}
		}
		l.tagMu.RUnlock()
	}
	slices.SortFunc(tags, func(a, b TagInfo) int { return cmp.Compare(a.Name, b.Name) })
	return truncate(tags, maxCount), nil
}

// PollTargetMetadata returns snapshots of targets whose device name
// matches pattern, in configuration order, at most maxCount when
// positive.
func (e *Engine) PollTargetMetadata(pattern string, maxCount int) ([]target.Info, error) {
	re, err := matcher(pattern)
	if err != nil {
		return nil, err
	}
	var targets []target.Info
	for _, info := range e.targets.Snapshot() {
		if re.MatchString(info.Name) {
			targets = append(targets, info)
		}
	}
	return truncate(targets, maxCount), nil
}

func compareID(a, b ident.ID) int {
	return cmp.Or(cmp.Compare(a.Node, b.Node), cmp.Compare(a.Unique, b.Unique))
}
