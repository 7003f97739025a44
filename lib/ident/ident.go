// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ident

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/zeebo/blake3"
)

// ID is the shared layout of TagID, BlobID and TargetID.
type ID struct {
	Node   uint32
	Hash   uint32
	Unique uint64
}

// IsNull reports whether id is the zero identifier.
func (id ID) IsNull() bool { return id == ID{} }

func (id ID) String() string {
	return fmt.Sprintf("%d.%d.%d", id.Node, id.Hash, id.Unique)
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = ID{}
		return nil
	}
	var parsed ID
	if _, err := fmt.Sscanf(string(text), "%d.%d.%d", &parsed.Node, &parsed.Hash, &parsed.Unique); err != nil {
		return fmt.Errorf("parsing identifier %q: %w", text, err)
	}
	*id = parsed
	return nil
}

// TagID identifies a tag (bucket).
type TagID struct{ ID }

// BlobID identifies a blob.
type BlobID struct{ ID }

// TargetID identifies a storage target. Hash is the hash of the
// device name.
type TargetID struct{ ID }

// ParseTagID parses the "node.hash.unique" form.
func ParseTagID(text string) (TagID, error) {
	var id TagID
	err := id.UnmarshalText([]byte(text))
	return id, err
}

// ParseBlobID parses the "node.hash.unique" form.
func ParseBlobID(text string) (BlobID, error) {
	var id BlobID
	err := id.UnmarshalText([]byte(text))
	return id, err
}

// HashTagName hashes a tag name.
func HashTagName(name string) uint32 {
	return sum32([]byte(name))
}

// HashBlobName hashes a blob name scoped to its tag. Two blobs with the
// same name in different tags hash differently.
func HashBlobName(tag TagID, name string) uint32 {
	buffer := make([]byte, 16, 16+len(name))
	binary.LittleEndian.PutUint32(buffer[0:], tag.Node)
	binary.LittleEndian.PutUint32(buffer[4:], tag.Hash)
	binary.LittleEndian.PutUint64(buffer[8:], tag.Unique)
	buffer = append(buffer, name...)
	return sum32(buffer)
}

func sum32(data []byte) uint32 {
	digest := blake3.Sum256(data)
	return binary.LittleEndian.Uint32(digest[:4])
}

// Allocator hands out identifiers for one server. Safe for concurrent
// use.
type Allocator struct {
	node    uint32
	counter atomic.Uint64
}

// NewAllocator returns an Allocator stamping ids with node.
func NewAllocator(node uint32) *Allocator {
	return &Allocator{node: node}
}

// Node returns the node id stamped into allocated identifiers.
func (a *Allocator) Node() uint32 { return a.node }

func (a *Allocator) next(hash uint32) ID {
	// Unique starts at 1 so that no allocated id is null.
	return ID{Node: a.node, Hash: hash, Unique: a.counter.Add(1)}
}

// Tag allocates a TagID for name.
func (a *Allocator) Tag(name string) TagID {
	return TagID{a.next(HashTagName(name))}
}

// Blob allocates a BlobID for name within tag.
func (a *Allocator) Blob(tag TagID, name string) BlobID {
	return BlobID{a.next(HashBlobName(tag, name))}
}

// Target allocates a TargetID for a device name.
func (a *Allocator) Target(device string) TargetID {
	return TargetID{a.next(HashTagName(device))}
}
