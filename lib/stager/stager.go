// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stager

import (
	"fmt"
	"strconv"

	"github.com/bureau-foundation/tierbuf/lib/codec"
)

// Kind selects a staging backend.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindChunkDir
	KindBolt
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindChunkDir:
		return "chunkdir"
	case KindBolt:
		return "bolt"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// ParseKind parses the String form of a Kind.
func ParseKind(name string) (Kind, error) {
	for _, kind := range []Kind{KindFile, KindChunkDir, KindBolt} {
		if kind.String() == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown stager kind %q", name)
}

// Flags suppress staging directions.
type Flags uint32

const (
	// NoRead skips stage-in; blobs start empty.
	NoRead Flags = 1 << iota
	// NoWrite skips stage-out; flushes are no-ops.
	NoWrite
)

// Has reports whether all bits of other are set.
func (f Flags) Has(other Flags) bool { return f&other == other }

// Params are the serialized staging parameters of a tag.
type Params struct {
	Kind     Kind   `cbor:"kind"`
	PageSize uint64 `cbor:"page_size"`
	Flags    Flags  `cbor:"flags"`

	// Compression applies to KindChunkDir.
	Compression Compression `cbor:"compression,omitempty"`
}

// BuildFileParams serializes staging parameters. pageSize is rounded
// down to a multiple of elementSize so that no element straddles two
// pages; an elementSize of 0 or 1 leaves it unchanged.
func BuildFileParams(kind Kind, pageSize uint64, flags Flags, elementSize uint64) ([]byte, error) {
	params := Params{Kind: kind, PageSize: pageSize, Flags: flags}
	if kind == KindChunkDir {
		params.Compression = CompressionAuto
	}
	return params.Encode(elementSize)
}

// Encode serializes p after rounding PageSize down to a multiple of
// elementSize.
func (p Params) Encode(elementSize uint64) ([]byte, error) {
	if elementSize > 1 {
		p.PageSize -= p.PageSize % elementSize
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return codec.Marshal(p)
}

// ParseParams decodes and validates serialized parameters.
func ParseParams(data []byte) (Params, error) {
	var params Params
	if err := codec.Unmarshal(data, &params); err != nil {
		return Params{}, fmt.Errorf("decoding staging params: %w", err)
	}
	if err := params.validate(); err != nil {
		return Params{}, err
	}
	return params, nil
}

func (p Params) validate() error {
	switch p.Kind {
	case KindFile, KindChunkDir, KindBolt:
	default:
		return fmt.Errorf("staging params: unknown kind %v", p.Kind)
	}
	if p.PageSize == 0 {
		return fmt.Errorf("staging params: page size must be positive")
	}
	return nil
}

// Stager is the staging capability held per tag.
type Stager interface {
	// StageIn returns the backing bytes of the page named blobName,
	// or nil when there are none.
	StageIn(blobName string) ([]byte, error)

	// StageOut writes data as the page named blobName.
	StageOut(blobName string, data []byte) error

	// UpdateSize returns the backing-store size implied by writing
	// size bytes at blobOffset within the page named blobName.
	UpdateSize(blobName string, blobOffset, size uint64) (uint64, error)

	// Params returns the parameters the stager was registered with.
	Params() Params

	Close() error
}

// New registers a stager for the tag named tagName, whose meaning
// depends on the kind in params.
func New(tagName string, params []byte) (Stager, error) {
	parsed, err := ParseParams(params)
	if err != nil {
		return nil, err
	}
	switch parsed.Kind {
	case KindFile:
		return newFileStager(tagName, parsed), nil
	case KindChunkDir:
		return newChunkDirStager(tagName, parsed)
	case KindBolt:
		return newBoltStager(tagName, parsed)
	}
	return nil, fmt.Errorf("unknown stager kind %v", parsed.Kind)
}

// PageName returns the blob name of page index.
func PageName(index uint64) string {
	return strconv.FormatUint(index, 10)
}

// ParsePageName returns the page index a blob name encodes.
func ParsePageName(name string) (uint64, error) {
	index, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("blob name %q is not a page index", name)
	}
	return index, nil
}

// pageOffset returns the byte offset of the page named blobName.
func pageOffset(blobName string, pageSize uint64) (uint64, error) {
	index, err := ParsePageName(blobName)
	if err != nil {
		return 0, err
	}
	return index * pageSize, nil
}

// backendSize implements UpdateSize for every page-addressed backend.
func backendSize(blobName string, pageSize, blobOffset, size uint64) (uint64, error) {
	offset, err := pageOffset(blobName, pageSize)
	if err != nil {
		return 0, err
	}
	return offset + blobOffset + size, nil
}
