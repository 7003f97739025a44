// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buffer

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/tierbuf/lib/bdev"
	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/placement"
	"github.com/bureau-foundation/tierbuf/lib/target"
)

// ErrOutOfSpace is returned when no target, the fallback included,
// could supply the space a write needs.
var ErrOutOfSpace = errors.New("out of space")

// Info is one physically contiguous allocation backing a contiguous
// logical range of a blob.
type Info struct {
	Target ident.TargetID `cbor:"target" json:"target"`
	Offset uint64         `cbor:"offset" json:"offset"`
	Size   uint64         `cbor:"size" json:"size"`
}

// Block returns the device block the buffer occupies.
func (b Info) Block() bdev.Block {
	return bdev.Block{Offset: b.Offset, Size: b.Size}
}

// Targets resolves target ids. *target.Registry implements it.
type Targets interface {
	Get(id ident.TargetID) (*target.Target, bool)
}

// Sum returns the total size of buffers.
func Sum(buffers []Info) uint64 {
	var total uint64
	for _, buf := range buffers {
		total += buf.Size
	}
	return total
}

// Allocate acquires buffers for schema in order. A sub-placement the
// target under-supplies passes its shortfall to the next one; the
// tracked free bytes of each target drop by what it supplied.
// Zero-sized sub-placements are skipped.
//
// When the final sub-placement is under-supplied, every buffer this
// call obtained is freed and the error wraps ErrOutOfSpace.
func Allocate(targets Targets, schema placement.Schema) ([]Info, error) {
	pending := make([]uint64, len(schema))
	for i, sub := range schema {
		pending[i] = sub.Size
	}

	var buffers []Info
	for i, sub := range schema {
		size := pending[i]
		if size == 0 {
			continue
		}
		tgt, ok := targets.Get(sub.Target)
		if !ok {
			Free(targets, buffers)
			return nil, fmt.Errorf("placement names unknown target %v", sub.Target)
		}

		var allocated uint64
		for _, block := range tgt.Allocate(size) {
			if block.Size == 0 {
				continue
			}
			buffers = append(buffers, Info{Target: sub.Target, Offset: block.Offset, Size: block.Size})
			allocated += block.Size
		}
		tgt.ConsumeFree(allocated)

		if allocated < size {
			shortfall := size - allocated
			if i+1 == len(schema) {
				outOfSpace := fmt.Errorf("%w: %d bytes short on %s", ErrOutOfSpace, shortfall, tgt.Name())
				return nil, errors.Join(outOfSpace, Free(targets, buffers))
			}
			pending[i+1] += shortfall
		}
	}
	return buffers, nil
}

// Free releases buffers to their targets, crediting tracked free
// bytes. Every buffer is attempted; failures are joined.
func Free(targets Targets, buffers []Info) error {
	var errs []error
	for _, buf := range buffers {
		tgt, ok := targets.Get(buf.Target)
		if !ok {
			errs = append(errs, fmt.Errorf("freeing buffer on unknown target %v", buf.Target))
			continue
		}
		if err := tgt.Free(buf.Block()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
