// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buffer

import "math"

// Slice is a logical byte range.
type Slice struct {
	Offset uint64
	Size   uint64
}

// Iterator maps a requested logical range onto a blob's buffer list.
// Call Intersect once per buffer, in list order, until Done.
type Iterator struct {
	part Slice
	rem  Slice

	// intersect is the range within the current buffer.
	intersect Slice
	tgtOff    uint64
	dataOff   uint64

	// curOff is the logical offset of the buffer being examined.
	curOff uint64
	cutoff uint64
}

// NewIterator starts an iteration over [offset, offset+size). A range
// running past the end of the address space is cut at its end.
func NewIterator(offset, size uint64) *Iterator {
	size = min(size, math.MaxUint64-offset)
	part := Slice{Offset: offset, Size: size}
	return &Iterator{part: part, rem: part, cutoff: offset + size}
}

// Intersect examines the next buffer of the list.
func (it *Iterator) Intersect(buf Info) {
	it.intersect = Slice{}
	if it.curOff <= it.rem.Offset && it.rem.Offset < it.curOff+buf.Size {
		it.intersect.Offset = it.rem.Offset - it.curOff
		it.intersect.Size = min(buf.Size-it.intersect.Offset, it.rem.Size)
		it.tgtOff = buf.Offset + it.intersect.Offset
		it.dataOff = it.rem.Offset - it.part.Offset
		it.rem.Offset += it.intersect.Size
		it.rem.Size -= it.intersect.Size
	}
	it.curOff += buf.Size
}

// DidIntersect reports whether the last buffer examined overlaps the
// remaining request.
func (it *Iterator) DidIntersect() bool { return it.intersect.Size > 0 }

// Done reports whether later buffers cannot intersect.
func (it *Iterator) Done() bool { return it.curOff >= it.cutoff || it.rem.Size == 0 }

// TargetOffset is the physical offset on the target of the last
// intersection.
func (it *Iterator) TargetOffset() uint64 { return it.tgtOff }

// DataOffset is the offset within the caller's data of the last
// intersection.
func (it *Iterator) DataOffset() uint64 { return it.dataOff }

// Size is the length of the last intersection.
func (it *Iterator) Size() uint64 { return it.intersect.Size }

// Remaining is the part of the request not yet covered.
func (it *Iterator) Remaining() Slice { return it.rem }

// Segment is one buffer's share of a request.
type Segment struct {
	// Buffer indexes the buffer list.
	Buffer       int
	TargetOffset uint64
	DataOffset   uint64
	Size         uint64
}

// Segments returns the intersecting segment of every buffer overlapping
// [offset, offset+size), in list order.
func Segments(buffers []Info, offset, size uint64) []Segment {
	var segments []Segment
	it := NewIterator(offset, size)
	for i, buf := range buffers {
		if it.Done() {
			break
		}
		it.Intersect(buf)
		if it.DidIntersect() {
			segments = append(segments, Segment{
				Buffer:       i,
				TargetOffset: it.TargetOffset(),
				DataOffset:   it.DataOffset(),
				Size:         it.Size(),
			})
		}
	}
	return segments
}
