// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bdev

import (
	"fmt"
	"slices"
	"sync"
)

// Block is one contiguous allocation on a device.
type Block struct {
	Offset uint64 `cbor:"offset" json:"offset"`
	Size   uint64 `cbor:"size" json:"size"`
}

// SlabAllocator carves a fixed-capacity address range into blocks of
// the configured slab sizes. Freed blocks go onto a per-size free list
// and are reused before the bump pointer advances. Safe for concurrent
// use.
type SlabAllocator struct {
	capacity  uint64
	slabSizes []uint64

	mu         sync.Mutex
	freeLists  [][]uint64
	heapOffset uint64
	freeBytes  uint64
	allocated  map[uint64]uint64
}

// NewSlabAllocator creates an allocator over [0, capacity). slabSizes
// must be positive; they are sorted ascending.
func NewSlabAllocator(capacity uint64, slabSizes []uint64) (*SlabAllocator, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("slab allocator capacity must be positive")
	}
	if len(slabSizes) == 0 {
		return nil, fmt.Errorf("slab allocator needs at least one slab size")
	}
	sizes := slices.Clone(slabSizes)
	slices.Sort(sizes)
	sizes = slices.Compact(sizes)
	if sizes[0] == 0 {
		return nil, fmt.Errorf("slab sizes must be positive")
	}
	return &SlabAllocator{
		capacity:  capacity,
		slabSizes: sizes,
		freeLists: make([][]uint64, len(sizes)),
		freeBytes: capacity,
		allocated: make(map[uint64]uint64),
	}, nil
}

// Allocate returns blocks covering size bytes, or fewer when the
// allocator runs out of space. The returned total may exceed size by
// less than the smallest slab.
func (a *SlabAllocator) Allocate(size uint64) []Block {
	a.mu.Lock()
	defer a.mu.Unlock()

	var blocks []Block
	remaining := size
	for remaining > 0 {
		block, ok := a.takeLocked(a.slabIndexFor(remaining))
		if !ok {
			break
		}
		blocks = append(blocks, block)
		if block.Size >= remaining {
			remaining = 0
		} else {
			remaining -= block.Size
		}
	}
	return blocks
}

// slabIndexFor returns the largest slab not exceeding size, or the
// smallest slab when size is below all of them.
func (a *SlabAllocator) slabIndexFor(size uint64) int {
	index := 0
	for i, slab := range a.slabSizes {
		if slab <= size {
			index = i
		}
	}
	return index
}

// takeLocked takes one block of slab want, falling back to smaller
// slabs and then to larger ones.
func (a *SlabAllocator) takeLocked(want int) (Block, bool) {
	for i := want; i >= 0; i-- {
		if block, ok := a.takeSlabLocked(i); ok {
			return block, true
		}
	}
	for i := want + 1; i < len(a.slabSizes); i++ {
		if block, ok := a.takeSlabLocked(i); ok {
			return block, true
		}
	}
	return Block{}, false
}

func (a *SlabAllocator) takeSlabLocked(index int) (Block, bool) {
	size := a.slabSizes[index]
	var block Block
	if list := a.freeLists[index]; len(list) > 0 {
		block = Block{Offset: list[len(list)-1], Size: size}
		a.freeLists[index] = list[:len(list)-1]
	} else if a.heapOffset+size <= a.capacity {
		block = Block{Offset: a.heapOffset, Size: size}
		a.heapOffset += size
	} else {
		return Block{}, false
	}
	a.allocated[block.Offset] = size
	a.freeBytes -= size
	return block, true
}

// Free returns a block to its slab's free list.
func (a *SlabAllocator) Free(block Block) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	size, ok := a.allocated[block.Offset]
	if !ok {
		return fmt.Errorf("freeing block at offset %d: not allocated", block.Offset)
	}
	if size != block.Size {
		return fmt.Errorf("freeing block at offset %d: size %d does not match allocated size %d",
			block.Offset, block.Size, size)
	}
	delete(a.allocated, block.Offset)
	index, _ := slices.BinarySearch(a.slabSizes, size)
	a.freeLists[index] = append(a.freeLists[index], block.Offset)
	a.freeBytes += size
	return nil
}

// FreeBytes returns the bytes not currently allocated.
func (a *SlabAllocator) FreeBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeBytes
}

// Capacity returns the size of the address range.
func (a *SlabAllocator) Capacity() uint64 {
	return a.capacity
}

// SlabSizes returns the slab sizes in ascending order.
func (a *SlabAllocator) SlabSizes() []uint64 {
	return slices.Clone(a.slabSizes)
}
