// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package target

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/tierbuf/lib/bdev"
	"github.com/bureau-foundation/tierbuf/lib/ident"
)

// Device is the block-device capability a target drives.
// *bdev.Device implements it.
type Device interface {
	Name() string
	Allocate(size uint64) []bdev.Block
	Free(block bdev.Block) error
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	PollStats() (bdev.Stats, error)
	Close() error
}

// Info is a snapshot of one target.
type Info struct {
	ID        ident.TargetID `cbor:"id" json:"id"`
	Node      uint32         `cbor:"node" json:"node"`
	Name      string         `cbor:"name" json:"name"`
	FreeBytes uint64         `cbor:"rem_cap" json:"rem_cap"`
	MaxBytes  uint64         `cbor:"max_cap" json:"max_cap"`
	Bandwidth uint64         `cbor:"bandwidth" json:"bandwidth"`
	Latency   time.Duration  `cbor:"latency" json:"latency"`
	Score     float64        `cbor:"score" json:"score"`
}

// Target is one storage tier. Safe for concurrent use.
type Target struct {
	id     ident.TargetID
	device Device

	// freeBytes is the optimistic count; it may briefly go negative
	// when concurrent allocations over-commit.
	freeBytes atomic.Int64

	mu        sync.RWMutex
	maxBytes  uint64
	bandwidth uint64
	latency   time.Duration
	score     float64
	lastPoll  time.Time
}

func newTarget(id ident.TargetID, device Device, stats bdev.Stats) *Target {
	t := &Target{id: id, device: device}
	t.applyStats(stats, time.Time{})
	return t
}

// ID returns the target's identifier.
func (t *Target) ID() ident.TargetID { return t.id }

// Name returns the device name.
func (t *Target) Name() string { return t.device.Name() }

// Allocate asks the device for blocks covering size bytes. The result
// may total less than size when the device is nearly full. Allocate
// does not touch the tracked free count; see ConsumeFree.
func (t *Target) Allocate(size uint64) []bdev.Block {
	return t.device.Allocate(size)
}

// ConsumeFree subtracts allocated bytes from the tracked free count.
func (t *Target) ConsumeFree(bytes uint64) {
	t.freeBytes.Add(-int64(bytes))
}

// Free releases a block to the device and credits the tracked free
// count immediately.
func (t *Target) Free(block bdev.Block) error {
	if err := t.device.Free(block); err != nil {
		return err
	}
	t.freeBytes.Add(int64(block.Size))
	return nil
}

// ReadAt reads from the device at a block-relative physical offset.
func (t *Target) ReadAt(p []byte, off uint64) error {
	n, err := t.device.ReadAt(p, int64(off))
	if err != nil {
		return fmt.Errorf("target %s: %w", t.Name(), err)
	}
	if n != len(p) {
		return fmt.Errorf("target %s: short read at offset %d: %d of %d bytes", t.Name(), off, n, len(p))
	}
	return nil
}

// WriteAt writes to the device at a physical offset.
func (t *Target) WriteAt(p []byte, off uint64) error {
	n, err := t.device.WriteAt(p, int64(off))
	if err != nil {
		return fmt.Errorf("target %s: %w", t.Name(), err)
	}
	if n != len(p) {
		return fmt.Errorf("target %s: short write at offset %d: %d of %d bytes", t.Name(), off, n, len(p))
	}
	return nil
}

// FreeBytes returns the tracked free count, floored at zero.
func (t *Target) FreeBytes() uint64 {
	free := t.freeBytes.Load()
	if free < 0 {
		return 0
	}
	return uint64(free)
}

// Bandwidth returns the device bandwidth in bytes per second.
func (t *Target) Bandwidth() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bandwidth
}

// Latency returns the device latency.
func (t *Target) Latency() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latency
}

// Score returns the target's bandwidth relative to the fastest target.
func (t *Target) Score() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.score
}

func (t *Target) setScore(score float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.score = score
}

// applyStats replaces the tracked figures with polled ones and returns
// how far the tracked free count had drifted.
func (t *Target) applyStats(stats bdev.Stats, now time.Time) int64 {
	t.mu.Lock()
	t.maxBytes = stats.MaxBytes
	t.bandwidth = stats.Bandwidth
	t.latency = stats.Latency
	t.lastPoll = now
	t.mu.Unlock()

	previous := t.freeBytes.Swap(int64(stats.FreeBytes))
	return previous - int64(stats.FreeBytes)
}

// Info returns a snapshot of the target.
func (t *Target) Info() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Info{
		ID:        t.id,
		Node:      t.id.Node,
		Name:      t.device.Name(),
		FreeBytes: t.FreeBytes(),
		MaxBytes:  t.maxBytes,
		Bandwidth: t.bandwidth,
		Latency:   t.latency,
		Score:     t.score,
	}
}
