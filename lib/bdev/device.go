// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package bdev

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/tierbuf/lib/config"
)

// Stats is a point-in-time view of a device's capacity and speed.
type Stats struct {
	FreeBytes uint64
	MaxBytes  uint64
	// Bandwidth is in bytes per second.
	Bandwidth uint64
	Latency   time.Duration
}

// Device is one storage tier: a slab allocator over a byte store. Safe
// for concurrent use; callers must not write to a block concurrently
// with another write to the same block.
type Device struct {
	name      string
	kind      config.DeviceKind
	shared    bool
	bandwidth uint64
	latency   time.Duration

	// directory is the mount directory of file-backed devices, used to
	// bound reported free space by the filesystem's headroom.
	directory string

	slabs *SlabAllocator
	store store
}

// Open creates the device described by cfg. File-backed devices create
// "<mount_dir>/<name>.tierbuf", replacing any existing file.
func Open(cfg config.DeviceConfig) (*Device, error) {
	slabSizes := make([]uint64, len(cfg.SlabSizes))
	for i, size := range cfg.SlabSizes {
		slabSizes[i] = uint64(size)
	}
	slabs, err := NewSlabAllocator(uint64(cfg.Capacity), slabSizes)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", cfg.Name, err)
	}

	device := &Device{
		name:      cfg.Name,
		kind:      cfg.Kind,
		shared:    cfg.IsSharedDevice,
		bandwidth: uint64(cfg.Bandwidth),
		latency:   cfg.Latency.Std(),
		slabs:     slabs,
	}

	switch cfg.Kind {
	case config.RAM:
		device.store, err = newRAMStore(uint64(cfg.Capacity))
	case config.File, config.Direct:
		if err := os.MkdirAll(cfg.MountDir, 0o755); err != nil {
			return nil, fmt.Errorf("device %s: creating mount directory: %w", cfg.Name, err)
		}
		device.directory = cfg.MountDir
		path := filepath.Join(cfg.MountDir, cfg.Name+".tierbuf")
		if cfg.Kind == config.File {
			device.store, err = newFileStore(path, uint64(cfg.Capacity))
		} else {
			device.store, err = newDirectStore(path, uint64(cfg.Capacity))
		}
	default:
		return nil, fmt.Errorf("device %s: unknown kind %q", cfg.Name, cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", cfg.Name, err)
	}
	return device, nil
}

// Name returns the configured device name.
func (d *Device) Name() string { return d.name }

// Kind returns the configured device kind.
func (d *Device) Kind() config.DeviceKind { return d.kind }

// Shared reports whether the device is shared among nodes.
func (d *Device) Shared() bool { return d.shared }

// Allocate returns blocks covering size bytes, or fewer if the device
// is nearly full.
func (d *Device) Allocate(size uint64) []Block {
	return d.slabs.Allocate(size)
}

// Free releases a block returned by Allocate.
func (d *Device) Free(block Block) error {
	if err := d.slabs.Free(block); err != nil {
		return fmt.Errorf("device %s: %w", d.name, err)
	}
	return nil
}

// ReadAt reads len(p) bytes at device offset off.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	return d.store.ReadAt(p, off)
}

// WriteAt writes p at device offset off.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	return d.store.WriteAt(p, off)
}

// Sync flushes written data to stable storage.
func (d *Device) Sync() error {
	return d.store.Sync()
}

// PollStats reports the device's current free space. For file-backed
// devices the free space is bounded by what the filesystem can still
// hold, since buffering files are sparse.
func (d *Device) PollStats() (Stats, error) {
	stats := Stats{
		FreeBytes: d.slabs.FreeBytes(),
		MaxBytes:  d.slabs.Capacity(),
		Bandwidth: d.bandwidth,
		Latency:   d.latency,
	}
	if d.directory != "" {
		var fs unix.Statfs_t
		if err := unix.Statfs(d.directory, &fs); err != nil {
			return Stats{}, fmt.Errorf("device %s: statfs %s: %w", d.name, d.directory, err)
		}
		available := uint64(fs.Bavail) * uint64(fs.Bsize)
		if available < stats.FreeBytes {
			stats.FreeBytes = available
		}
	}
	return stats, nil
}

// Close releases the store. Outstanding blocks become invalid.
func (d *Device) Close() error {
	return d.store.Close()
}
