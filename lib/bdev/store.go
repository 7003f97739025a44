// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package bdev

import (
	"fmt"
	"io"
	"runtime/debug"

	"golang.org/x/sys/unix"
)

// store holds the bytes of a device. Concurrent ReadAt and WriteAt
// calls on disjoint ranges are safe.
type store interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
}

// ramStore is an anonymous private mapping.
type ramStore struct {
	data []byte
}

func newRAMStore(size uint64) (*ramStore, error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mapping %d bytes of anonymous memory: %w", size, err)
	}
	return &ramStore{data: data}, nil
}

func (s *ramStore) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(s.data)) {
		return 0, fmt.Errorf("read at offset %d with length %d exceeds arena size %d", off, len(p), len(s.data))
	}
	return copy(p, s.data[off:]), nil
}

func (s *ramStore) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(s.data)) {
		return 0, fmt.Errorf("write at offset %d with length %d exceeds arena size %d", off, len(p), len(s.data))
	}
	return copy(s.data[off:], p), nil
}

func (s *ramStore) Sync() error { return nil }

func (s *ramStore) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}

// fileStore is a fixed-size buffering file. Reads go through a shared
// read-only mapping; writes use pwrite so they never fault pages in
// just to overwrite them.
type fileStore struct {
	fd   int
	data []byte
	size int64
}

// newFileStore creates the buffering file at path, discarding any
// previous contents. Buffered data does not survive a restart.
func newFileStore(path string, size uint64) (*fileStore, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening buffering file %s: %w", path, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("truncating buffering file to %d bytes: %w", size, err)
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memory-mapping buffering file: %w", err)
	}
	return &fileStore{fd: fd, data: data, size: int64(size)}, nil
}

func (s *fileStore) ReadAt(p []byte, off int64) (readCount int, err error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, fmt.Errorf("read at offset %d with length %d exceeds file size %d", off, len(p), s.size)
	}

	// An I/O error on the backing storage surfaces as SIGBUS on the
	// mapping; turn it into an error instead of a crash.
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			err = fmt.Errorf("page fault reading buffering file at offset %d: %v", off, r)
		}
	}()

	return copy(p, s.data[off:]), nil
}

func (s *fileStore) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, fmt.Errorf("write at offset %d with length %d exceeds file size %d", off, len(p), s.size)
	}
	return pwriteFull(s.fd, p, off)
}

func (s *fileStore) Sync() error {
	return unix.Fsync(s.fd)
}

func (s *fileStore) Close() error {
	var firstErr error
	if err := unix.Munmap(s.data); err != nil {
		firstErr = fmt.Errorf("unmapping buffering file: %w", err)
	}
	if err := unix.Close(s.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing buffering file: %w", err)
	}
	s.data = nil
	s.fd = -1
	return firstErr
}

// pwriteFull loops until p is written or pwrite fails.
func pwriteFull(fd int, p []byte, off int64) (int, error) {
	total := 0
	for len(p) > 0 {
		written, err := unix.Pwrite(fd, p, off)
		if written > 0 {
			total += written
		}
		if err != nil {
			return total, fmt.Errorf("pwrite at offset %d: %w", off, err)
		}
		if written == 0 {
			return total, io.ErrShortWrite
		}
		p = p[written:]
		off += int64(written)
	}
	return total, nil
}
