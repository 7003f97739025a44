// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bdev

import (
	"fmt"
	"os"
	"sync"

	"github.com/ncw/directio"
)

// directStore bypasses the page cache. Every access is widened to
// directio.BlockSize boundaries and staged through an aligned buffer.
type directStore struct {
	file *os.File
	size int64

	// mu serializes read-modify-write cycles, which may touch the same
	// aligned block from two unaligned writes.
	mu sync.Mutex
}

func newDirectStore(path string, size uint64) (*directStore, error) {
	if size%directio.BlockSize != 0 {
		return nil, fmt.Errorf("direct device capacity %d is not a multiple of %d", size, directio.BlockSize)
	}
	file, err := directio.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s with O_DIRECT: %w", path, err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("truncating %s to %d bytes: %w", path, size, err)
	}
	return &directStore{file: file, size: int64(size)}, nil
}

// alignedSpan returns the aligned range covering [off, off+length).
func alignedSpan(off, length int64) (start, end int64) {
	block := int64(directio.BlockSize)
	start = off / block * block
	end = (off + length + block - 1) / block * block
	return start, end
}

func (s *directStore) readSpan(start, end int64) ([]byte, error) {
	buffer := directio.AlignedBlock(int(end - start))
	if _, err := s.file.ReadAt(buffer, start); err != nil {
		return nil, fmt.Errorf("direct read at offset %d: %w", start, err)
	}
	return buffer, nil
}

func (s *directStore) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, fmt.Errorf("read at offset %d with length %d exceeds file size %d", off, len(p), s.size)
	}
	if len(p) == 0 {
		return 0, nil
	}
	start, end := alignedSpan(off, int64(len(p)))
	buffer, err := s.readSpan(start, end)
	if err != nil {
		return 0, err
	}
	return copy(p, buffer[off-start:]), nil
}

func (s *directStore) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, fmt.Errorf("write at offset %d with length %d exceeds file size %d", off, len(p), s.size)
	}
	if len(p) == 0 {
		return 0, nil
	}
	start, end := alignedSpan(off, int64(len(p)))

	s.mu.Lock()
	defer s.mu.Unlock()

	var buffer []byte
	if start == off && end == off+int64(len(p)) {
		buffer = directio.AlignedBlock(len(p))
	} else {
		var err error
		if buffer, err = s.readSpan(start, end); err != nil {
			return 0, err
		}
	}
	copy(buffer[off-start:], p)
	if _, err := s.file.WriteAt(buffer, start); err != nil {
		return 0, fmt.Errorf("direct write at offset %d: %w", start, err)
	}
	return len(p), nil
}

func (s *directStore) Sync() error {
	return s.file.Sync()
}

func (s *directStore) Close() error {
	return s.file.Close()
}
