// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stager

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// fileStager stages pages of one flat binary file.
type fileStager struct {
	path   string
	params Params
}

func newFileStager(path string, params Params) *fileStager {
	return &fileStager{path: path, params: params}
}

func (s *fileStager) Params() Params { return s.params }

func (s *fileStager) StageIn(blobName string) ([]byte, error) {
	if s.params.Flags.Has(NoRead) {
		return nil, nil
	}
	offset, err := pageOffset(blobName, s.params.PageSize)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(s.path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		// A missing or unreadable backing file has nothing to stage.
		return nil, nil
	}
	defer unix.Close(fd)

	page := make([]byte, s.params.PageSize)
	n, err := unix.Pread(fd, page, int64(offset))
	if err != nil || n <= 0 {
		return nil, nil
	}
	return page[:n], nil
}

func (s *fileStager) StageOut(blobName string, data []byte) error {
	if s.params.Flags.Has(NoWrite) {
		return nil
	}
	offset, err := pageOffset(blobName, s.params.PageSize)
	if err != nil {
		return err
	}
	fd, err := unix.Open(s.path, unix.O_CREAT|unix.O_WRONLY|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s for stage-out: %w", s.path, err)
	}
	defer unix.Close(fd)

	n, err := unix.Pwrite(fd, data, int64(offset))
	if err != nil {
		return fmt.Errorf("writing page %s of %s: %w", blobName, s.path, err)
	}
	if n != len(data) {
		return fmt.Errorf("writing page %s of %s: %w: %d of %d bytes", blobName, s.path, io.ErrShortWrite, n, len(data))
	}
	return nil
}

func (s *fileStager) UpdateSize(blobName string, blobOffset, size uint64) (uint64, error) {
	return backendSize(blobName, s.params.PageSize, blobOffset, size)
}

func (s *fileStager) Close() error { return nil }
