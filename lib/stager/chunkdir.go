// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stager

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/tierbuf/lib/codec"
)

// chunkHeader precedes the payload of every page file.
type chunkHeader struct {
	Compression Compression `cbor:"compression"`
	Size        uint64      `cbor:"size"`
}

// chunkDirStager stores each page as "<dir>/<page>.chunk".
type chunkDirStager struct {
	directory string
	params    Params
}

func newChunkDirStager(directory string, params Params) (*chunkDirStager, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating chunk directory %s: %w", directory, err)
	}
	return &chunkDirStager{directory: directory, params: params}, nil
}

func (s *chunkDirStager) Params() Params { return s.params }

func (s *chunkDirStager) pagePath(blobName string) (string, error) {
	index, err := ParsePageName(blobName)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.directory, PageName(index)+".chunk"), nil
}

func (s *chunkDirStager) StageIn(blobName string) ([]byte, error) {
	if s.params.Flags.Has(NoRead) {
		return nil, nil
	}
	path, err := s.pagePath(blobName)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening page %s: %w", path, err)
	}
	defer file.Close()

	decoder := codec.NewDecoder(file)
	var header chunkHeader
	if err := decoder.Decode(&header); err != nil {
		return nil, fmt.Errorf("reading header of page %s: %w", path, err)
	}
	if header.Size > s.params.PageSize {
		return nil, fmt.Errorf("page %s holds %d bytes, more than page size %d", path, header.Size, s.params.PageSize)
	}
	// The decoder may have buffered past the header.
	payload, err := io.ReadAll(io.MultiReader(decoder.Buffered(), file))
	if err != nil {
		return nil, fmt.Errorf("reading page %s: %w", path, err)
	}
	data, err := decompressPage(payload, header.Compression, int(header.Size))
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", path, err)
	}
	return data, nil
}

func (s *chunkDirStager) StageOut(blobName string, data []byte) error {
	if s.params.Flags.Has(NoWrite) {
		return nil
	}
	path, err := s.pagePath(blobName)
	if err != nil {
		return err
	}
	payload, used, err := compressPage(data, s.params.Compression)
	if err != nil {
		return fmt.Errorf("compressing page %s: %w", blobName, err)
	}

	var encoded bytes.Buffer
	if err := codec.NewEncoder(&encoded).Encode(chunkHeader{Compression: used, Size: uint64(len(data))}); err != nil {
		return fmt.Errorf("encoding header of page %s: %w", blobName, err)
	}
	encoded.Write(payload)

	// Write-then-rename so a concurrent StageIn never sees a torn page.
	temporary, err := os.CreateTemp(s.directory, ".page-*")
	if err != nil {
		return fmt.Errorf("creating page file: %w", err)
	}
	if _, err := temporary.Write(encoded.Bytes()); err != nil {
		temporary.Close()
		os.Remove(temporary.Name())
		return fmt.Errorf("writing page %s: %w", blobName, err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporary.Name())
		return fmt.Errorf("closing page %s: %w", blobName, err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		os.Remove(temporary.Name())
		return fmt.Errorf("publishing page %s: %w", blobName, err)
	}
	return nil
}

func (s *chunkDirStager) UpdateSize(blobName string, blobOffset, size uint64) (uint64, error) {
	return backendSize(blobName, s.params.PageSize, blobOffset, size)
}

func (s *chunkDirStager) Close() error { return nil }
