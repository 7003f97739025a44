// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stager

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how chunk-directory pages are compressed. The
// values are stored in page headers.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
	// CompressionBG4LZ4 transposes 4-byte groups before LZ4, for pages
	// of float32 elements.
	CompressionBG4LZ4
	// CompressionAuto probes each page and picks zstd, lz4 or none.
	// Never stored in a header.
	CompressionAuto
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	case CompressionBG4LZ4:
		return "bg4_lz4"
	case CompressionAuto:
		return "auto"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses the String form of a Compression.
func ParseCompression(name string) (Compression, error) {
	for c := CompressionNone; c <= CompressionAuto; c++ {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown compression %q", name)
}

// errIncompressible means the compressed form is not smaller.
var errIncompressible = errors.New("data is incompressible")

// compressPage compresses data with c, resolving Auto by probing. It
// returns the algorithm actually used; incompressible data is stored
// as CompressionNone.
func compressPage(data []byte, c Compression) ([]byte, Compression, error) {
	if c == CompressionAuto {
		c = selectCompression(data)
	}
	var compressed []byte
	var err error
	switch c {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	case CompressionBG4LZ4:
		compressed, err = compressLZ4(bg4Transpose(data))
	default:
		return nil, 0, fmt.Errorf("unsupported compression %v", c)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, c, nil
}

// decompressPage reverses compressPage. size must match the original
// length exactly.
func decompressPage(compressed []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(compressed) != size {
			return nil, fmt.Errorf("uncompressed page: size %d does not match expected %d", len(compressed), size)
		}
		return compressed, nil
	case CompressionLZ4:
		return decompressLZ4(compressed, size)
	case CompressionZstd:
		return decompressZstd(compressed, size)
	case CompressionBG4LZ4:
		transposed, err := decompressLZ4(compressed, size)
		if err != nil {
			return nil, err
		}
		return bg4Untranspose(transposed), nil
	default:
		return nil, fmt.Errorf("unsupported compression %v", c)
	}
}

// selectCompression probes data with zstd: a ratio of at least 1.5
// selects zstd, at least 1.1 selects lz4, anything less none.
func selectCompression(data []byte) Compression {
	if len(data) == 0 {
		return CompressionNone
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("stager: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("stager: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}

// bg4Transpose groups byte 0 of every 4-byte element, then byte 1,
// and so on. Trailing bytes past the last full group are kept as-is.
func bg4Transpose(data []byte) []byte {
	groups := len(data) / 4
	output := make([]byte, len(data))
	for i := range groups {
		output[i] = data[i*4]
		output[groups+i] = data[i*4+1]
		output[groups*2+i] = data[i*4+2]
		output[groups*3+i] = data[i*4+3]
	}
	copy(output[groups*4:], data[groups*4:])
	return output
}

func bg4Untranspose(data []byte) []byte {
	groups := len(data) / 4
	output := make([]byte, len(data))
	for i := range groups {
		output[i*4] = data[i]
		output[i*4+1] = data[groups+i]
		output[i*4+2] = data[groups*2+i]
		output[i*4+3] = data[groups*3+i]
	}
	copy(output[groups*4:], data[groups*4:])
	return output
}
