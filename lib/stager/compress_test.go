// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stager

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand/v2"
	"testing"
)

func TestCompressRoundTrip(t *testing.T) {
	random := make([]byte, 8192)
	generator := rand.New(rand.NewPCG(1, 2))
	for i := range random {
		random[i] = byte(generator.UintN(256))
	}
	floats := make([]byte, 0, 4096)
	for i := range 1024 {
		floats = binary.LittleEndian.AppendUint32(floats, math.Float32bits(float32(i)*0.5))
	}
	text := bytes.Repeat([]byte("hierarchical buffering "), 400)

	inputs := map[string][]byte{
		"empty":  {},
		"random": random,
		"floats": floats,
		"text":   text,
		"odd":    text[:1001],
	}
	algorithms := []Compression{CompressionNone, CompressionLZ4, CompressionZstd, CompressionBG4LZ4, CompressionAuto}

	for name, input := range inputs {
		for _, algorithm := range algorithms {
			t.Run(name+"/"+algorithm.String(), func(t *testing.T) {
				compressed, used, err := compressPage(input, algorithm)
				if err != nil {
					t.Fatalf("compressPage: %v", err)
				}
				if used == CompressionAuto {
					t.Fatal("compressPage reported auto as the stored algorithm")
				}
				output, err := decompressPage(compressed, used, len(input))
				if err != nil {
					t.Fatalf("decompressPage(%v): %v", used, err)
				}
				if !bytes.Equal(output, input) {
					t.Fatal("round trip changed the data")
				}
			})
		}
	}
}

func TestSelectCompression(t *testing.T) {
	if got := selectCompression(nil); got != CompressionNone {
		t.Errorf("empty input selected %v", got)
	}
	if got := selectCompression(bytes.Repeat([]byte{7}, 4096)); got != CompressionZstd {
		t.Errorf("constant input selected %v, want zstd", got)
	}
	random := make([]byte, 4096)
	generator := rand.New(rand.NewPCG(3, 4))
	for i := range random {
		random[i] = byte(generator.UintN(256))
	}
	if got := selectCompression(random); got != CompressionNone {
		t.Errorf("random input selected %v, want none", got)
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	if _, err := decompressPage([]byte("abc"), CompressionNone, 4); err == nil {
		t.Error("size mismatch should fail")
	}
	compressed, used, err := compressPage(bytes.Repeat([]byte("ab"), 1000), CompressionZstd)
	if err != nil || used != CompressionZstd {
		t.Fatalf("compressPage = %v, %v", used, err)
	}
	if _, err := decompressPage(compressed, used, 1999); err == nil {
		t.Error("zstd size mismatch should fail")
	}
}

func TestBG4Transpose(t *testing.T) {
	input := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	transposed := bg4Transpose(input)
	want := []byte{1, 5, 2, 6, 3, 7, 4, 8, 9}
	if !bytes.Equal(transposed, want) {
		t.Errorf("bg4Transpose = %v, want %v", transposed, want)
	}
	if !bytes.Equal(bg4Untranspose(transposed), input) {
		t.Error("bg4Untranspose did not invert bg4Transpose")
	}
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd, CompressionBG4LZ4, CompressionAuto} {
		parsed, err := ParseCompression(c.String())
		if err != nil || parsed != c {
			t.Errorf("ParseCompression(%q) = %v, %v", c.String(), parsed, err)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("ParseCompression(gzip) should fail")
	}
}
