// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stager moves blob data between the buffering tiers and a
// tag's backing store.
//
// A tag created with staging enabled carries serialized [Params]
// (built by [BuildFileParams]) naming one of a closed set of backends:
//
//   - [KindFile]: the tag name is a file path. Blob "N" is the page at
//     byte N*page_size, read with pread and written with pwrite.
//   - [KindChunkDir]: the tag name is a directory. Each page is a file
//     holding a CBOR header and the page compressed with lz4 or zstd.
//   - [KindBolt]: the tag name is a bbolt database file. Pages are
//     values in one bucket keyed by big-endian page index.
//
// Every backend implements [Stager]. StageIn returns the bytes to seed
// a blob with, or nil when the backing store has nothing for the page;
// absence is not an error. StageOut writes a blob's bytes back.
// UpdateSize reports the backing-store size a write implies, which the
// caller records on the tag with cap semantics so the recorded size
// only grows.
//
// Blob names for staged tags are decimal page indexes; see [PageName]
// and [ParsePageName].
package stager
