// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used by tierbuf.
//
// CBOR carries every internal byte format: socket requests and
// responses between the CLI or client library and the daemon, the
// serialized staging parameters attached to a tag, and the header of
// each compressed page written by the chunk-directory stager. Blob
// payloads travel as CBOR byte strings, so no base64 step is needed.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2). Types that
// implement encoding.TextMarshaler (the identifiers in lib/ident) are
// written as text strings, which keeps identifiers readable in
// diagnostic dumps:
//
//	data, err := codec.Marshal(request)
//	err = codec.Unmarshal(data, &request)
//
// For connections:
//
//	err := codec.NewEncoder(conn).Encode(response)
//	err := codec.NewDecoder(conn).Decode(&request)
package codec
