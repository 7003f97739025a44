// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ident defines the identifiers for tags, blobs and targets.
//
// Every identifier is the triple {node, hash, unique}:
//
//   - node is the id of the server that created the entity,
//   - hash is the 32-bit blake3 digest of the entity's name (for a
//     blob, of its tag id and name together),
//   - unique is drawn from a per-server monotonic counter.
//
// The hash is what routes a request to a metadata lane. Because an id
// carries the hash of its name, a request that names an entity and a
// request that passes its id land on the same lane.
//
// The zero value of each identifier is the null id. Identifiers format
// as "node.hash.unique" and round-trip through encoding.TextMarshaler.
package ident
