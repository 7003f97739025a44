// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine holds the tag and blob metadata of one server and
// drives blob I/O against its targets.
//
// Metadata is split across a fixed number of lanes. Each lane owns a
// tag map and a blob map, each behind its own read/write lock, plus a
// mutex-guarded map of registered stagers. An entity is routed to the
// lane selected by the hash carried in its identifier, and names hash
// the same way ([ident.HashTagName], [ident.HashBlobName]), so name and
// id lookups of one entity reach one lane. Each blob has a further
// lock guarding its buffer list during I/O.
//
// [Engine.PutBlob] grows a blob's buffer list through the placement
// engine and [buffer.Allocate], then writes every intersecting buffer
// concurrently and joins. [Engine.GetBlob] reads the same way. For a
// tag with a registered stager, the first access to a blob pulls its
// page from the backing store, and [Engine.FlushBlob] pushes a dirty
// blob back. [Engine.RunFlush] flushes every dirty blob each period
// and [Engine.RunReorganizer] moves blobs between tiers as their
// access scores change.
//
// Tag-size bookkeeping after a put runs detached from the caller.
// Failures of detached work are logged and counted in
// tierbuf_engine_detached_failures_total; [Engine.Quiesce] waits for
// it to finish.
package engine
