// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package inspect serves a read-only HTTP view of a running server:
// JSON snapshots of targets, tags, blobs and the access-pattern ring,
// plus the Prometheus metrics of every package that registered them.
//
//	GET /v1/targets?pattern=&max=
//	GET /v1/tags?pattern=&max=
//	GET /v1/tags/{id}
//	GET /v1/blobs?pattern=&max=
//	GET /v1/blobs/{id}
//	GET /v1/access?last_id=
//	GET /metrics
//
// Patterns are full-match regular expressions, as in the socket polls.
// Nothing here mutates engine state.
package inspect
