// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sync"

	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/stager"
)

// blobKey names a blob within its tag.
type blobKey struct {
	tag  ident.TagID
	name string
}

// lane is one independently locked shard of metadata.
type lane struct {
	tagMu    sync.RWMutex
	tags     map[ident.TagID]*tagInfo
	tagNames map[string]ident.TagID

	blobMu    sync.RWMutex
	blobs     map[ident.BlobID]*blobInfo
	blobNames map[blobKey]ident.BlobID

	stagerMu sync.Mutex
	stagers  map[ident.TagID]stager.Stager
}

func newLane() *lane {
	return &lane{
		tags:      make(map[ident.TagID]*tagInfo),
		tagNames:  make(map[string]ident.TagID),
		blobs:     make(map[ident.BlobID]*blobInfo),
		blobNames: make(map[blobKey]ident.BlobID),
		stagers:   make(map[ident.TagID]stager.Stager),
	}
}

// blobList returns every blob of the lane.
func (l *lane) blobList() []*blobInfo {
	l.blobMu.RLock()
	defer l.blobMu.RUnlock()
	list := make([]*blobInfo, 0, len(l.blobs))
	for _, info := range l.blobs {
		list = append(list, info)
	}
	return list
}

func (e *Engine) laneFor(hash uint32) *lane {
	return e.lanes[hash%uint32(len(e.lanes))]
}

func (e *Engine) tagLane(id ident.TagID) *lane { return e.laneFor(id.Hash) }

func (e *Engine) blobLane(id ident.BlobID) *lane { return e.laneFor(id.Hash) }
