// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/tierbuf/lib/buffer"
	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/placement"
)

// blobInfo is the metadata of one blob. Identity fields are immutable;
// mu guards the rest except the access counters.
type blobInfo struct {
	id   ident.BlobID
	tag  ident.TagID
	name string

	mu sync.RWMutex
	// buffers are in logical order: buffer i starts where buffer i-1
	// ends.
	buffers   []buffer.Info
	tags      []ident.TagID
	size      uint64
	score     float64
	userScore bool
	modCount  uint64
	lastFlush uint64
	staged    bool
	destroyed bool

	accessFreq atomic.Uint64
	lastAccess atomic.Int64
}

// BlobInfo is a snapshot of one blob.
type BlobInfo struct {
	ID         ident.BlobID  `cbor:"id" json:"id"`
	Tag        ident.TagID   `cbor:"tag" json:"tag"`
	Name       string        `cbor:"name" json:"name"`
	Buffers    []buffer.Info `cbor:"buffers" json:"buffers"`
	Tags       []ident.TagID `cbor:"tags,omitempty" json:"tags,omitempty"`
	Size       uint64        `cbor:"size" json:"size"`
	MaxSize    uint64        `cbor:"max_size" json:"max_size"`
	Score      float64       `cbor:"score" json:"score"`
	UserScore  bool          `cbor:"user_score" json:"user_score"`
	AccessFreq uint64        `cbor:"access_freq" json:"access_freq"`
	LastAccess time.Time     `cbor:"last_access" json:"last_access"`
	ModCount   uint64        `cbor:"mod_count" json:"mod_count"`
	LastFlush  uint64        `cbor:"last_flush" json:"last_flush"`
}

func (b *blobInfo) snapshot() BlobInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snapshot := BlobInfo{
		ID:         b.id,
		Tag:        b.tag,
		Name:       b.name,
		Buffers:    slices.Clone(b.buffers),
		Tags:       slices.Clone(b.tags),
		Size:       b.size,
		MaxSize:    buffer.Sum(b.buffers),
		Score:      b.score,
		UserScore:  b.userScore,
		AccessFreq: b.accessFreq.Load(),
		ModCount:   b.modCount,
		LastFlush:  b.lastFlush,
	}
	if nanos := b.lastAccess.Load(); nanos != 0 {
		snapshot.LastAccess = time.Unix(0, nanos).UTC()
	}
	return snapshot
}

// BlobRef names a blob either by id or by name within a tag. A
// non-null ID takes precedence.
type BlobRef struct {
	Tag  ident.TagID  `cbor:"tag,omitempty" json:"tag,omitempty"`
	Name string       `cbor:"name,omitempty" json:"name,omitempty"`
	ID   ident.BlobID `cbor:"id,omitempty" json:"id,omitempty"`
}

func (r BlobRef) String() string {
	if !r.ID.IsNull() {
		return r.ID.String()
	}
	return fmt.Sprintf("%v/%s", r.Tag, r.Name)
}

func (e *Engine) lookupBlob(id ident.BlobID) (*blobInfo, error) {
	l := e.blobLane(id)
	l.blobMu.RLock()
	defer l.blobMu.RUnlock()
	info, ok := l.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrBlobNotFound, id)
	}
	return info, nil
}

func (e *Engine) lookupBlobName(tag ident.TagID, name string) (*blobInfo, error) {
	l := e.laneFor(ident.HashBlobName(tag, name))
	l.blobMu.RLock()
	defer l.blobMu.RUnlock()
	id, ok := l.blobNames[blobKey{tag, name}]
	if !ok {
		return nil, fmt.Errorf("%w: %q in tag %v", ErrBlobNotFound, name, tag)
	}
	return l.blobs[id], nil
}

func (e *Engine) resolve(ref BlobRef) (*blobInfo, error) {
	if !ref.ID.IsNull() {
		return e.lookupBlob(ref.ID)
	}
	return e.lookupBlobName(ref.Tag, ref.Name)
}

// getOrCreateBlob returns the blob named name in tag, creating it and
// listing it in the tag if it does not exist.
func (e *Engine) getOrCreateBlob(tag ident.TagID, name string) (*blobInfo, bool, error) {
	if err := e.withTag(tag, false, func(*tagInfo) error { return nil }); err != nil {
		return nil, false, err
	}

	l := e.laneFor(ident.HashBlobName(tag, name))
	l.blobMu.Lock()
	if id, ok := l.blobNames[blobKey{tag, name}]; ok {
		info := l.blobs[id]
		l.blobMu.Unlock()
		return info, false, nil
	}
	id := e.allocator.Blob(tag, name)
	info := &blobInfo{id: id, tag: tag, name: name, score: 1}
	l.blobs[id] = info
	l.blobNames[blobKey{tag, name}] = id
	l.blobMu.Unlock()

	// Listed before returning so that a cascade destroy of the tag
	// always sees the blob. A tag destroyed since the check above
	// never lists it, so the blob is rolled back.
	if err := e.TagAddBlob(tag, id); err != nil {
		if rollback := e.destroyBlob(id, tag); rollback != nil && !errors.Is(rollback, ErrBlobNotFound) {
			e.detachedFailure("tag_add_blob", rollback)
		}
		return nil, false, err
	}
	return info, true, nil
}

// GetOrCreateBlobID returns the id of the blob named name in tag,
// creating an empty blob if needed. Repeated calls return the same id.
func (e *Engine) GetOrCreateBlobID(tag ident.TagID, name string) (ident.BlobID, error) {
	info, _, err := e.getOrCreateBlob(tag, name)
	if err != nil {
		return ident.BlobID{}, e.metrics.observe("get_or_create_blob_id", err)
	}
	return info.id, e.metrics.observe("get_or_create_blob_id", nil)
}

// GetBlobID returns the id of the blob named name in tag.
func (e *Engine) GetBlobID(tag ident.TagID, name string) (ident.BlobID, error) {
	info, err := e.lookupBlobName(tag, name)
	if err != nil {
		return ident.BlobID{}, err
	}
	return info.id, nil
}

// ContainsBlob reports whether tag holds a blob named name.
func (e *Engine) ContainsBlob(tag ident.TagID, name string) bool {
	_, err := e.lookupBlobName(tag, name)
	return err == nil
}

// PutRequest is one write into a blob.
type PutRequest struct {
	// Blob names the target blob. A name that does not exist in the
	// tag creates the blob; an unknown id is an error.
	Blob   BlobRef
	Offset uint64
	Data   []byte

	// Score, when set, becomes the blob's user score and overrides the
	// computed score from then on. Clamped to [0, 1].
	Score *float64

	// Policy overrides the default placement policy.
	Policy *placement.Policy
}

// PutResult describes a completed write.
type PutResult struct {
	ID      ident.BlobID
	Created bool
	Written uint64
}

// PutBlob writes req.Data at req.Offset, growing the blob's buffers as
// needed. On a staging tag the blob's backing page is staged in first
// if it never was, so a partial write does not hide backing bytes.
//
// Growth that no target can supply fails with ErrOutOfSpace and leaves
// the blob unchanged. After a successful write the tag size is updated
// without waiting.
func (e *Engine) PutBlob(req PutRequest) (PutResult, error) {
	result, err := e.putBlob(req)
	return result, e.metrics.observe("put_blob", err)
}

func (e *Engine) putBlob(req PutRequest) (PutResult, error) {
	if req.Offset > math.MaxUint64-uint64(len(req.Data)) {
		return PutResult{}, fmt.Errorf("%w: %d bytes at offset %d overflow", ErrInvalidRange, len(req.Data), req.Offset)
	}
	var info *blobInfo
	var created bool
	var err error
	if !req.Blob.ID.IsNull() {
		info, err = e.lookupBlob(req.Blob.ID)
	} else {
		info, created, err = e.getOrCreateBlob(req.Blob.Tag, req.Blob.Name)
	}
	if err != nil {
		return PutResult{}, err
	}
	result := PutResult{ID: info.id, Created: created}
	if len(req.Data) == 0 {
		return result, nil
	}

	policy := e.policy
	if req.Policy != nil {
		policy = *req.Policy
	}
	st, staging := e.stagerFor(info.tag)

	info.mu.Lock()
	if info.destroyed {
		info.mu.Unlock()
		return PutResult{}, fmt.Errorf("%w: %v", ErrBlobNotFound, info.id)
	}
	if staging {
		if err := e.stageInLocked(info, st); err != nil {
			info.mu.Unlock()
			return PutResult{}, err
		}
	}
	if req.Score != nil {
		info.score = clampScore(*req.Score)
		info.userScore = true
	}
	previous, err := e.writeLocked(info, req.Offset, req.Data, policy)
	if err != nil {
		info.mu.Unlock()
		return PutResult{}, err
	}
	info.modCount++
	size := info.size
	info.mu.Unlock()

	written := uint64(len(req.Data))
	result.Written = written
	e.touch(info)
	e.accesses.record(IoWrite, info, written)
	e.metrics.bytes.WithLabelValues("write").Add(float64(written))

	tag := info.tag
	switch {
	case staging:
		name, offset := info.name, req.Offset
		e.detach("tag_update_size", func() error {
			backend, err := st.UpdateSize(name, offset, written)
			if err != nil {
				return err
			}
			_, err = e.TagUpdateSize(tag, int64(backend), SizeCap)
			return err
		})
	case size > previous:
		e.detach("tag_update_size", func() error {
			_, err := e.TagUpdateSize(tag, int64(size-previous), SizeAdd)
			return err
		})
	}
	return result, nil
}

// writeLocked writes data at offset, first allocating buffers for any
// range past the current allocation. It returns the blob size before
// the write. info.mu must be held for writing.
func (e *Engine) writeLocked(info *blobInfo, offset uint64, data []byte, policy placement.Policy) (uint64, error) {
	previous := info.size
	end := offset + uint64(len(data))
	if allocated := buffer.Sum(info.buffers); end > allocated {
		schemas, err := e.placement.Place(policy, []uint64{end - allocated}, e.targets.Snapshot(), info.score)
		if err != nil {
			return previous, err
		}
		grown, err := buffer.Allocate(e.targets, schemas[0])
		if err != nil {
			return previous, fmt.Errorf("growing blob %q by %d bytes: %w", info.name, end-allocated, err)
		}
		if got := buffer.Sum(grown); got < end-allocated {
			outOfSpace := fmt.Errorf("%w: growing blob %q by %d bytes obtained %d", ErrOutOfSpace, info.name, end-allocated, got)
			return previous, errors.Join(outOfSpace, buffer.Free(e.targets, grown))
		}
		info.buffers = append(info.buffers, grown...)
		e.logger.Debug("grew blob",
			"blob", info.id.String(),
			"bytes", end-allocated,
			"buffers", len(grown),
			"policy", policy.String(),
		)
	}
	if err := e.transfer(info.buffers, offset, data, true); err != nil {
		return previous, err
	}
	info.size = max(info.size, end)
	return previous, nil
}

// transfer reads or writes every buffer segment overlapping
// [offset, offset+len(data)) concurrently and waits for all of them.
func (e *Engine) transfer(buffers []buffer.Info, offset uint64, data []byte, write bool) error {
	segments := buffer.Segments(buffers, offset, uint64(len(data)))
	errs := make([]error, len(segments))
	var wg sync.WaitGroup
	for i, segment := range segments {
		buf := buffers[segment.Buffer]
		tgt, ok := e.targets.Get(buf.Target)
		if !ok {
			errs[i] = fmt.Errorf("buffer on unknown target %v", buf.Target)
			continue
		}
		chunk := data[segment.DataOffset : segment.DataOffset+segment.Size]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if write {
				errs[i] = tgt.WriteAt(chunk, segment.TargetOffset)
			} else {
				errs[i] = tgt.ReadAt(chunk, segment.TargetOffset)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (e *Engine) touch(info *blobInfo) {
	info.accessFreq.Add(1)
	info.lastAccess.Store(e.clock.Now().UnixNano())
}

// GetRequest is one read from a blob.
type GetRequest struct {
	Blob   BlobRef
	Offset uint64
	// Size bounds the read. Zero reads to the end of the blob.
	Size uint64
}

// GetResult holds the bytes read. Data is shorter than requested when
// the blob ends first.
type GetResult struct {
	ID   ident.BlobID
	Data []byte
}

// GetBlob reads from a blob. On a staging tag an unknown name creates
// the blob, and a never-staged blob is staged in before the read.
func (e *Engine) GetBlob(req GetRequest) (GetResult, error) {
	result, err := e.getBlob(req)
	return result, e.metrics.observe("get_blob", err)
}

func (e *Engine) getBlob(req GetRequest) (GetResult, error) {
	info, err := e.resolve(req.Blob)
	if errors.Is(err, ErrBlobNotFound) && req.Blob.ID.IsNull() {
		if _, staging := e.stagerFor(req.Blob.Tag); staging {
			info, _, err = e.getOrCreateBlob(req.Blob.Tag, req.Blob.Name)
		}
	}
	if err != nil {
		return GetResult{}, err
	}

	if st, staging := e.stagerFor(info.tag); staging {
		info.mu.Lock()
		err := e.stageInLocked(info, st)
		info.mu.Unlock()
		if err != nil {
			return GetResult{}, err
		}
	}

	info.mu.RLock()
	if info.destroyed {
		info.mu.RUnlock()
		return GetResult{}, fmt.Errorf("%w: %v", ErrBlobNotFound, info.id)
	}
	var length uint64
	if req.Offset < info.size {
		length = info.size - req.Offset
		if req.Size > 0 {
			length = min(length, req.Size)
		}
	}
	data := make([]byte, length)
	err = e.transfer(info.buffers, req.Offset, data, false)
	info.mu.RUnlock()
	if err != nil {
		return GetResult{}, err
	}

	e.touch(info)
	e.accesses.record(IoRead, info, length)
	e.metrics.bytes.WithLabelValues("read").Add(float64(length))
	return GetResult{ID: info.id, Data: data}, nil
}

// DestroyBlob frees every buffer of a blob and forgets it. The blob is
// removed from each tag that lists it, except its own tag when
// keepInTag is set.
func (e *Engine) DestroyBlob(ref BlobRef, keepInTag bool) error {
	info, err := e.resolve(ref)
	if err != nil {
		return e.metrics.observe("destroy_blob", err)
	}
	skip := ident.TagID{}
	if keepInTag {
		skip = info.tag
	}
	return e.metrics.observe("destroy_blob", e.destroyBlob(info.id, skip))
}

// destroyBlob removes the blob from the maps, waits for in-flight I/O,
// and frees its buffers. Tags listing the blob are updated, except
// skip.
func (e *Engine) destroyBlob(id ident.BlobID, skip ident.TagID) error {
	l := e.blobLane(id)
	l.blobMu.Lock()
	info, ok := l.blobs[id]
	if !ok {
		l.blobMu.Unlock()
		return fmt.Errorf("%w: %v", ErrBlobNotFound, id)
	}
	delete(l.blobs, id)
	delete(l.blobNames, blobKey{info.tag, info.name})
	l.blobMu.Unlock()

	info.mu.Lock()
	info.destroyed = true
	buffers, size, labels := info.buffers, info.size, info.tags
	info.buffers = nil
	info.mu.Unlock()

	errs := []error{buffer.Free(e.targets, buffers)}
	for _, tag := range append([]ident.TagID{info.tag}, labels...) {
		if tag == skip {
			continue
		}
		if err := e.TagRemoveBlob(tag, id); err != nil && !errors.Is(err, ErrTagNotFound) {
			errs = append(errs, err)
		}
	}
	if _, staging := e.stagerFor(info.tag); !staging && size > 0 && info.tag != skip {
		if _, err := e.TagUpdateSize(info.tag, -int64(size), SizeAdd); err != nil && !errors.Is(err, ErrTagNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReorganizeBlob sets a blob's user score and rewrites it onto buffers
// placed for that score.
func (e *Engine) ReorganizeBlob(ref BlobRef, score float64) error {
	info, err := e.resolve(ref)
	if err != nil {
		return e.metrics.observe("reorganize_blob", err)
	}
	return e.metrics.observe("reorganize_blob", e.reorganize(info, clampScore(score), true))
}

// reorganize moves the blob's data into freshly placed buffers. The old
// buffers are freed only after the new ones hold the data; any failure
// leaves the blob on its old buffers.
func (e *Engine) reorganize(info *blobInfo, score float64, user bool) error {
	info.mu.Lock()
	defer info.mu.Unlock()
	if info.destroyed {
		return fmt.Errorf("%w: %v", ErrBlobNotFound, info.id)
	}
	info.score = score
	if user {
		info.userScore = true
	}
	if info.size == 0 {
		return nil
	}

	data := make([]byte, info.size)
	if err := e.transfer(info.buffers, 0, data, false); err != nil {
		return fmt.Errorf("reading blob %q for reorganization: %w", info.name, err)
	}
	schemas, err := e.placement.Place(e.policy, []uint64{info.size}, e.targets.Snapshot(), score)
	if err != nil {
		return err
	}
	fresh, err := buffer.Allocate(e.targets, schemas[0])
	if err != nil {
		return fmt.Errorf("reorganizing blob %q: %w", info.name, err)
	}
	if err := e.transfer(fresh, 0, data, true); err != nil {
		return errors.Join(fmt.Errorf("rewriting blob %q: %w", info.name, err), buffer.Free(e.targets, fresh))
	}
	old := info.buffers
	info.buffers = fresh
	if err := buffer.Free(e.targets, old); err != nil {
		e.detachedFailure("free_buffers", err)
	}
	e.metrics.reorganizations.Inc()
	e.logger.Debug("reorganized blob", "blob", info.id.String(), "score", score, "buffers", len(fresh))
	return nil
}

func clampScore(score float64) float64 {
	return min(max(score, 0), 1)
}

// Blob returns a snapshot of a blob.
func (e *Engine) Blob(ref BlobRef) (BlobInfo, error) {
	info, err := e.resolve(ref)
	if err != nil {
		return BlobInfo{}, err
	}
	return info.snapshot(), nil
}

// GetBlobName returns the name of a blob.
func (e *Engine) GetBlobName(id ident.BlobID) (string, error) {
	info, err := e.lookupBlob(id)
	if err != nil {
		return "", err
	}
	return info.name, nil
}

// GetBlobSize returns the number of valid bytes in a blob.
func (e *Engine) GetBlobSize(ref BlobRef) (uint64, error) {
	info, err := e.resolve(ref)
	if err != nil {
		return 0, err
	}
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.size, nil
}

// GetBlobScore returns a blob's current score.
func (e *Engine) GetBlobScore(id ident.BlobID) (float64, error) {
	info, err := e.lookupBlob(id)
	if err != nil {
		return 0, err
	}
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.score, nil
}

// GetBlobBuffers returns a blob's buffer list in logical order.
func (e *Engine) GetBlobBuffers(id ident.BlobID) ([]buffer.Info, error) {
	info, err := e.lookupBlob(id)
	if err != nil {
		return nil, err
	}
	info.mu.RLock()
	defer info.mu.RUnlock()
	return slices.Clone(info.buffers), nil
}

// TagBlob labels a blob with a second tag, which then lists it.
func (e *Engine) TagBlob(blob ident.BlobID, tag ident.TagID) error {
	info, err := e.lookupBlob(blob)
	if err != nil {
		return err
	}
	if err := e.TagAddBlob(tag, blob); err != nil {
		return err
	}
	info.mu.Lock()
	defer info.mu.Unlock()
	if tag != info.tag && !slices.Contains(info.tags, tag) {
		info.tags = append(info.tags, tag)
	}
	return nil
}

// BlobHasTag reports whether a blob belongs to or is labelled with tag.
func (e *Engine) BlobHasTag(blob ident.BlobID, tag ident.TagID) (bool, error) {
	info, err := e.lookupBlob(blob)
	if err != nil {
		return false, err
	}
	info.mu.RLock()
	defer info.mu.RUnlock()
	return tag == info.tag || slices.Contains(info.tags, tag), nil
}
