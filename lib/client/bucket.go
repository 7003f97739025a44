// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/bureau-foundation/tierbuf/lib/engine"
	"github.com/bureau-foundation/tierbuf/lib/ident"
)

// Bucket is a named tag with blob operations addressed by name.
type Bucket struct {
	client *Client
	name   string
	id     ident.TagID
}

// OpenBucket gets or creates the tag called name.
func (c *Client) OpenBucket(ctx context.Context, name string, opts TagOptions) (*Bucket, error) {
	id, err := c.GetOrCreateTag(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	return &Bucket{client: c, name: name, id: id}, nil
}

// Name returns the tag name.
func (b *Bucket) Name() string { return b.name }

// ID returns the tag id.
func (b *Bucket) ID() ident.TagID { return b.id }

// Put replaces the start of the named blob with data, creating it if
// needed. A longer existing blob keeps its tail.
func (b *Bucket) Put(ctx context.Context, name string, data []byte) (ident.BlobID, error) {
	return b.PartialPut(ctx, name, 0, data)
}

// PartialPut writes data at offset into the named blob.
func (b *Bucket) PartialPut(ctx context.Context, name string, offset uint64, data []byte) (ident.BlobID, error) {
	result, err := b.client.PutBlob(ctx, ByName(b.id, name), offset, data, PutOptions{})
	if err != nil {
		return ident.BlobID{}, err
	}
	return result.ID, nil
}

// PutScored writes data with a user score, which pins placement to the
// tier that score selects.
func (b *Bucket) PutScored(ctx context.Context, name string, data []byte, score float64) (ident.BlobID, error) {
	result, err := b.client.PutBlob(ctx, ByName(b.id, name), 0, data, PutOptions{Score: &score})
	if err != nil {
		return ident.BlobID{}, err
	}
	return result.ID, nil
}

// Get reads the whole named blob.
func (b *Bucket) Get(ctx context.Context, name string) ([]byte, error) {
	return b.PartialGet(ctx, name, 0, 0)
}

// PartialGet reads up to size bytes at offset; size 0 reads to the
// end.
func (b *Bucket) PartialGet(ctx context.Context, name string, offset, size uint64) ([]byte, error) {
	data, _, err := b.client.GetBlob(ctx, ByName(b.id, name), offset, size)
	return data, err
}

// Contains reports whether the bucket has a blob with that name.
func (b *Bucket) Contains(ctx context.Context, name string) (bool, error) {
	return b.client.ContainsBlob(ctx, b.id, name)
}

// BlobSize returns the named blob's size.
func (b *Bucket) BlobSize(ctx context.Context, name string) (uint64, error) {
	return b.client.GetBlobSize(ctx, ByName(b.id, name))
}

// Reorganize moves the named blob to the tier score selects.
func (b *Bucket) Reorganize(ctx context.Context, name string, score float64) error {
	return b.client.ReorganizeBlob(ctx, ByName(b.id, name), score)
}

// DestroyBlob destroys the named blob and unlists it.
func (b *Bucket) DestroyBlob(ctx context.Context, name string) error {
	return b.client.DestroyBlob(ctx, ByName(b.id, name), false)
}

// Blobs returns the ids listed in the bucket.
func (b *Bucket) Blobs(ctx context.Context) ([]ident.BlobID, error) {
	return b.client.TagBlobs(ctx, b.id)
}

// Size returns the bucket's accounted size.
func (b *Bucket) Size(ctx context.Context) (uint64, error) {
	return b.client.TagGetSize(ctx, b.id)
}

// Info returns a snapshot of the bucket's tag.
func (b *Bucket) Info(ctx context.Context) (engine.TagInfo, error) {
	return b.client.Tag(ctx, b.id)
}

// Flush stages out the bucket's dirty blobs.
func (b *Bucket) Flush(ctx context.Context) (int, error) {
	return b.client.TagFlush(ctx, b.id)
}

// Clear empties the bucket.
func (b *Bucket) Clear(ctx context.Context) error {
	return b.client.TagClearBlobs(ctx, b.id)
}

// Destroy destroys the bucket's tag. The Bucket must not be used
// afterwards.
func (b *Bucket) Destroy(ctx context.Context) error {
	return b.client.DestroyTag(ctx, b.id)
}
