// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/bureau-foundation/tierbuf/lib/buffer"
	"github.com/bureau-foundation/tierbuf/lib/engine"
	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/placement"
)

// refFields encodes a blob reference. An id takes precedence on the
// server, matching engine.BlobRef.
func refFields(ref engine.BlobRef) map[string]any {
	fields := make(map[string]any, 4)
	if !ref.Tag.IsNull() {
		fields["tag"] = ref.Tag
	}
	if ref.Name != "" {
		fields["name"] = ref.Name
	}
	if !ref.ID.IsNull() {
		fields["blob"] = ref.ID
	}
	return fields
}

// ByName references a blob by name within a tag.
func ByName(tag ident.TagID, name string) engine.BlobRef {
	return engine.BlobRef{Tag: tag, Name: name}
}

// ByID references a blob by id.
func ByID(id ident.BlobID) engine.BlobRef {
	return engine.BlobRef{ID: id}
}

type blobIDResponse struct {
	ID ident.BlobID `cbor:"id"`
}

// GetOrCreateBlobID returns the id of the named blob, creating an
// empty blob if needed.
func (c *Client) GetOrCreateBlobID(ctx context.Context, tag ident.TagID, name string) (ident.BlobID, error) {
	var response blobIDResponse
	if err := c.call(ctx, "get-or-create-blob-id", map[string]any{"tag": tag, "name": name}, &response); err != nil {
		return ident.BlobID{}, err
	}
	return response.ID, nil
}

// GetBlobID resolves a blob name within a tag.
func (c *Client) GetBlobID(ctx context.Context, tag ident.TagID, name string) (ident.BlobID, error) {
	var response blobIDResponse
	if err := c.call(ctx, "get-blob-id", map[string]any{"tag": tag, "name": name}, &response); err != nil {
		return ident.BlobID{}, err
	}
	return response.ID, nil
}

// ContainsBlob reports whether the tag has a blob with that name.
func (c *Client) ContainsBlob(ctx context.Context, tag ident.TagID, name string) (bool, error) {
	var response struct {
		Contains bool `cbor:"contains"`
	}
	if err := c.call(ctx, "contains-blob", map[string]any{"tag": tag, "name": name}, &response); err != nil {
		return false, err
	}
	return response.Contains, nil
}

// PutOptions tune one write.
type PutOptions struct {
	// Score sets the blob's user score, overriding computed scores.
	Score *float64
	// Policy overrides the server's default placement policy.
	Policy *placement.Policy
}

// PutResult describes a completed write.
type PutResult struct {
	ID      ident.BlobID `cbor:"id"`
	Created bool         `cbor:"created"`
	Written uint64       `cbor:"written"`
}

// PutBlob writes data at offset. A name unknown to the tag creates the
// blob.
func (c *Client) PutBlob(ctx context.Context, ref engine.BlobRef, offset uint64, data []byte, opts PutOptions) (PutResult, error) {
	fields := refFields(ref)
	fields["offset"] = offset
	fields["data"] = data
	if opts.Score != nil {
		fields["score"] = *opts.Score
	}
	if opts.Policy != nil {
		fields["policy"] = opts.Policy.String()
	}
	var result PutResult
	if err := c.call(ctx, "put-blob", fields, &result); err != nil {
		return PutResult{}, err
	}
	return result, nil
}

// GetBlob reads up to size bytes at offset; size 0 reads to the end.
func (c *Client) GetBlob(ctx context.Context, ref engine.BlobRef, offset, size uint64) ([]byte, ident.BlobID, error) {
	fields := refFields(ref)
	fields["offset"] = offset
	fields["size"] = size
	var response struct {
		ID   ident.BlobID `cbor:"id"`
		Data []byte       `cbor:"data"`
	}
	if err := c.call(ctx, "get-blob", fields, &response); err != nil {
		return nil, ident.BlobID{}, err
	}
	return response.Data, response.ID, nil
}

// DestroyBlob frees a blob. keepInTag leaves it listed in its primary
// tag.
func (c *Client) DestroyBlob(ctx context.Context, ref engine.BlobRef, keepInTag bool) error {
	fields := refFields(ref)
	fields["keep_in_tag"] = keepInTag
	return c.call(ctx, "destroy-blob", fields, nil)
}

// ReorganizeBlob sets the blob's user score and moves it to the tier
// that score selects.
func (c *Client) ReorganizeBlob(ctx context.Context, ref engine.BlobRef, score float64) error {
	fields := refFields(ref)
	fields["score"] = score
	return c.call(ctx, "reorganize-blob", fields, nil)
}

// Blob returns a snapshot of one blob.
func (c *Client) Blob(ctx context.Context, ref engine.BlobRef) (engine.BlobInfo, error) {
	var info engine.BlobInfo
	if err := c.call(ctx, "blob-info", refFields(ref), &info); err != nil {
		return engine.BlobInfo{}, err
	}
	return info, nil
}

// GetBlobSize returns the blob's logical size.
func (c *Client) GetBlobSize(ctx context.Context, ref engine.BlobRef) (uint64, error) {
	var response sizeResponse
	if err := c.call(ctx, "get-blob-size", refFields(ref), &response); err != nil {
		return 0, err
	}
	return response.Size, nil
}

// GetBlobName resolves a blob id.
func (c *Client) GetBlobName(ctx context.Context, blob ident.BlobID) (string, error) {
	var response struct {
		Name string `cbor:"name"`
	}
	if err := c.call(ctx, "get-blob-name", map[string]any{"blob": blob}, &response); err != nil {
		return "", err
	}
	return response.Name, nil
}

// GetBlobScore returns the blob's current score.
func (c *Client) GetBlobScore(ctx context.Context, blob ident.BlobID) (float64, error) {
	var response struct {
		Score float64 `cbor:"score"`
	}
	if err := c.call(ctx, "get-blob-score", map[string]any{"blob": blob}, &response); err != nil {
		return 0, err
	}
	return response.Score, nil
}

// GetBlobBuffers returns the blob's buffer list in logical order.
func (c *Client) GetBlobBuffers(ctx context.Context, blob ident.BlobID) ([]buffer.Info, error) {
	var response struct {
		Buffers []buffer.Info `cbor:"buffers"`
	}
	if err := c.call(ctx, "get-blob-buffers", map[string]any{"blob": blob}, &response); err != nil {
		return nil, err
	}
	return response.Buffers, nil
}

// TagBlob adds tag as a secondary label of blob.
func (c *Client) TagBlob(ctx context.Context, blob ident.BlobID, tag ident.TagID) error {
	return c.call(ctx, "tag-blob", map[string]any{"blob": blob, "tag": tag}, nil)
}

// BlobHasTag reports whether blob carries tag as its primary tag or a
// label.
func (c *Client) BlobHasTag(ctx context.Context, blob ident.BlobID, tag ident.TagID) (bool, error) {
	var response struct {
		HasTag bool `cbor:"has_tag"`
	}
	if err := c.call(ctx, "blob-has-tag", map[string]any{"blob": blob, "tag": tag}, &response); err != nil {
		return false, err
	}
	return response.HasTag, nil
}

// FlushBlob stages out one blob if it is dirty and reports whether it
// was written.
func (c *Client) FlushBlob(ctx context.Context, blob ident.BlobID) (bool, error) {
	var response struct {
		Flushed bool `cbor:"flushed"`
	}
	if err := c.call(ctx, "flush-blob", map[string]any{"blob": blob}, &response); err != nil {
		return false, err
	}
	return response.Flushed, nil
}
