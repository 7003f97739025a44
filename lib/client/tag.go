// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/bureau-foundation/tierbuf/lib/engine"
	"github.com/bureau-foundation/tierbuf/lib/ident"
)

// TagOptions configure a tag at creation. They are ignored when the
// tag already exists.
type TagOptions struct {
	// Owner makes destroying or clearing the tag destroy its blobs.
	Owner bool
	// BackendSize is the initial tag size.
	BackendSize uint64
	// StagingParams registers a stager for the tag; build them with
	// stager.BuildFileParams. The tag name is then the backing path.
	StagingParams []byte
}

type idResponse struct {
	ID ident.TagID `cbor:"id"`
}

// GetOrCreateTag returns the id of the named tag, creating it with
// opts if needed.
func (c *Client) GetOrCreateTag(ctx context.Context, name string, opts TagOptions) (ident.TagID, error) {
	if err := requireName("tag", name); err != nil {
		return ident.TagID{}, err
	}
	fields := map[string]any{
		"name":         name,
		"owner":        opts.Owner,
		"backend_size": opts.BackendSize,
	}
	if len(opts.StagingParams) > 0 {
		fields["staging_params"] = opts.StagingParams
	}
	var response idResponse
	if err := c.call(ctx, "get-or-create-tag", fields, &response); err != nil {
		return ident.TagID{}, err
	}
	return response.ID, nil
}

// GetTagID resolves a tag name.
func (c *Client) GetTagID(ctx context.Context, name string) (ident.TagID, error) {
	var response idResponse
	if err := c.call(ctx, "get-tag-id", map[string]any{"name": name}, &response); err != nil {
		return ident.TagID{}, err
	}
	return response.ID, nil
}

// GetTagName resolves a tag id.
func (c *Client) GetTagName(ctx context.Context, tag ident.TagID) (string, error) {
	var response struct {
		Name string `cbor:"name"`
	}
	if err := c.call(ctx, "get-tag-name", map[string]any{"tag": tag}, &response); err != nil {
		return "", err
	}
	return response.Name, nil
}

// Tag returns a snapshot of one tag.
func (c *Client) Tag(ctx context.Context, tag ident.TagID) (engine.TagInfo, error) {
	var info engine.TagInfo
	if err := c.call(ctx, "tag-info", map[string]any{"tag": tag}, &info); err != nil {
		return engine.TagInfo{}, err
	}
	return info, nil
}

// DestroyTag removes a tag; an owning tag destroys its blobs first.
func (c *Client) DestroyTag(ctx context.Context, tag ident.TagID) error {
	return c.call(ctx, "destroy-tag", map[string]any{"tag": tag}, nil)
}

// TagAddBlob lists blob in tag.
func (c *Client) TagAddBlob(ctx context.Context, tag ident.TagID, blob ident.BlobID) error {
	return c.call(ctx, "tag-add-blob", map[string]any{"tag": tag, "blob": blob}, nil)
}

// TagRemoveBlob unlists blob from tag without destroying it.
func (c *Client) TagRemoveBlob(ctx context.Context, tag ident.TagID, blob ident.BlobID) error {
	return c.call(ctx, "tag-remove-blob", map[string]any{"tag": tag, "blob": blob}, nil)
}

// TagClearBlobs empties the tag, destroying the blobs if it owns them.
func (c *Client) TagClearBlobs(ctx context.Context, tag ident.TagID) error {
	return c.call(ctx, "tag-clear-blobs", map[string]any{"tag": tag}, nil)
}

// TagBlobs returns the ids listed in a tag.
func (c *Client) TagBlobs(ctx context.Context, tag ident.TagID) ([]ident.BlobID, error) {
	var response struct {
		Blobs []ident.BlobID `cbor:"blobs"`
	}
	if err := c.call(ctx, "tag-blobs", map[string]any{"tag": tag}, &response); err != nil {
		return nil, err
	}
	return response.Blobs, nil
}

type sizeResponse struct {
	Size uint64 `cbor:"size"`
}

// TagGetSize returns the tag's accounted size.
func (c *Client) TagGetSize(ctx context.Context, tag ident.TagID) (uint64, error) {
	var response sizeResponse
	if err := c.call(ctx, "tag-get-size", map[string]any{"tag": tag}, &response); err != nil {
		return 0, err
	}
	return response.Size, nil
}

// TagUpdateSize applies value under mode and returns the new size.
func (c *Client) TagUpdateSize(ctx context.Context, tag ident.TagID, value int64, mode engine.SizeMode) (uint64, error) {
	var response sizeResponse
	fields := map[string]any{"tag": tag, "value": value, "mode": mode.String()}
	if err := c.call(ctx, "tag-update-size", fields, &response); err != nil {
		return 0, err
	}
	return response.Size, nil
}

// TagFlush stages out every dirty blob of the tag and returns how many
// were written.
func (c *Client) TagFlush(ctx context.Context, tag ident.TagID) (int, error) {
	var response struct {
		Flushed int `cbor:"flushed"`
	}
	if err := c.call(ctx, "tag-flush", map[string]any{"tag": tag}, &response); err != nil {
		return 0, err
	}
	return response.Flushed, nil
}

// RegisterStager attaches a stager to an existing tag. Registering an
// already staged tag is a no-op.
func (c *Client) RegisterStager(ctx context.Context, tag ident.TagID, params []byte) error {
	return c.call(ctx, "register-stager", map[string]any{"tag": tag, "params": params}, nil)
}

// UnregisterStager detaches and closes the tag's stager.
func (c *Client) UnregisterStager(ctx context.Context, tag ident.TagID) error {
	return c.call(ctx, "unregister-stager", map[string]any{"tag": tag}, nil)
}

// StageIn loads the named blob's backing page and returns its id.
func (c *Client) StageIn(ctx context.Context, tag ident.TagID, name string) (ident.BlobID, error) {
	var response struct {
		ID ident.BlobID `cbor:"id"`
	}
	if err := c.call(ctx, "stage-in", map[string]any{"tag": tag, "name": name}, &response); err != nil {
		return ident.BlobID{}, err
	}
	return response.ID, nil
}

// StageOut writes data to the named blob's backing page.
func (c *Client) StageOut(ctx context.Context, tag ident.TagID, name string, data []byte) error {
	return c.call(ctx, "stage-out", map[string]any{"tag": tag, "name": name, "data": data}, nil)
}
