// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/bureau-foundation/tierbuf/lib/engine"
	"github.com/bureau-foundation/tierbuf/lib/target"
)

func filterFields(pattern string, maxCount int) map[string]any {
	return map[string]any{"pattern": pattern, "max": maxCount}
}

// PollBlobMetadata returns blobs whose name fully matches pattern,
// at most maxCount when positive.
func (c *Client) PollBlobMetadata(ctx context.Context, pattern string, maxCount int) ([]engine.BlobInfo, error) {
	var response struct {
		Blobs []engine.BlobInfo `cbor:"blobs"`
	}
	if err := c.call(ctx, "poll-blobs", filterFields(pattern, maxCount), &response); err != nil {
		return nil, err
	}
	return response.Blobs, nil
}

// PollTagMetadata returns tags whose name fully matches pattern.
func (c *Client) PollTagMetadata(ctx context.Context, pattern string, maxCount int) ([]engine.TagInfo, error) {
	var response struct {
		Tags []engine.TagInfo `cbor:"tags"`
	}
	if err := c.call(ctx, "poll-tags", filterFields(pattern, maxCount), &response); err != nil {
		return nil, err
	}
	return response.Tags, nil
}

// PollTargetMetadata returns targets whose device name fully matches
// pattern.
func (c *Client) PollTargetMetadata(ctx context.Context, pattern string, maxCount int) ([]target.Info, error) {
	var response struct {
		Targets []target.Info `cbor:"targets"`
	}
	if err := c.call(ctx, "poll-targets", filterFields(pattern, maxCount), &response); err != nil {
		return nil, err
	}
	return response.Targets, nil
}

// PollAccessPattern returns accesses with id >= lastID and the id to
// pass next time.
func (c *Client) PollAccessPattern(ctx context.Context, lastID uint64) ([]engine.IoStat, uint64, error) {
	var response struct {
		Entries []engine.IoStat `cbor:"entries"`
		Next    uint64          `cbor:"next"`
	}
	if err := c.call(ctx, "poll-access", map[string]any{"last_id": lastID}, &response); err != nil {
		return nil, 0, err
	}
	return response.Entries, response.Next, nil
}
