// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/tierbuf/lib/codec"
	"github.com/bureau-foundation/tierbuf/lib/engine"
	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/placement"
	"github.com/bureau-foundation/tierbuf/lib/service"
	"github.com/bureau-foundation/tierbuf/lib/version"
)

// registerActions registers every socket action. Names follow the
// engine operations they call.
func (s *Server) registerActions(server *service.SocketServer) {
	server.Handle("status", s.handleStatus)
	server.Handle("flush-all", s.handleFlushAll)

	// Tags.
	server.Handle("get-or-create-tag", s.handleGetOrCreateTag)
	server.Handle("get-tag-id", s.handleGetTagID)
	server.Handle("get-tag-name", s.handleGetTagName)
	server.Handle("tag-info", s.handleTagInfo)
	server.Handle("destroy-tag", s.handleDestroyTag)
	server.Handle("tag-add-blob", s.handleTagAddBlob)
	server.Handle("tag-remove-blob", s.handleTagRemoveBlob)
	server.Handle("tag-clear-blobs", s.handleTagClearBlobs)
	server.Handle("tag-blobs", s.handleTagBlobs)
	server.Handle("tag-get-size", s.handleTagGetSize)
	server.Handle("tag-update-size", s.handleTagUpdateSize)
	server.Handle("tag-flush", s.handleTagFlush)

	// Staging.
	server.Handle("register-stager", s.handleRegisterStager)
	server.Handle("unregister-stager", s.handleUnregisterStager)
	server.Handle("stage-in", s.handleStageIn)
	server.Handle("stage-out", s.handleStageOut)

	// Blobs.
	server.Handle("get-or-create-blob-id", s.handleGetOrCreateBlobID)
	server.Handle("get-blob-id", s.handleGetBlobID)
	server.Handle("contains-blob", s.handleContainsBlob)
	server.Handle("put-blob", s.handlePutBlob)
	server.Handle("get-blob", s.handleGetBlob)
	server.Handle("destroy-blob", s.handleDestroyBlob)
	server.Handle("reorganize-blob", s.handleReorganizeBlob)
	server.Handle("blob-info", s.handleBlobInfo)
	server.Handle("get-blob-size", s.handleGetBlobSize)
	server.Handle("get-blob-name", s.handleGetBlobName)
	server.Handle("get-blob-score", s.handleGetBlobScore)
	server.Handle("get-blob-buffers", s.handleGetBlobBuffers)
	server.Handle("tag-blob", s.handleTagBlob)
	server.Handle("blob-has-tag", s.handleBlobHasTag)
	server.Handle("flush-blob", s.handleFlushBlob)

	// Polls.
	server.Handle("poll-blobs", s.handlePollBlobs)
	server.Handle("poll-tags", s.handlePollTags)
	server.Handle("poll-targets", s.handlePollTargets)
	server.Handle("poll-access", s.handlePollAccess)
}

// decode unmarshals the action-specific fields of a request.
func decode[T any](raw []byte) (T, error) {
	var request T
	if err := codec.Unmarshal(raw, &request); err != nil {
		return request, fmt.Errorf("invalid request: %w", err)
	}
	return request, nil
}

// --- Request types ---
//
// The "action" field is consumed by the socket server and is not
// repeated here.

type tagRequest struct {
	Tag ident.TagID `cbor:"tag"`
}

type nameRequest struct {
	Name string `cbor:"name"`
}

type createTagRequest struct {
	Name          string `cbor:"name"`
	Owner         bool   `cbor:"owner"`
	BackendSize   uint64 `cbor:"backend_size"`
	StagingParams []byte `cbor:"staging_params"`
}

type tagBlobRequest struct {
	Tag  ident.TagID  `cbor:"tag"`
	Blob ident.BlobID `cbor:"blob"`
}

type updateSizeRequest struct {
	Tag   ident.TagID `cbor:"tag"`
	Value int64       `cbor:"value"`
	Mode  string      `cbor:"mode"`
}

type blobNameRequest struct {
	Tag  ident.TagID `cbor:"tag"`
	Name string      `cbor:"name"`
}

// blobRefRequest names a blob by id, or by name within a tag.
type blobRefRequest struct {
	Tag  ident.TagID  `cbor:"tag"`
	Name string       `cbor:"name"`
	Blob ident.BlobID `cbor:"blob"`
}

func (r blobRefRequest) ref() engine.BlobRef {
	return engine.BlobRef{Tag: r.Tag, Name: r.Name, ID: r.Blob}
}

type blobRequest struct {
	Blob ident.BlobID `cbor:"blob"`
}

type putRequest struct {
	blobRefRequest
	Offset uint64   `cbor:"offset"`
	Data   []byte   `cbor:"data"`
	Score  *float64 `cbor:"score"`
	Policy string   `cbor:"policy"`
}

type getRequest struct {
	blobRefRequest
	Offset uint64 `cbor:"offset"`
	Size   uint64 `cbor:"size"`
}

type destroyBlobRequest struct {
	blobRefRequest
	KeepInTag bool `cbor:"keep_in_tag"`
}

type reorganizeRequest struct {
	blobRefRequest
	Score float64 `cbor:"score"`
}

type registerStagerRequest struct {
	Tag    ident.TagID `cbor:"tag"`
	Params []byte      `cbor:"params"`
}

type stageOutRequest struct {
	Tag  ident.TagID `cbor:"tag"`
	Name string      `cbor:"name"`
	Data []byte      `cbor:"data"`
}

type pollRequest struct {
	Pattern string `cbor:"pattern"`
	Max     int    `cbor:"max"`
}

type accessRequest struct {
	LastID uint64 `cbor:"last_id"`
}

// --- Response types ---

type statusResponse struct {
	UptimeSeconds float64 `cbor:"uptime_seconds"`
	InstanceID    string  `cbor:"instance_id"`
	Version       string  `cbor:"version"`
	Node          uint32  `cbor:"node"`
	Lanes         int     `cbor:"lanes"`
	Tags          int     `cbor:"tags"`
	Blobs         int     `cbor:"blobs"`
	Targets       int     `cbor:"targets"`
}

type tagIDResponse struct {
	ID ident.TagID `cbor:"id"`
}

type blobIDResponse struct {
	ID ident.BlobID `cbor:"id"`
}

type sizeResponse struct {
	Size uint64 `cbor:"size"`
}

type nameResponse struct {
	Name string `cbor:"name"`
}

type countResponse struct {
	Flushed int `cbor:"flushed"`
}

// --- Handlers ---

func (s *Server) handleStatus(ctx context.Context, raw []byte) (any, error) {
	tags, blobs := s.engine.Counts()
	return statusResponse{
		UptimeSeconds: s.clock.Now().Sub(s.startedAt).Seconds(),
		InstanceID:    s.instanceID,
		Version:       version.Info(),
		Node:          s.config.NodeID,
		Lanes:         s.engine.LaneCount(),
		Tags:          tags,
		Blobs:         blobs,
		Targets:       len(s.targets.Targets()),
	}, nil
}

func (s *Server) handleFlushAll(ctx context.Context, raw []byte) (any, error) {
	flushed, err := s.engine.FlushAll(ctx)
	if err != nil {
		return nil, err
	}
	return countResponse{Flushed: flushed}, nil
}

func (s *Server) handleGetOrCreateTag(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[createTagRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.Name == "" {
		return nil, fmt.Errorf("missing required field: name")
	}
	id, err := s.engine.GetOrCreateTag(request.Name, engine.TagOptions{
		Owner:         request.Owner,
		BackendSize:   request.BackendSize,
		StagingParams: request.StagingParams,
	})
	if err != nil {
		return nil, err
	}
	return tagIDResponse{ID: id}, nil
}

func (s *Server) handleGetTagID(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[nameRequest](raw)
	if err != nil {
		return nil, err
	}
	id, err := s.engine.GetTagID(request.Name)
	if err != nil {
		return nil, err
	}
	return tagIDResponse{ID: id}, nil
}

func (s *Server) handleGetTagName(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[tagRequest](raw)
	if err != nil {
		return nil, err
	}
	name, err := s.engine.GetTagName(request.Tag)
	if err != nil {
		return nil, err
	}
	return nameResponse{Name: name}, nil
}

func (s *Server) handleTagInfo(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[tagRequest](raw)
	if err != nil {
		return nil, err
	}
	return s.engine.Tag(request.Tag)
}

func (s *Server) handleDestroyTag(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[tagRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.DestroyTag(request.Tag)
}

func (s *Server) handleTagAddBlob(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[tagBlobRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.TagAddBlob(request.Tag, request.Blob)
}

func (s *Server) handleTagRemoveBlob(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[tagBlobRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.TagRemoveBlob(request.Tag, request.Blob)
}

func (s *Server) handleTagClearBlobs(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[tagRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.TagClearBlobs(request.Tag)
}

func (s *Server) handleTagBlobs(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[tagRequest](raw)
	if err != nil {
		return nil, err
	}
	blobs, err := s.engine.TagGetContainedBlobIDs(request.Tag)
	if err != nil {
		return nil, err
	}
	return struct {
		Blobs []ident.BlobID `cbor:"blobs"`
	}{blobs}, nil
}

func (s *Server) handleTagGetSize(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[tagRequest](raw)
	if err != nil {
		return nil, err
	}
	size, err := s.engine.TagGetSize(request.Tag)
	if err != nil {
		return nil, err
	}
	return sizeResponse{Size: size}, nil
}

// parseSizeMode maps the wire form of engine.SizeMode. An empty mode
// adds.
func parseSizeMode(text string) (engine.SizeMode, error) {
	switch text {
	case "", engine.SizeAdd.String():
		return engine.SizeAdd, nil
	case engine.SizeCap.String():
		return engine.SizeCap, nil
	}
	return 0, fmt.Errorf("unknown size mode %q (want add or cap)", text)
}

func (s *Server) handleTagUpdateSize(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[updateSizeRequest](raw)
	if err != nil {
		return nil, err
	}
	mode, err := parseSizeMode(request.Mode)
	if err != nil {
		return nil, err
	}
	size, err := s.engine.TagUpdateSize(request.Tag, request.Value, mode)
	if err != nil {
		return nil, err
	}
	return sizeResponse{Size: size}, nil
}

func (s *Server) handleTagFlush(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[tagRequest](raw)
	if err != nil {
		return nil, err
	}
	flushed, err := s.engine.TagFlush(request.Tag)
	if err != nil {
		return nil, err
	}
	return countResponse{Flushed: flushed}, nil
}

func (s *Server) handleRegisterStager(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[registerStagerRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.RegisterStager(request.Tag, request.Params)
}

func (s *Server) handleUnregisterStager(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[tagRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.UnregisterStager(request.Tag)
}

func (s *Server) handleStageIn(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[blobNameRequest](raw)
	if err != nil {
		return nil, err
	}
	id, err := s.engine.StageIn(request.Tag, request.Name)
	if err != nil {
		return nil, err
	}
	return blobIDResponse{ID: id}, nil
}

func (s *Server) handleStageOut(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[stageOutRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.StageOut(request.Tag, request.Name, request.Data)
}

func (s *Server) handleGetOrCreateBlobID(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[blobNameRequest](raw)
	if err != nil {
		return nil, err
	}
	id, err := s.engine.GetOrCreateBlobID(request.Tag, request.Name)
	if err != nil {
		return nil, err
	}
	return blobIDResponse{ID: id}, nil
}

func (s *Server) handleGetBlobID(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[blobNameRequest](raw)
	if err != nil {
		return nil, err
	}
	id, err := s.engine.GetBlobID(request.Tag, request.Name)
	if err != nil {
		return nil, err
	}
	return blobIDResponse{ID: id}, nil
}

func (s *Server) handleContainsBlob(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[blobNameRequest](raw)
	if err != nil {
		return nil, err
	}
	return struct {
		Contains bool `cbor:"contains"`
	}{s.engine.ContainsBlob(request.Tag, request.Name)}, nil
}

func (s *Server) handlePutBlob(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[putRequest](raw)
	if err != nil {
		return nil, err
	}
	put := engine.PutRequest{
		Blob:   request.ref(),
		Offset: request.Offset,
		Data:   request.Data,
		Score:  request.Score,
	}
	if request.Policy != "" {
		policy, err := placement.ParsePolicy(request.Policy)
		if err != nil {
			return nil, err
		}
		put.Policy = &policy
	}
	result, err := s.engine.PutBlob(put)
	if err != nil {
		return nil, err
	}
	return struct {
		ID      ident.BlobID `cbor:"id"`
		Created bool         `cbor:"created"`
		Written uint64       `cbor:"written"`
	}{result.ID, result.Created, result.Written}, nil
}

func (s *Server) handleGetBlob(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[getRequest](raw)
	if err != nil {
		return nil, err
	}
	result, err := s.engine.GetBlob(engine.GetRequest{
		Blob:   request.ref(),
		Offset: request.Offset,
		Size:   request.Size,
	})
	if err != nil {
		return nil, err
	}
	return struct {
		ID   ident.BlobID `cbor:"id"`
		Data []byte       `cbor:"data"`
	}{result.ID, result.Data}, nil
}

func (s *Server) handleDestroyBlob(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[destroyBlobRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.DestroyBlob(request.ref(), request.KeepInTag)
}

func (s *Server) handleReorganizeBlob(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[reorganizeRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.ReorganizeBlob(request.ref(), request.Score)
}

func (s *Server) handleBlobInfo(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[blobRefRequest](raw)
	if err != nil {
		return nil, err
	}
	return s.engine.Blob(request.ref())
}

func (s *Server) handleGetBlobSize(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[blobRefRequest](raw)
	if err != nil {
		return nil, err
	}
	size, err := s.engine.GetBlobSize(request.ref())
	if err != nil {
		return nil, err
	}
	return sizeResponse{Size: size}, nil
}

func (s *Server) handleGetBlobName(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[blobRequest](raw)
	if err != nil {
		return nil, err
	}
	name, err := s.engine.GetBlobName(request.Blob)
	if err != nil {
		return nil, err
	}
	return nameResponse{Name: name}, nil
}

func (s *Server) handleGetBlobScore(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[blobRequest](raw)
	if err != nil {
		return nil, err
	}
	score, err := s.engine.GetBlobScore(request.Blob)
	if err != nil {
		return nil, err
	}
	return struct {
		Score float64 `cbor:"score"`
	}{score}, nil
}

func (s *Server) handleGetBlobBuffers(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[blobRequest](raw)
	if err != nil {
		return nil, err
	}
	buffers, err := s.engine.GetBlobBuffers(request.Blob)
	if err != nil {
		return nil, err
	}
	return struct {
		Buffers any `cbor:"buffers"`
	}{buffers}, nil
}

func (s *Server) handleTagBlob(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[tagBlobRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.TagBlob(request.Blob, request.Tag)
}

func (s *Server) handleBlobHasTag(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[tagBlobRequest](raw)
	if err != nil {
		return nil, err
	}
	hasTag, err := s.engine.BlobHasTag(request.Blob, request.Tag)
	if err != nil {
		return nil, err
	}
	return struct {
		HasTag bool `cbor:"has_tag"`
	}{hasTag}, nil
}

func (s *Server) handleFlushBlob(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[blobRequest](raw)
	if err != nil {
		return nil, err
	}
	flushed, err := s.engine.FlushBlob(request.Blob)
	if err != nil {
		return nil, err
	}
	return struct {
		Flushed bool `cbor:"flushed"`
	}{flushed}, nil
}

func (s *Server) handlePollBlobs(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[pollRequest](raw)
	if err != nil {
		return nil, err
	}
	blobs, err := s.engine.PollBlobMetadata(request.Pattern, request.Max)
	if err != nil {
		return nil, err
	}
	return struct {
		Blobs []engine.BlobInfo `cbor:"blobs"`
	}{blobs}, nil
}

func (s *Server) handlePollTags(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[pollRequest](raw)
	if err != nil {
		return nil, err
	}
	tags, err := s.engine.PollTagMetadata(request.Pattern, request.Max)
	if err != nil {
		return nil, err
	}
	return struct {
		Tags []engine.TagInfo `cbor:"tags"`
	}{tags}, nil
}

func (s *Server) handlePollTargets(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[pollRequest](raw)
	if err != nil {
		return nil, err
	}
	targets, err := s.engine.PollTargetMetadata(request.Pattern, request.Max)
	if err != nil {
		return nil, err
	}
	return struct {
		Targets any `cbor:"targets"`
	}{targets}, nil
}

func (s *Server) handlePollAccess(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[accessRequest](raw)
	if err != nil {
		return nil, err
	}
	entries, next := s.engine.PollAccessPattern(request.LastID)
	return struct {
		Entries []engine.IoStat `cbor:"entries"`
		Next    uint64          `cbor:"next"`
	}{entries, next}, nil
}
