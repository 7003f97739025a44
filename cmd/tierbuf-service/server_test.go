// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/tierbuf/lib/client"
	"github.com/bureau-foundation/tierbuf/lib/clock"
	"github.com/bureau-foundation/tierbuf/lib/config"
	"github.com/bureau-foundation/tierbuf/lib/engine"
	"github.com/bureau-foundation/tierbuf/lib/placement"
	"github.com/bureau-foundation/tierbuf/lib/stager"
	"github.com/bureau-foundation/tierbuf/lib/target"
	"github.com/bureau-foundation/tierbuf/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// testConfig returns a two-tier RAM layout listening in a private
// socket directory.
func testConfig(t *testing.T) *config.ServerConfig {
	t.Helper()
	ramDevice := func(name string, capacity config.Size, bandwidth config.Bandwidth) config.DeviceConfig {
		return config.DeviceConfig{
			Name:      name,
			Kind:      config.RAM,
			Capacity:  capacity,
			BlockSize: 4096,
			SlabSizes: []config.Size{4096, 64 << 10},
			Bandwidth: bandwidth,
			Latency:   config.Duration(time.Microsecond),
		}
	}
	cfg := config.Default()
	cfg.NodeID = 3
	cfg.Lanes = 4
	cfg.SocketPath = filepath.Join(testutil.SocketDir(t), "tierbuf.sock")
	cfg.Devices = []config.DeviceConfig{
		ramDevice("fast", 256<<10, 1000),
		ramDevice("slow", 1<<20, 10),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

type testServer struct {
	*Server
	clock  *clock.FakeClock
	client *client.Client
	// stop cancels Run and returns its result.
	stop func() error
}

// startServer runs a Server until the test ends.
func startServer(t *testing.T, cfg *config.ServerConfig) *testServer {
	t.Helper()
	fake := clock.Fake(epoch)
	server, err := NewServer(cfg, Options{
		Clock:         fake,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		PlacementSeed: 1,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx)
	}()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")

	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		return testutil.RequireReceive(t, done, 10*time.Second, "Run returns")
	}
	t.Cleanup(func() {
		_ = stop()
		server.Close()
	})

	c, err := client.New(cfg.SocketPath)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return &testServer{Server: server, clock: fake, client: c, stop: stop}
}

func pattern(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = seed + byte(i%251)
	}
	return data
}

func TestServerActionsCoverClient(t *testing.T) {
	server := startServer(t, testConfig(t))
	actions := server.socket.Actions()
	for _, want := range []string{
		"status", "flush-all",
		"get-or-create-tag", "get-tag-id", "get-tag-name", "tag-info", "destroy-tag",
		"tag-add-blob", "tag-remove-blob", "tag-clear-blobs", "tag-blobs",
		"tag-get-size", "tag-update-size", "tag-flush",
		"register-stager", "unregister-stager", "stage-in", "stage-out",
		"get-or-create-blob-id", "get-blob-id", "contains-blob",
		"put-blob", "get-blob", "destroy-blob", "reorganize-blob", "blob-info",
		"get-blob-size", "get-blob-name", "get-blob-score", "get-blob-buffers",
		"tag-blob", "blob-has-tag", "flush-blob",
		"poll-blobs", "poll-tags", "poll-targets", "poll-access",
	} {
		found := false
		for _, action := range actions {
			if action == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("action %q not registered", want)
		}
	}
}

func TestServerStatus(t *testing.T) {
	server := startServer(t, testConfig(t))
	ctx := t.Context()

	bucket, err := server.client.OpenBucket(ctx, "status", client.TagOptions{})
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	if _, err := bucket.Put(ctx, "a", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	server.clock.Advance(90 * time.Second)

	status, err := server.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Node != 3 || status.Lanes != 4 || status.Targets != 2 {
		t.Errorf("status = %+v, want node 3, 4 lanes, 2 targets", status)
	}
	if status.Tags != 1 || status.Blobs != 1 {
		t.Errorf("status counts = %d tags, %d blobs, want 1 and 1", status.Tags, status.Blobs)
	}
	if status.Uptime() != 90*time.Second {
		t.Errorf("uptime = %v, want 1m30s", status.Uptime())
	}
	if status.InstanceID == "" || status.Version == "" {
		t.Errorf("status missing identity: %+v", status)
	}
}

func TestServerBlobRoundTrip(t *testing.T) {
	server := startServer(t, testConfig(t))
	ctx := t.Context()
	c := server.client

	bucket, err := c.OpenBucket(ctx, "round-trip", client.TagOptions{Owner: true})
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	data := pattern(10000, 7)
	id, err := bucket.Put(ctx, "obj", data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := bucket.Get(ctx, "obj")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("Get returned different bytes")
	}

	if _, err := bucket.PartialPut(ctx, "obj", 100, []byte("patched")); err != nil {
		t.Fatalf("PartialPut: %v", err)
	}
	part, err := bucket.PartialGet(ctx, "obj", 98, 11)
	if err != nil {
		t.Fatalf("PartialGet: %v", err)
	}
	want := append(append([]byte{}, data[98:100]...), "patched"...)
	want = append(want, data[107:109]...)
	if !bytes.Equal(part, want) {
		t.Errorf("PartialGet = %q, want %q", part, want)
	}

	if size, err := bucket.BlobSize(ctx, "obj"); err != nil || size != 10000 {
		t.Errorf("BlobSize = %d, %v, want 10000", size, err)
	}
	if name, err := c.GetBlobName(ctx, id); err != nil || name != "obj" {
		t.Errorf("GetBlobName = %q, %v", name, err)
	}
	if byID, _, err := c.GetBlob(ctx, client.ByID(id), 0, 4); err != nil || !bytes.Equal(byID, data[:4]) {
		t.Errorf("GetBlob by id = %v, %v", byID, err)
	}

	buffers, err := c.GetBlobBuffers(ctx, id)
	if err != nil {
		t.Fatalf("GetBlobBuffers: %v", err)
	}
	var total uint64
	for _, buf := range buffers {
		total += buf.Size
	}
	if total < 10000 {
		t.Errorf("buffers hold %d bytes, want at least 10000", total)
	}

	blobs, err := bucket.Blobs(ctx)
	if err != nil || len(blobs) != 1 || blobs[0] != id {
		t.Errorf("Blobs = %v, %v, want [%v]", blobs, err, id)
	}
	if contains, err := bucket.Contains(ctx, "obj"); err != nil || !contains {
		t.Errorf("Contains = %v, %v", contains, err)
	}

	if err := bucket.DestroyBlob(ctx, "obj"); err != nil {
		t.Fatalf("DestroyBlob: %v", err)
	}
	if _, err := bucket.Get(ctx, "obj"); !client.IsNotFound(err) {
		t.Errorf("Get after destroy = %v, want not found", err)
	}
}

func TestServerScoresAndTags(t *testing.T) {
	server := startServer(t, testConfig(t))
	ctx := t.Context()
	c := server.client

	first, err := c.OpenBucket(ctx, "first", client.TagOptions{})
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	second, err := c.OpenBucket(ctx, "second", client.TagOptions{})
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}

	id, err := first.PutScored(ctx, "hot", pattern(4096, 1), 0.9)
	if err != nil {
		t.Fatalf("PutScored: %v", err)
	}
	if score, err := c.GetBlobScore(ctx, id); err != nil || score != 0.9 {
		t.Errorf("GetBlobScore = %v, %v, want 0.9", score, err)
	}
	if err := first.Reorganize(ctx, "hot", 0.1); err != nil {
		t.Fatalf("Reorganize: %v", err)
	}
	if score, err := c.GetBlobScore(ctx, id); err != nil || score != 0.1 {
		t.Errorf("score after reorganize = %v, %v, want 0.1", score, err)
	}

	if err := c.TagBlob(ctx, id, second.ID()); err != nil {
		t.Fatalf("TagBlob: %v", err)
	}
	if has, err := c.BlobHasTag(ctx, id, second.ID()); err != nil || !has {
		t.Errorf("BlobHasTag = %v, %v, want true", has, err)
	}

	if size, err := c.TagUpdateSize(ctx, second.ID(), 100, engine.SizeAdd); err != nil || size != 100 {
		t.Errorf("TagUpdateSize add = %d, %v, want 100", size, err)
	}
	if size, err := c.TagUpdateSize(ctx, second.ID(), 40, engine.SizeCap); err != nil || size != 100 {
		t.Errorf("TagUpdateSize cap = %d, %v, want 100", size, err)
	}

	policy := placement.RoundRobin
	result, err := c.PutBlob(ctx, client.ByName(second.ID(), "rr"), 0, []byte("x"), client.PutOptions{Policy: &policy})
	if err != nil {
		t.Fatalf("PutBlob with policy: %v", err)
	}
	if !result.Created || result.Written != 1 {
		t.Errorf("PutBlob = %+v, want created with 1 byte written", result)
	}

	if err := second.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if blobs, err := second.Blobs(ctx); err != nil || len(blobs) != 0 {
		t.Errorf("Blobs after clear = %v, %v", blobs, err)
	}
	if err := second.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := c.GetTagID(ctx, "second"); !client.IsNotFound(err) {
		t.Errorf("GetTagID after destroy = %v, want not found", err)
	}
}

func TestServerErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRequestSize = 8 << 20
	server := startServer(t, cfg)
	ctx := t.Context()
	c := server.client

	if _, err := c.GetTagID(ctx, "absent"); !client.IsNotFound(err) {
		t.Errorf("GetTagID(absent) = %v, want not found", err)
	}
	bucket, err := c.OpenBucket(ctx, "errors", client.TagOptions{})
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	if _, err := bucket.Get(ctx, "absent"); !client.IsNotFound(err) {
		t.Errorf("Get(absent) = %v, want not found", err)
	}
	if _, err := c.StageIn(ctx, bucket.ID(), "0"); !client.IsNotFound(err) {
		t.Errorf("StageIn without stager = %v, want not found", err)
	}

	// Both devices together hold 1.25 MiB.
	if _, err := bucket.Put(ctx, "huge", make([]byte, 4<<20)); !client.IsOutOfSpace(err) {
		t.Errorf("oversized Put = %v, want out of space", err)
	}

	if _, err := c.TagUpdateSize(ctx, bucket.ID(), 1, engine.SizeMode(9)); err == nil {
		t.Error("unknown size mode should fail")
	}
	_, err = c.PollBlobMetadata(ctx, "([", 0)
	if err == nil || !strings.Contains(err.Error(), "invalid filter") {
		t.Errorf("bad pattern = %v, want an invalid filter error", err)
	}
}

func TestServerPolls(t *testing.T) {
	server := startServer(t, testConfig(t))
	ctx := t.Context()
	c := server.client

	bucket, err := c.OpenBucket(ctx, "polled", client.TagOptions{})
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	for _, name := range []string{"log-1", "log-2", "data"} {
		if _, err := bucket.Put(ctx, name, []byte(name)); err != nil {
			t.Fatalf("Put(%s): %v", name, err)
		}
	}
	if _, err := bucket.Get(ctx, "data"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	blobs, err := c.PollBlobMetadata(ctx, "log-.*", 0)
	if err != nil {
		t.Fatalf("PollBlobMetadata: %v", err)
	}
	if len(blobs) != 2 {
		t.Errorf("PollBlobMetadata(log-.*) returned %d blobs, want 2", len(blobs))
	}
	if limited, err := c.PollBlobMetadata(ctx, "", 1); err != nil || len(limited) != 1 {
		t.Errorf("PollBlobMetadata max 1 = %d blobs, %v", len(limited), err)
	}

	tags, err := c.PollTagMetadata(ctx, "poll.*", 0)
	if err != nil || len(tags) != 1 || tags[0].Name != "polled" || len(tags[0].Blobs) != 3 {
		t.Errorf("PollTagMetadata = %+v, %v", tags, err)
	}

	targets, err := c.PollTargetMetadata(ctx, "", 0)
	if err != nil {
		t.Fatalf("PollTargetMetadata: %v", err)
	}
	names := make(map[string]target.Info)
	for _, info := range targets {
		names[info.Name] = info
	}
	if _, ok := names["fast"]; !ok || len(names) != 2 {
		t.Errorf("PollTargetMetadata = %+v, want fast and slow", targets)
	}

	entries, next, err := c.PollAccessPattern(ctx, 0)
	if err != nil {
		t.Fatalf("PollAccessPattern: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("PollAccessPattern returned %d entries, want 3 writes and 1 read", len(entries))
	}
	if entries[3].Type != engine.IoRead {
		t.Errorf("last access type = %v, want read", entries[3].Type)
	}
	again, _, err := c.PollAccessPattern(ctx, next)
	if err != nil || len(again) != 0 {
		t.Errorf("PollAccessPattern(next) = %d entries, %v, want none", len(again), err)
	}
}

func TestServerStagingFlush(t *testing.T) {
	server := startServer(t, testConfig(t))
	ctx := t.Context()
	c := server.client

	directory := filepath.Join(t.TempDir(), "chunks")
	params, err := stager.BuildFileParams(stager.KindChunkDir, 4096, 0, 1)
	if err != nil {
		t.Fatalf("BuildFileParams: %v", err)
	}
	bucket, err := c.OpenBucket(ctx, directory, client.TagOptions{StagingParams: params})
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	page := pattern(4096, 3)
	if _, err := bucket.Put(ctx, "0", page); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := bucket.Put(ctx, "1", page[:100]); err != nil {
		t.Fatalf("Put: %v", err)
	}

	flushed, err := c.FlushAll(ctx)
	if err != nil || flushed != 2 {
		t.Fatalf("FlushAll = %d, %v, want 2", flushed, err)
	}
	for _, name := range []string{"0.chunk", "1.chunk"} {
		if _, err := os.Stat(filepath.Join(directory, name)); err != nil {
			t.Errorf("page %s not staged out: %v", name, err)
		}
	}
	// Clean blobs are not flushed again.
	if flushed, err := bucket.Flush(ctx); err != nil || flushed != 0 {
		t.Errorf("second Flush = %d, %v, want 0", flushed, err)
	}

	// A second tag over the same directory stages the page back in.
	if err := bucket.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	reopened, err := c.OpenBucket(ctx, directory, client.TagOptions{StagingParams: params})
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	if _, err := c.StageIn(ctx, reopened.ID(), "0"); err != nil {
		t.Fatalf("StageIn: %v", err)
	}
	got, err := reopened.Get(ctx, "0")
	if err != nil {
		t.Fatalf("Get staged page: %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Error("staged-in page differs from what was flushed")
	}
}

func TestServerDrainsOnShutdown(t *testing.T) {
	server := startServer(t, testConfig(t))
	ctx := t.Context()

	backing := filepath.Join(t.TempDir(), "backing.bin")
	params, err := stager.BuildFileParams(stager.KindFile, 1024, 0, 1)
	if err != nil {
		t.Fatalf("BuildFileParams: %v", err)
	}
	bucket, err := server.client.OpenBucket(ctx, backing, client.TagOptions{StagingParams: params})
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	if _, err := bucket.Put(ctx, "0", bytes.Repeat([]byte{'a'}, 1024)); err != nil {
		t.Fatalf("Put page 0: %v", err)
	}
	if _, err := bucket.Put(ctx, "2", bytes.Repeat([]byte{'c'}, 1024)); err != nil {
		t.Fatalf("Put page 2: %v", err)
	}

	if err := server.stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	contents, err := os.ReadFile(backing)
	if err != nil {
		t.Fatalf("reading backing file: %v", err)
	}
	if len(contents) != 3072 {
		t.Fatalf("backing file is %d bytes, want 3072", len(contents))
	}
	if !bytes.Equal(contents[:1024], bytes.Repeat([]byte{'a'}, 1024)) ||
		!bytes.Equal(contents[2048:], bytes.Repeat([]byte{'c'}, 1024)) {
		t.Error("backing file does not hold the drained pages")
	}
	if _, err := os.Stat(server.config.SocketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after shutdown (stat err = %v)", err)
	}
}

func TestServerInspection(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTPAddress = "127.0.0.1:0"
	server := startServer(t, cfg)
	testutil.RequireClosed(t, server.HTTP().Ready(), 5*time.Second, "inspection server ready")

	bucket, err := server.client.OpenBucket(t.Context(), "inspected", client.TagOptions{})
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	if _, err := bucket.Put(t.Context(), "a", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	base := "http://" + server.HTTP().Addr().String()
	get := func(path string) []byte {
		t.Helper()
		response, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer response.Body.Close()
		if response.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, response.StatusCode)
		}
		body, err := io.ReadAll(response.Body)
		if err != nil {
			t.Fatalf("reading %s: %v", path, err)
		}
		return body
	}

	var tags []engine.TagInfo
	if err := json.Unmarshal(get("/v1/tags"), &tags); err != nil {
		t.Fatalf("decoding tags: %v", err)
	}
	if len(tags) != 1 || tags[0].Name != "inspected" {
		t.Errorf("tags = %+v", tags)
	}
	if metrics := string(get("/metrics")); !strings.Contains(metrics, "tierbuf_engine_operations_total") {
		t.Error("/metrics is missing the engine counters")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TIERBUF_ROOT", "/srv/tierbuf")

	t.Run("default", func(t *testing.T) {
		t.Setenv("TIERBUF_CONFIG", "")
		cfg, err := loadConfig("")
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.SocketPath != "/srv/tierbuf/tierbuf.sock" {
			t.Errorf("socket path = %q, want the expanded default", cfg.SocketPath)
		}
	})

	valid := filepath.Join(t.TempDir(), "valid.yaml")
	if err := os.WriteFile(valid, []byte(`
lanes: 2
socket_path: ${TIERBUF_ROOT}/custom.sock
devices:
  - name: ram
    kind: ram
    capacity: 1MiB
    block_size: 4KiB
    slab_sizes: [4KiB]
`), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("flag", func(t *testing.T) {
		cfg, err := loadConfig(valid)
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.Lanes != 2 || cfg.SocketPath != "/srv/tierbuf/custom.sock" {
			t.Errorf("config = lanes %d socket %q", cfg.Lanes, cfg.SocketPath)
		}
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("TIERBUF_CONFIG", valid)
		cfg, err := loadConfig("")
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if len(cfg.Devices) != 1 {
			t.Errorf("devices = %d, want 1", len(cfg.Devices))
		}
	})

	t.Run("invalid", func(t *testing.T) {
		invalid := filepath.Join(t.TempDir(), "invalid.yaml")
		if err := os.WriteFile(invalid, []byte("lanes: 0\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := loadConfig(invalid)
		if err == nil || !strings.Contains(err.Error(), "lanes must be positive") {
			t.Errorf("loadConfig(invalid) = %v, want a lanes error", err)
		}
	})
}

func TestParseSizeMode(t *testing.T) {
	tests := []struct {
		text    string
		want    engine.SizeMode
		wantErr bool
	}{
		{"", engine.SizeAdd, false},
		{"add", engine.SizeAdd, false},
		{"cap", engine.SizeCap, false},
		{"replace", 0, true},
	}
	for _, test := range tests {
		got, err := parseSizeMode(test.text)
		if (err != nil) != test.wantErr {
			t.Errorf("parseSizeMode(%q) error = %v, wantErr %v", test.text, err, test.wantErr)
			continue
		}
		if got != test.want {
			t.Errorf("parseSizeMode(%q) = %v, want %v", test.text, got, test.want)
		}
	}
}
