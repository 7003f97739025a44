// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/tierbuf/lib/bdev"
	"github.com/bureau-foundation/tierbuf/lib/buffer"
	"github.com/bureau-foundation/tierbuf/lib/clock"
	"github.com/bureau-foundation/tierbuf/lib/config"
	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/placement"
	"github.com/bureau-foundation/tierbuf/lib/target"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// tier describes one RAM target of a test engine.
type tier struct {
	name      string
	capacity  uint64
	bandwidth uint64
}

type testEngine struct {
	*Engine
	clock    *clock.FakeClock
	registry *target.Registry
	gatherer *prometheus.Registry
}

func newTestEngine(t *testing.T, tiers ...tier) *testEngine {
	t.Helper()
	if len(tiers) == 0 {
		tiers = []tier{
			{"fast", 256 << 10, 1000},
			{"slow", 8 << 20, 10},
		}
	}
	var devices []target.Device
	for _, tr := range tiers {
		device, err := bdev.Open(config.DeviceConfig{
			Name:      tr.name,
			Kind:      config.RAM,
			Capacity:  config.Size(tr.capacity),
			BlockSize: 4096,
			SlabSizes: []config.Size{4096, 64 << 10},
			Bandwidth: config.Bandwidth(tr.bandwidth),
			Latency:   config.Duration(time.Microsecond),
		})
		if err != nil {
			t.Fatalf("bdev.Open(%s): %v", tr.name, err)
		}
		devices = append(devices, device)
	}

	fake := clock.Fake(epoch)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	allocator := ident.NewAllocator(7)
	registry, err := target.NewRegistry(target.RegistryConfig{
		Devices:   devices,
		Allocator: allocator,
		Clock:     fake,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	metrics := prometheus.NewRegistry()
	e, err := New(Config{
		Lanes:         4,
		Targets:       registry,
		Placement:     placement.NewEngine(registry.Fallback().ID(), 1),
		Allocator:     allocator,
		Clock:         fake,
		Logger:        logger,
		Registerer:    metrics,
		DefaultPolicy: placement.MinimizeIoTime,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return &testEngine{Engine: e, clock: fake, registry: registry, gatherer: metrics}
}

func (e *testEngine) freeBytes() []uint64 {
	var free []uint64
	for _, tgt := range e.registry.Targets() {
		free = append(free, tgt.FreeBytes())
	}
	return free
}

func mustTag(t *testing.T, e *testEngine, name string, opts TagOptions) ident.TagID {
	t.Helper()
	id, err := e.GetOrCreateTag(name, opts)
	if err != nil {
		t.Fatalf("GetOrCreateTag(%q): %v", name, err)
	}
	return id
}

func mustPut(t *testing.T, e *testEngine, tag ident.TagID, name string, offset uint64, data []byte) PutResult {
	t.Helper()
	result, err := e.PutBlob(PutRequest{Blob: BlobRef{Tag: tag, Name: name}, Offset: offset, Data: data})
	if err != nil {
		t.Fatalf("PutBlob(%s, off=%d, len=%d): %v", name, offset, len(data), err)
	}
	return result
}

func mustGet(t *testing.T, e *testEngine, tag ident.TagID, name string, offset, size uint64) []byte {
	t.Helper()
	result, err := e.GetBlob(GetRequest{Blob: BlobRef{Tag: tag, Name: name}, Offset: offset, Size: size})
	if err != nil {
		t.Fatalf("GetBlob(%s, off=%d, size=%d): %v", name, offset, size, err)
	}
	return result.Data
}

func pattern(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = seed + byte(i%251)
	}
	return data
}

func TestPutGetDestroy(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "hello", TagOptions{})

	original := bytes.Repeat([]byte{0xAB}, 4096)
	result := mustPut(t, e, tag, "0", 0, original)
	if !result.Created || result.Written != 4096 {
		t.Errorf("PutBlob result = %+v, want created with 4096 bytes written", result)
	}

	size, err := e.GetBlobSize(BlobRef{Tag: tag, Name: "0"})
	if err != nil || size != 4096 {
		t.Fatalf("GetBlobSize = %d, %v, want 4096", size, err)
	}
	if got := mustGet(t, e, tag, "0", 0, 0); !bytes.Equal(got, original) {
		t.Fatal("GetBlob returned different bytes")
	}

	if err := e.DestroyBlob(BlobRef{Tag: tag, Name: "0"}, false); err != nil {
		t.Fatalf("DestroyBlob: %v", err)
	}
	if e.ContainsBlob(tag, "0") {
		t.Error("ContainsBlob after DestroyBlob = true")
	}
	if _, err := e.GetBlobSize(BlobRef{Tag: tag, Name: "0"}); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("GetBlobSize after destroy = %v, want ErrBlobNotFound", err)
	}
}

func TestPartialPutGet(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "partial", TagOptions{})

	mustPut(t, e, tag, "blob", 0, bytes.Repeat([]byte{0x11}, 4096))
	mustPut(t, e, tag, "blob", 4096, bytes.Repeat([]byte{0x22}, 4096))

	if got := mustGet(t, e, tag, "blob", 0, 4096); !bytes.Equal(got, bytes.Repeat([]byte{0x11}, 4096)) {
		t.Error("first half changed")
	}
	if got := mustGet(t, e, tag, "blob", 4096, 4096); !bytes.Equal(got, bytes.Repeat([]byte{0x22}, 4096)) {
		t.Error("second half changed")
	}
	if got := mustGet(t, e, tag, "blob", 4090, 12); !bytes.Equal(got, append(bytes.Repeat([]byte{0x11}, 6), bytes.Repeat([]byte{0x22}, 6)...)) {
		t.Errorf("read across the boundary = %x", got)
	}
	if got := mustGet(t, e, tag, "blob", 8192, 100); len(got) != 0 {
		t.Errorf("read past the end returned %d bytes", len(got))
	}
	if got := mustGet(t, e, tag, "blob", 8000, 1000); len(got) != 192 {
		t.Errorf("read over the end returned %d bytes, want 192", len(got))
	}
}

func TestRoundTripSizes(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "sizes", TagOptions{})

	tests := []struct {
		size   int
		offset uint64
	}{
		{1, 0},
		{4095, 0},
		{4097, 0},
		{3*4096 + 17, 0},
		{10000, 5000},
		{1 << 20, 0},
		{3 << 20, 100},
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("%d@%d", test.size, test.offset), func(t *testing.T) {
			name := fmt.Sprintf("blob-%d", i)
			data := pattern(test.size, byte(i))
			mustPut(t, e, tag, name, test.offset, data)
			got := mustGet(t, e, tag, name, test.offset, uint64(test.size))
			if !bytes.Equal(got, data) {
				t.Fatalf("round trip of %d bytes at %d differs", test.size, test.offset)
			}

			id, _ := e.GetBlobID(tag, name)
			buffers, err := e.GetBlobBuffers(id)
			if err != nil {
				t.Fatal(err)
			}
			if buffer.Sum(buffers) < test.offset+uint64(test.size) {
				t.Errorf("buffers cover %d bytes, blob ends at %d", buffer.Sum(buffers), test.offset+uint64(test.size))
			}
		})
	}
}

func TestBuffersStayContiguous(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "grow", TagOptions{})

	writes := []struct {
		offset uint64
		size   int
	}{
		{0, 100},
		{100, 5000},
		{20000, 10},
		{7000, 70000},
		{0, 10},
	}
	expected := make([]byte, 0)
	for i, w := range writes {
		data := pattern(w.size, byte(i*31))
		mustPut(t, e, tag, "g", w.offset, data)
		end := int(w.offset) + w.size
		if end > len(expected) {
			expected = append(expected, make([]byte, end-len(expected))...)
		}
		copy(expected[w.offset:], data)

		info, err := e.Blob(BlobRef{Tag: tag, Name: "g"})
		if err != nil {
			t.Fatal(err)
		}
		if info.MaxSize < info.Size {
			t.Fatalf("after write %d: buffers cover %d bytes of a %d-byte blob", i, info.MaxSize, info.Size)
		}
		if info.Size != uint64(len(expected)) {
			t.Fatalf("after write %d: size %d, want %d", i, info.Size, len(expected))
		}
	}

	// [5100, 7000) was never written and holds whatever the device had.
	got := mustGet(t, e, tag, "g", 0, 0)
	for _, r := range [][2]int{{0, 5100}, {7000, 77000}} {
		if !bytes.Equal(got[r[0]:r[1]], expected[r[0]:r[1]]) {
			t.Errorf("bytes [%d, %d) differ from the writes", r[0], r[1])
		}
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	first := mustTag(t, e, "bucket", TagOptions{})
	second := mustTag(t, e, "bucket", TagOptions{Owner: true})
	if first != second {
		t.Fatalf("GetOrCreateTag returned %v then %v", first, second)
	}
	if id, err := e.GetTagID("bucket"); err != nil || id != first {
		t.Errorf("GetTagID = %v, %v", id, err)
	}
	if name, err := e.GetTagName(first); err != nil || name != "bucket" {
		t.Errorf("GetTagName = %q, %v", name, err)
	}

	a, err := e.GetOrCreateBlobID(first, "x")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.GetOrCreateBlobID(first, "x")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("GetOrCreateBlobID returned %v then %v", a, b)
	}
	if a.Hash != ident.HashBlobName(first, "x") {
		t.Errorf("blob id hash %d does not route by name", a.Hash)
	}
	blobs, _ := e.TagGetContainedBlobIDs(first)
	if len(blobs) != 1 {
		t.Errorf("tag lists %d blobs, want 1", len(blobs))
	}
	tags, count := e.Counts()
	if tags != 1 || count != 1 {
		t.Errorf("Counts() = %d tags, %d blobs, want 1, 1", tags, count)
	}

	// A second name in another tag is a distinct blob.
	other := mustTag(t, e, "other", TagOptions{})
	c, _ := e.GetOrCreateBlobID(other, "x")
	if c == a {
		t.Error("same blob name in two tags produced one id")
	}
}

func TestCascadeDestroyFreesEverything(t *testing.T) {
	e := newTestEngine(t)
	before := e.freeBytes()

	tag := mustTag(t, e, "owned", TagOptions{Owner: true})
	for i := range 10 {
		mustPut(t, e, tag, fmt.Sprintf("b%d", i), 0, pattern(20000+i*4096, byte(i)))
	}
	if _, blobs := e.Counts(); blobs != 10 {
		t.Fatalf("Counts() blobs = %d, want 10", blobs)
	}

	if err := e.DestroyTag(tag); err != nil {
		t.Fatalf("DestroyTag: %v", err)
	}
	e.Quiesce()

	tags, blobs := e.Counts()
	if tags != 0 || blobs != 0 {
		t.Errorf("Counts() after cascade = %d tags, %d blobs", tags, blobs)
	}
	for i, free := range e.freeBytes() {
		if free != before[i] {
			t.Errorf("target %d free bytes = %d, want %d", i, free, before[i])
		}
	}
	if _, err := e.GetTagID("owned"); !errors.Is(err, ErrTagNotFound) {
		t.Errorf("GetTagID after destroy = %v, want ErrTagNotFound", err)
	}
}

func TestDestroyNonOwningTagKeepsBlobs(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "view", TagOptions{})
	result := mustPut(t, e, tag, "kept", 0, []byte("data"))

	if err := e.DestroyTag(tag); err != nil {
		t.Fatal(err)
	}
	if name, err := e.GetBlobName(result.ID); err != nil || name != "kept" {
		t.Errorf("GetBlobName after non-owning destroy = %q, %v", name, err)
	}
}

func TestTagClearBlobs(t *testing.T) {
	e := newTestEngine(t)
	before := e.freeBytes()
	tag := mustTag(t, e, "clear", TagOptions{Owner: true})
	mustPut(t, e, tag, "a", 0, pattern(5000, 1))
	mustPut(t, e, tag, "b", 0, pattern(5000, 2))
	e.Quiesce()

	if err := e.TagClearBlobs(tag); err != nil {
		t.Fatal(err)
	}
	info, err := e.Tag(tag)
	if err != nil {
		t.Fatalf("tag gone after clear: %v", err)
	}
	if len(info.Blobs) != 0 || info.Size != 0 {
		t.Errorf("tag after clear = %+v", info)
	}
	if e.ContainsBlob(tag, "a") || e.ContainsBlob(tag, "b") {
		t.Error("blobs survived clearing an owning tag")
	}
	for i, free := range e.freeBytes() {
		if free != before[i] {
			t.Errorf("target %d free bytes = %d, want %d", i, free, before[i])
		}
	}
}

func TestTagSizeAccounting(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "sized", TagOptions{BackendSize: 10})

	mustPut(t, e, tag, "a", 0, pattern(4096, 0))
	mustPut(t, e, tag, "a", 0, pattern(100, 0))
	mustPut(t, e, tag, "a", 8192, pattern(100, 0))
	e.Quiesce()
	if size, _ := e.TagGetSize(tag); size != 10+8292 {
		t.Errorf("TagGetSize = %d, want %d", size, 10+8292)
	}

	if err := e.DestroyBlob(BlobRef{Tag: tag, Name: "a"}, false); err != nil {
		t.Fatal(err)
	}
	if size, _ := e.TagGetSize(tag); size != 10 {
		t.Errorf("TagGetSize after destroy = %d, want 10", size)
	}
}

func TestTagUpdateSizeModes(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "modes", TagOptions{})

	steps := []struct {
		value int64
		mode  SizeMode
		want  uint64
	}{
		{100, SizeAdd, 100},
		{-30, SizeAdd, 70},
		{-500, SizeAdd, 0},
		{400, SizeCap, 400},
		{200, SizeCap, 400},
		{-1, SizeCap, 400},
		{5, SizeAdd, 405},
	}
	for i, step := range steps {
		got, err := e.TagUpdateSize(tag, step.value, step.mode)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != step.want {
			t.Errorf("step %d: TagUpdateSize(%d, %v) = %d, want %d", i, step.value, step.mode, got, step.want)
		}
	}
}

func TestNotFound(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "present", TagOptions{})
	missingTag := ident.TagID{ID: ident.ID{Node: 7, Hash: 1, Unique: 999}}
	missingBlob := ident.BlobID{ID: ident.ID{Node: 7, Hash: 1, Unique: 999}}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"GetTagID", second(e.GetTagID("absent")), ErrTagNotFound},
		{"GetTagName", second(e.GetTagName(missingTag)), ErrTagNotFound},
		{"DestroyTag", e.DestroyTag(missingTag), ErrTagNotFound},
		{"TagAddBlob", e.TagAddBlob(missingTag, missingBlob), ErrTagNotFound},
		{"PutBlob unknown tag", second(e.PutBlob(PutRequest{Blob: BlobRef{Tag: missingTag, Name: "x"}, Data: []byte{1}})), ErrTagNotFound},
		{"PutBlob unknown id", second(e.PutBlob(PutRequest{Blob: BlobRef{ID: missingBlob}, Data: []byte{1}})), ErrBlobNotFound},
		{"GetBlob", second(e.GetBlob(GetRequest{Blob: BlobRef{Tag: tag, Name: "x"}})), ErrBlobNotFound},
		{"GetBlobID", second(e.GetBlobID(tag, "x")), ErrBlobNotFound},
		{"DestroyBlob", e.DestroyBlob(BlobRef{ID: missingBlob}, false), ErrBlobNotFound},
		{"ReorganizeBlob", e.ReorganizeBlob(BlobRef{ID: missingBlob}, 0.5), ErrBlobNotFound},
		{"FlushBlob", second(e.FlushBlob(missingBlob)), ErrBlobNotFound},
		{"UnregisterStager", e.UnregisterStager(tag), ErrStagerNotFound},
		{"StageIn", second(e.StageIn(tag, "0")), ErrStagerNotFound},
	}
	for _, test := range tests {
		if !errors.Is(test.err, test.want) {
			t.Errorf("%s: error = %v, want %v", test.name, test.err, test.want)
		}
	}
}

func second[T any](_ T, err error) error { return err }

func TestOutOfSpaceLeavesBlobUnchanged(t *testing.T) {
	for _, policy := range []placement.Policy{placement.MinimizeIoTime, placement.Random, placement.RoundRobin, placement.None} {
		t.Run(policy.String(), func(t *testing.T) {
			e := newTestEngine(t, tier{"small", 16 << 10, 1000}, tier{"tiny", 8 << 10, 10})
			tag := mustTag(t, e, "full", TagOptions{})
			mustPut(t, e, tag, "a", 0, pattern(4096, 1))
			before := e.freeBytes()

			_, err := e.PutBlob(PutRequest{
				Blob:   BlobRef{Tag: tag, Name: "a"},
				Offset: 4096,
				Data:   pattern(64<<10, 2),
				Policy: &policy,
			})
			if !errors.Is(err, ErrOutOfSpace) {
				t.Fatalf("oversized PutBlob error = %v, want ErrOutOfSpace", err)
			}
			if size, _ := e.GetBlobSize(BlobRef{Tag: tag, Name: "a"}); size != 4096 {
				t.Errorf("blob size after failed put = %d, want 4096", size)
			}
			for i, free := range e.freeBytes() {
				if free != before[i] {
					t.Errorf("target %d free bytes = %d after failed put, want %d", i, free, before[i])
				}
			}
			if got := mustGet(t, e, tag, "a", 0, 0); !bytes.Equal(got, pattern(4096, 1)) {
				t.Error("blob data changed by a failed put")
			}
		})
	}
}

func TestPutSpreadsWhenNoTargetFits(t *testing.T) {
	for _, policy := range []placement.Policy{placement.MinimizeIoTime, placement.Random, placement.RoundRobin} {
		t.Run(policy.String(), func(t *testing.T) {
			e := newTestEngine(t, tier{"small", 16 << 10, 1000}, tier{"tiny", 8 << 10, 10})
			tag := mustTag(t, e, "spread", TagOptions{})
			data := pattern(20<<10, 3)

			result, err := e.PutBlob(PutRequest{Blob: BlobRef{Tag: tag, Name: "wide"}, Data: data, Policy: &policy})
			if err != nil {
				t.Fatalf("PutBlob: %v", err)
			}
			if result.Written != uint64(len(data)) {
				t.Errorf("Written = %d, want %d", result.Written, len(data))
			}
			buffers, err := e.GetBlobBuffers(result.ID)
			if err != nil {
				t.Fatal(err)
			}
			if total := buffer.Sum(buffers); total < uint64(len(data)) {
				t.Errorf("buffers hold %d bytes, want at least %d", total, len(data))
			}
			if got := mustGet(t, e, tag, "wide", 0, 0); !bytes.Equal(got, data) {
				t.Error("spread blob did not round trip")
			}
		})
	}
}

func TestPutRejectsOverflowingOffset(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "edge", TagOptions{})

	_, err := e.PutBlob(PutRequest{Blob: BlobRef{Tag: tag, Name: "far"}, Offset: math.MaxUint64 - 10, Data: pattern(100, 1)})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("PutBlob near MaxUint64 error = %v, want ErrInvalidRange", err)
	}
	if e.ContainsBlob(tag, "far") {
		t.Error("rejected put created the blob")
	}
	if _, blobs := e.Counts(); blobs != 0 {
		t.Errorf("Counts() blobs = %d, want 0", blobs)
	}
}

func TestPutRacingDestroyTagLeavesNoOrphans(t *testing.T) {
	e := newTestEngine(t)
	before := e.freeBytes()

	for i := range 50 {
		tag := mustTag(t, e, fmt.Sprintf("race%d", i), TagOptions{Owner: true})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.PutBlob(PutRequest{Blob: BlobRef{Tag: tag, Name: "b"}, Data: pattern(8192, byte(i))})
			if err != nil && !errors.Is(err, ErrTagNotFound) && !errors.Is(err, ErrBlobNotFound) {
				t.Errorf("round %d: PutBlob: %v", i, err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := e.DestroyTag(tag); err != nil {
				t.Errorf("round %d: DestroyTag: %v", i, err)
			}
		}()
		wg.Wait()
	}
	e.Quiesce()

	if tags, blobs := e.Counts(); tags != 0 || blobs != 0 {
		t.Errorf("Counts() = %d tags, %d blobs, want none", tags, blobs)
	}
	for i, free := range e.freeBytes() {
		if free != before[i] {
			t.Errorf("target %d free bytes = %d, want %d", i, free, before[i])
		}
	}
}

func TestEmptyPutCreatesBlob(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "empty", TagOptions{})
	result := mustPut(t, e, tag, "nothing", 0, nil)
	if !result.Created || result.Written != 0 {
		t.Errorf("empty PutBlob = %+v", result)
	}
	if size, err := e.GetBlobSize(BlobRef{ID: result.ID}); err != nil || size != 0 {
		t.Errorf("GetBlobSize = %d, %v", size, err)
	}
}

func TestReorganizeBlobMovesTiers(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "reorg", TagOptions{})
	data := pattern(20000, 9)
	result := mustPut(t, e, tag, "r", 0, data)
	fast, slow := e.registry.Targets()[0], e.registry.Targets()[1]

	buffers, _ := e.GetBlobBuffers(result.ID)
	for _, buf := range buffers {
		if buf.Target != fast.ID() {
			t.Fatalf("hot blob placed on %v, want the fast tier", buf.Target)
		}
	}
	fastFree := fast.FreeBytes()

	if err := e.ReorganizeBlob(BlobRef{ID: result.ID}, 0.05); err != nil {
		t.Fatalf("ReorganizeBlob: %v", err)
	}
	buffers, _ = e.GetBlobBuffers(result.ID)
	for _, buf := range buffers {
		if buf.Target != slow.ID() {
			t.Errorf("cold blob buffer on %v, want the slow tier", buf.Target)
		}
	}
	if fast.FreeBytes() <= fastFree {
		t.Errorf("fast tier free bytes = %d, want more than %d after the move", fast.FreeBytes(), fastFree)
	}
	if score, _ := e.GetBlobScore(result.ID); score != 0.05 {
		t.Errorf("GetBlobScore = %v, want 0.05", score)
	}
	if got := mustGet(t, e, tag, "r", 0, 0); !bytes.Equal(got, data) {
		t.Error("data changed by reorganization")
	}
}

func TestReorganizerDemotesIdleBlobs(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "epochs", TagOptions{})
	idle := mustPut(t, e, tag, "idle", 0, pattern(8192, 1))
	score := 1.0
	pinned, err := e.PutBlob(PutRequest{Blob: BlobRef{Tag: tag, Name: "pinned"}, Data: pattern(8192, 2), Score: &score})
	if err != nil {
		t.Fatal(err)
	}

	// Freshly written with one access: recency 1, frequency 1/15.
	moved, err := e.Reorganize(context.Background())
	if err != nil || moved != 1 {
		t.Fatalf("first epoch moved %d, %v, want 1", moved, err)
	}
	want := (1 + 1.0/15) / 2
	if got, _ := e.GetBlobScore(idle.ID); math.Abs(got-want) > 1e-9 {
		t.Errorf("score after first epoch = %v, want %v", got, want)
	}
	slow := e.registry.Targets()[1].ID()
	buffers, _ := e.GetBlobBuffers(idle.ID)
	for _, buf := range buffers {
		if buf.Target != slow {
			t.Errorf("cooled blob buffer on %v, want the slow tier", buf.Target)
		}
	}

	e.clock.Advance(2 * time.Minute)
	moved, err = e.Reorganize(context.Background())
	if err != nil || moved != 1 {
		t.Fatalf("idle epoch moved %d, %v, want 1", moved, err)
	}
	if got, _ := e.GetBlobScore(idle.ID); got != 0 {
		t.Errorf("idle score = %v, want 0", got)
	}

	// Unchanged score: nothing moves.
	moved, err = e.Reorganize(context.Background())
	if err != nil || moved != 0 {
		t.Fatalf("steady epoch moved %d, %v, want 0", moved, err)
	}

	if got, _ := e.GetBlobScore(pinned.ID); got != 1 {
		t.Errorf("user-scored blob score = %v, want 1", got)
	}
}

func TestScore(t *testing.T) {
	e := newTestEngine(t)
	now := epoch.Add(time.Hour)
	tests := []struct {
		name     string
		age      time.Duration
		accesses uint64
		want     float64
	}{
		{"just accessed often", 0, 15, 1},
		{"just accessed, no count", 0, 0, 0.5},
		{"half aged", 30 * time.Second, 0, 0.25},
		{"expired", 2 * time.Minute, 0, 0},
		{"expired but busy", 2 * time.Minute, 30, 0.5},
	}
	for _, test := range tests {
		got := e.score(now.Add(-test.age), test.accesses, now)
		if got != test.want {
			t.Errorf("%s: score = %v, want %v", test.name, got, test.want)
		}
	}
	if got := e.score(time.Time{}, 0, now); got != 0 {
		t.Errorf("never accessed: score = %v, want 0", got)
	}
}

func TestTagBlobLabels(t *testing.T) {
	e := newTestEngine(t)
	home := mustTag(t, e, "home", TagOptions{})
	label := mustTag(t, e, "label", TagOptions{})
	result := mustPut(t, e, home, "b", 0, []byte("x"))

	if err := e.TagBlob(result.ID, label); err != nil {
		t.Fatal(err)
	}
	for _, tag := range []ident.TagID{home, label} {
		has, err := e.BlobHasTag(result.ID, tag)
		if err != nil || !has {
			t.Errorf("BlobHasTag(%v) = %v, %v", tag, has, err)
		}
	}
	labelled, _ := e.TagGetContainedBlobIDs(label)
	if len(labelled) != 1 || labelled[0] != result.ID {
		t.Errorf("label lists %v", labelled)
	}

	if err := e.DestroyBlob(BlobRef{ID: result.ID}, false); err != nil {
		t.Fatal(err)
	}
	for _, tag := range []ident.TagID{home, label} {
		if blobs, _ := e.TagGetContainedBlobIDs(tag); len(blobs) != 0 {
			t.Errorf("tag %v still lists %v", tag, blobs)
		}
	}
}

func TestDestroyBlobKeepInTag(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "keep", TagOptions{})
	result := mustPut(t, e, tag, "b", 0, []byte("x"))
	if err := e.DestroyBlob(BlobRef{ID: result.ID}, true); err != nil {
		t.Fatal(err)
	}
	blobs, _ := e.TagGetContainedBlobIDs(tag)
	if len(blobs) != 1 {
		t.Errorf("keep-in-tag destroy changed the tag list to %v", blobs)
	}
}

func TestConcurrentBlobs(t *testing.T) {
	e := newTestEngine(t)
	tag := mustTag(t, e, "parallel", TagOptions{})

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for worker := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("w%d", worker)
			for round := range 5 {
				data := pattern(6000+round*1000, byte(worker*7+round))
				if _, err := e.PutBlob(PutRequest{Blob: BlobRef{Tag: tag, Name: name}, Data: data}); err != nil {
					errs <- err
					return
				}
				result, err := e.GetBlob(GetRequest{Blob: BlobRef{Tag: tag, Name: name}, Size: uint64(len(data))})
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(result.Data, data) {
					errs <- fmt.Errorf("%s round %d: data mismatch", name, round)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if _, blobs := e.Counts(); blobs != 16 {
		t.Errorf("Counts() blobs = %d, want 16", blobs)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New with no collaborators should fail")
	}
}
