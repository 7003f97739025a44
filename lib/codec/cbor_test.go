// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

type putRequest struct {
	Action string `cbor:"action"`
	Tag    string `cbor:"tag"`
	Offset uint64 `cbor:"offset"`
	Data   []byte `cbor:"data"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := putRequest{
		Action: "put-blob",
		Tag:    "1.2.3",
		Offset: 4096,
		Data:   bytes.Repeat([]byte{0xab}, 4096),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded putRequest
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Action != original.Action || decoded.Tag != original.Tag || decoded.Offset != original.Offset {
		t.Errorf("roundtrip mismatch: got %+v", decoded)
	}
	if !bytes.Equal(decoded.Data, original.Data) {
		t.Error("payload bytes changed in roundtrip")
	}
}

func TestMarshalDeterministic(t *testing.T) {
	// Map iteration order is random; deterministic encoding sorts keys.
	request := map[string]any{"action": "status", "max_count": 3, "filter": ".*"}
	first, err := Marshal(request)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(request)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestUntypedMapsDecodeWithStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"action": "poll-tags", "nested": map[string]any{"a": 1}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := top["nested"].(map[string]any); !ok {
		t.Errorf("nested type = %T, want map[string]any", top["nested"])
	}
}

type textID struct{ a, b uint32 }

func (id textID) MarshalText() ([]byte, error) {
	return fmt.Appendf(nil, "%d.%d", id.a, id.b), nil
}

func (id *textID) UnmarshalText(text []byte) error {
	_, err := fmt.Sscanf(string(text), "%d.%d", &id.a, &id.b)
	return err
}

func TestTextMarshalerEncodesAsString(t *testing.T) {
	data, err := Marshal(struct {
		ID textID `cbor:"id"`
	}{textID{7, 9}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diagnostic, `"7.9"`) {
		t.Errorf("diagnostic %s does not contain text identifier", diagnostic)
	}

	var decoded struct {
		ID textID `cbor:"id"`
	}
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID != (textID{7, 9}) {
		t.Errorf("decoded id = %+v, want {7 9}", decoded.ID)
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for i := range 3 {
		if err := encoder.Encode(putRequest{Action: "put-blob", Offset: uint64(i)}); err != nil {
			t.Fatalf("Encode %d: %v", i, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i := range 3 {
		var decoded putRequest
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if decoded.Offset != uint64(i) {
			t.Errorf("message %d offset = %d", i, decoded.Offset)
		}
	}
}
