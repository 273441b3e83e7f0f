// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// sampleRecord mirrors the shape of an on-disk record (map encoding).
type sampleRecord struct {
	Host string `cbor:"host"`
	Port int    `cbor:"port,omitempty"`
}

// sampleWire mirrors the shape of a wire message (array encoding with
// the discriminant first).
type sampleWire struct {
	_    struct{} `cbor:",toarray"`
	Kind uint64
	Path string
	Args []string
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleRecord{Host: "devbox", Port: 49200}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"workspace": "/srv/proj", "host": "devbox", "port": 1}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestToArrayEncodesDiscriminantFirst(t *testing.T) {
	data, err := Marshal(sampleWire{Kind: 7, Path: "/tmp", Args: []string{"echo", "hi"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// Three encoded fields: array header 0x83, then unsigned int 7.
	if data[0] != 0x83 {
		t.Fatalf("first byte = %#x, want array header 0x83", data[0])
	}
	if data[1] != 0x07 {
		t.Fatalf("second byte = %#x, want unsigned int 7", data[1])
	}

	head, err := ArrayHead(data)
	if err != nil {
		t.Fatalf("ArrayHead: %v", err)
	}
	if head != 7 {
		t.Errorf("ArrayHead = %d, want 7", head)
	}
}

func TestArrayHeadRejectsNonArrays(t *testing.T) {
	mapData, err := Marshal(sampleRecord{Host: "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	emptyArray, err := Marshal([]int{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	textHead, err := Marshal([]any{"shell", 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	negativeHead, err := Marshal([]any{-3, 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	tests := []struct {
		name         string
		data         []byte
		wantNotArray bool
	}{
		{"map", mapData, true},
		{"empty array", emptyArray, true},
		{"garbage", []byte{0xFF, 0xFE, 0xFD}, true},
		{"empty input", nil, true},
		{"text head", textHead, false},
		{"negative head", negativeHead, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ArrayHead(test.data)
			if err == nil {
				t.Fatal("ArrayHead should fail")
			}
			if got := errors.Is(err, ErrNotArray); got != test.wantNotArray {
				t.Errorf("errors.Is(err, ErrNotArray) = %v, want %v (err: %v)", got, test.wantNotArray, err)
			}
		})
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var record sampleRecord
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &record); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(sampleWire{Kind: 3, Path: "/srv/proj"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"/srv/proj"`) {
		t.Errorf("notation %q does not contain the path", notation)
	}
}
