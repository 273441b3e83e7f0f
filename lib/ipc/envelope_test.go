// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"reflect"
	"testing"

	"github.com/bureau-foundation/tether/lib/codec"
)

// sampleMessages holds one populated value of every wire type.
func sampleMessages() []Message {
	return []Message{
		&InitRequest{Version: ProtocolVersion, Workspace: "/srv/proj"},
		&InitResponse{Version: ProtocolVersion, Role: RoleServerDaemon, Workspace: "/srv/proj", IndexHash: 0xdeadbeefcafe},
		&IndexRequest{PrevHash: 42, IndexPath: "src"},
		&IndexResponse{Hash: 43, IndexFile: "/r/000000000000002b.index", Changed: true, FileCount: 7},
		&LsRequest{LsPath: "src/lib", PrevHash: 9},
		&LsResponse{Hash: 10, Entries: []string{"a.go", "b/"}, Changed: true},
		&ShellRequest{Directory: "/srv/proj", Args: []string{"echo", "hi"}, Remote: true},
		&ShellResponse{Status: 3, Stdout: []byte("hi\n"), Stderr: []byte("warn\n")},
		&ExitRequest{},
		&ExitResponse{Status: 0},
		&ErrorResponse{Message: "tunnel unavailable"},
		&PayloadRequest{Command: TypeExitRequest, Body: []byte{0x81, 0x09}},
		&PayloadResponse{Command: TypeExitResponse, Body: []byte{0x82, 0x0a, 0x00}},
		&GetFileRequest{FilePath: "src/main.go", PrevHash: 11},
		&GetFileResponse{FilePath: "src/main.go", Hash: 12, Contents: []byte("package main\n"), Changed: true, Mode: 0o644},
	}
}

func TestEncodeDecodeEveryType(t *testing.T) {
	messages := sampleMessages()
	if len(messages) != len(typeNames) {
		t.Fatalf("sample covers %d types, table has %d", len(messages), len(typeNames))
	}

	for _, original := range messages {
		t.Run(original.MessageType().String(), func(t *testing.T) {
			raw, err := Encode(original)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			envelope, err := DecodeEnvelope(raw)
			if err != nil {
				t.Fatalf("DecodeEnvelope: %v", err)
			}
			if envelope.Type != original.MessageType() {
				t.Errorf("envelope type = %v, want %v", envelope.Type, original.MessageType())
			}

			decoded, err := envelope.Message()
			if err != nil {
				t.Fatalf("Message: %v", err)
			}
			if *decoded.tag() != original.MessageType() {
				t.Errorf("embedded tag = %v, want %v", *decoded.tag(), original.MessageType())
			}
			if !reflect.DeepEqual(decoded, original) {
				t.Errorf("roundtrip mismatch:\n got  %+v\n want %+v", decoded, original)
			}
		})
	}
}

func TestEncodeStampsDiscriminant(t *testing.T) {
	request := &ShellRequest{Type: TypeExitRequest, Args: []string{"true"}}
	raw, err := Encode(request)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if request.Type != TypeShellRequest {
		t.Errorf("Type after Encode = %v, want ShellRequest", request.Type)
	}
	head, err := codec.ArrayHead(raw)
	if err != nil {
		t.Fatalf("ArrayHead: %v", err)
	}
	if MessageType(head) != TypeShellRequest {
		t.Errorf("encoded head = %d, want %d", head, TypeShellRequest)
	}
}

func TestDecodeEnvelopeUnknownDiscriminant(t *testing.T) {
	for _, tag := range []uint64{0, 16, 999, 1 << 40} {
		raw, err := codec.Marshal([]any{tag, "payload"})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		_, err = DecodeEnvelope(raw)
		if !errors.Is(err, ErrUnsupportedMessageType) {
			t.Errorf("tag %d: error = %v, want ErrUnsupportedMessageType", tag, err)
		}
	}
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	mapRecord, _ := codec.Marshal(map[string]int{"type": 7})
	textHead, _ := codec.Marshal([]any{"shell"})
	negativeHead, _ := codec.Marshal([]any{-7})
	emptyArray, _ := codec.Marshal([]any{})

	tests := []struct {
		name string
		raw  []byte
	}{
		{"nil", nil},
		{"garbage", []byte("GET / HTTP/1.1\r\n")},
		{"map", mapRecord},
		{"text head", textHead},
		{"negative head", negativeHead},
		{"empty array", emptyArray},
		{"truncated", []byte{0x83, 0x07}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := DecodeEnvelope(test.raw)
			if !errors.Is(err, ErrMalformedEnvelope) {
				t.Errorf("error = %v, want ErrMalformedEnvelope", err)
			}
			if !IsProtocolError(err) {
				t.Errorf("IsProtocolError(%v) = false", err)
			}
		})
	}
}

func TestDecodeWrongType(t *testing.T) {
	raw, err := Encode(&ShellRequest{Args: []string{"ls"}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	envelope, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}

	var index IndexRequest
	if err := envelope.Decode(&index); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("error = %v, want ErrTypeMismatch", err)
	}
}

func TestDecodeEmbeddedTagMismatch(t *testing.T) {
	// A record shaped like a ShellRequest but carrying the IndexRequest
	// discriminant, presented under a ShellRequest envelope.
	raw, err := codec.Marshal([]any{uint64(TypeIndexRequest), "/srv", []string{"rm", "-rf"}, false})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	envelope := Envelope{Type: TypeShellRequest, Raw: raw}

	var shell ShellRequest
	if err := envelope.Decode(&shell); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("error = %v, want ErrTypeMismatch", err)
	}
}

func TestDecodeShapeMismatchIsMalformed(t *testing.T) {
	raw, err := codec.Marshal([]any{uint64(TypeShellRequest), 17})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	envelope, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	var shell ShellRequest
	if err := envelope.Decode(&shell); !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("error = %v, want ErrMalformedEnvelope", err)
	}
}

func TestPayloadWrapUnwrap(t *testing.T) {
	payload, err := WrapRequest(&ShellRequest{Directory: "/srv", Args: []string{"echo", "hi"}})
	if err != nil {
		t.Fatalf("WrapRequest: %v", err)
	}
	if payload.Command != TypeShellRequest {
		t.Fatalf("Command = %v, want ShellRequest", payload.Command)
	}

	inner, err := Unwrap(payload.Command, payload.Body)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	var shell ShellRequest
	if err := inner.Decode(&shell); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(shell.Args, []string{"echo", "hi"}) {
		t.Errorf("Args = %v", shell.Args)
	}

	if _, err := Unwrap(TypeExitRequest, payload.Body); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Unwrap with wrong command: error = %v, want ErrTypeMismatch", err)
	}
	if _, err := Unwrap(TypeExitRequest, []byte{0xff}); !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("Unwrap of garbage: error = %v, want ErrMalformedEnvelope", err)
	}
}

func TestMessageTypeString(t *testing.T) {
	if got := TypeLsResponse.String(); got != "LsResponse" {
		t.Errorf("String() = %q", got)
	}
	if got := MessageType(77).String(); got != "MessageType(77)" {
		t.Errorf("String() of unknown = %q", got)
	}
	if _, err := New(77); !errors.Is(err, ErrUnsupportedMessageType) {
		t.Errorf("New(77) error = %v", err)
	}
}
