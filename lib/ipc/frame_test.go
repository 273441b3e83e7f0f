// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundtrip(t *testing.T) {
	var buffer bytes.Buffer
	if err := WriteMessage(&buffer, &ShellResponse{Status: 0, Stdout: []byte("hi\n")}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	envelope, err := ReadEnvelope(&buffer, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	var response ShellResponse
	if err := envelope.Decode(&response); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(response.Stdout) != "hi\n" {
		t.Errorf("Stdout = %q", response.Stdout)
	}

	if _, err := ReadFrame(&buffer, DefaultMaxFrameSize); !errors.Is(err, io.EOF) {
		t.Errorf("read past last frame: error = %v, want io.EOF", err)
	}
}

func TestFrameLargerThanOldBuffer(t *testing.T) {
	entries := make([]string, 500)
	for i := range entries {
		entries[i] = "pkg/some/deeply/nested/source_file.go"
	}

	var buffer bytes.Buffer
	if err := WriteMessage(&buffer, &LsResponse{Entries: entries, Changed: true}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if buffer.Len() < 4096 {
		t.Fatalf("frame is only %d bytes; test needs a large record", buffer.Len())
	}

	envelope, err := ReadEnvelope(&buffer, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	var response LsResponse
	if err := envelope.Decode(&response); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(response.Entries) != len(entries) {
		t.Errorf("got %d entries, want %d", len(response.Entries), len(entries))
	}
}

func TestReadFrameOversize(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 64)
	reader := bytes.NewReader(append(header[:], make([]byte, 64)...))

	_, err := ReadFrame(reader, 32)
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("error = %v, want ErrMalformedEnvelope", err)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"partial header", []byte{0x00, 0x00}},
		{"partial body", []byte{0x00, 0x00, 0x00, 0x08, 0x83, 0x07}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(test.data), DefaultMaxFrameSize)
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Errorf("error = %v, want io.ErrUnexpectedEOF", err)
			}
		})
	}
}
