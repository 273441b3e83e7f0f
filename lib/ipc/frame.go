// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a single record on the wire. Full file
// indexes are written to disk and referenced by path, so 1 MiB leaves
// ample room for directory listings and shell output.
const DefaultMaxFrameSize = 1 << 20

// frameHeaderSize is the length prefix: a big-endian uint32.
const frameHeaderSize = 4

// WriteFrame writes raw preceded by its length.
func WriteFrame(w io.Writer, raw []byte) error {
	if uint64(len(raw)) > 0xFFFFFFFF {
		return fmt.Errorf("%w: %d byte record exceeds frame limit", ErrMalformedEnvelope, len(raw))
	}
	frame := make([]byte, frameHeaderSize+len(raw))
	binary.BigEndian.PutUint32(frame, uint32(len(raw)))
	copy(frame[frameHeaderSize:], raw)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed record. A length above maxSize is
// rejected with ErrMalformedEnvelope before the body is allocated. A
// stream that ends before any header byte returns io.EOF; one that ends
// mid-frame returns io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	if uint64(length) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit of %d", ErrMalformedEnvelope, length, maxSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading %d byte frame: %w", length, err)
	}
	return body, nil
}

// WriteMessage encodes msg and writes it as one frame.
func WriteMessage(w io.Writer, msg Message) error {
	raw, err := Encode(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, raw)
}

// ReadEnvelope reads one frame and peeks its discriminant.
func ReadEnvelope(r io.Reader, maxSize int) (Envelope, error) {
	raw, err := ReadFrame(r, maxSize)
	if err != nil {
		return Envelope{}, err
	}
	return DecodeEnvelope(raw)
}
