// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/tether/lib/codec"
)

// Protocol errors. They are local to one connection: the daemon logs
// them, drops the connection without a response, and keeps serving.
var (
	// ErrMalformedEnvelope: the bytes are not a CBOR array headed by an
	// unsigned integer, the record does not match its type's shape, or
	// a frame exceeds the size limit.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrUnsupportedMessageType: the discriminant is not in the table,
	// or this role has no handler for it.
	ErrUnsupportedMessageType = errors.New("unsupported message type")

	// ErrTypeMismatch: the discriminant embedded in a record differs
	// from the type it is being decoded as.
	ErrTypeMismatch = errors.New("message type mismatch")
)

// IsProtocolError reports whether err is one of the protocol errors
// above.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformedEnvelope) ||
		errors.Is(err, ErrUnsupportedMessageType) ||
		errors.Is(err, ErrTypeMismatch)
}

// Envelope is a received record whose discriminant has been read but
// whose body has not been decoded.
type Envelope struct {
	Type MessageType
	Raw  []byte
}

// Encode stamps msg's discriminant into its Type field and returns the
// CBOR array encoding.
func Encode(msg Message) ([]byte, error) {
	*msg.tag() = msg.MessageType()
	raw, err := codec.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %v: %w", msg.MessageType(), err)
	}
	return raw, nil
}

// DecodeEnvelope reads the discriminant of raw without decoding the
// rest of the record.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	head, err := codec.ArrayHead(raw)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	messageType := MessageType(head)
	if !messageType.Known() {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedMessageType, head)
	}
	return Envelope{Type: messageType, Raw: raw}, nil
}

// Decode unmarshals the envelope into msg, which must be the concrete
// type named by the envelope's discriminant. The discriminant inside
// the decoded record is checked against msg's type before returning.
func (e Envelope) Decode(msg Message) error {
	want := msg.MessageType()
	if e.Type != want {
		return fmt.Errorf("%w: envelope is %v, decoding as %v", ErrTypeMismatch, e.Type, want)
	}
	if err := codec.Unmarshal(e.Raw, msg); err != nil {
		return fmt.Errorf("%w: decoding %v: %v", ErrMalformedEnvelope, want, err)
	}
	if embedded := *msg.tag(); embedded != want {
		return fmt.Errorf("%w: record carries %v, decoding as %v", ErrTypeMismatch, embedded, want)
	}
	return nil
}

// Message decodes the envelope into a freshly allocated message of the
// envelope's own type.
func (e Envelope) Message() (Message, error) {
	msg, err := New(e.Type)
	if err != nil {
		return nil, err
	}
	if err := e.Decode(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// WrapRequest encodes msg as the body of a PayloadRequest.
func WrapRequest(msg Message) (*PayloadRequest, error) {
	body, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	return &PayloadRequest{Command: msg.MessageType(), Body: body}, nil
}

// WrapResponse encodes msg as the body of a PayloadResponse.
func WrapResponse(msg Message) (*PayloadResponse, error) {
	body, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	return &PayloadResponse{Command: msg.MessageType(), Body: body}, nil
}

// Unwrap returns the envelope carried in a payload body, checking that
// the body's discriminant matches the payload's declared command.
func Unwrap(command MessageType, body []byte) (Envelope, error) {
	inner, err := DecodeEnvelope(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("payload body: %w", err)
	}
	if inner.Type != command {
		return Envelope{}, fmt.Errorf("%w: payload declares %v, body is %v", ErrTypeMismatch, command, inner.Type)
	}
	return inner, nil
}
