// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2).
var encMode cbor.EncMode

// decMode accepts standard CBOR. Unknown map fields are ignored so that
// older daemons can read records written by newer ones.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Tether never uses non-string map keys. Without this, any-typed
		// targets decode as map[interface{}]interface{}.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Frames are bounded by the transport, but a nested array
		// bomb inside one frame should still fail fast.
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Trailing bytes after the first
// data item are an error.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value, used to delay decoding.
type RawMessage = cbor.RawMessage

// ErrNotArray is returned by ArrayHead when data is not a non-empty
// CBOR array.
var ErrNotArray = errors.New("not a non-empty CBOR array")

// ArrayHead decodes only the first element of a CBOR array and returns
// it as an unsigned integer. The remaining elements are validated as
// well-formed CBOR but not decoded into Go values.
//
// Returns ErrNotArray (wrapped) when data is not an array or the array
// is empty, and a decoding error when the first element is not an
// unsigned integer.
func ArrayHead(data []byte) (uint64, error) {
	var elements []RawMessage
	if err := decMode.Unmarshal(data, &elements); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotArray, err)
	}
	if len(elements) == 0 {
		return 0, ErrNotArray
	}

	var head uint64
	if err := decMode.Unmarshal(elements[0], &head); err != nil {
		return 0, fmt.Errorf("first array element is not an unsigned integer: %w", err)
	}
	return head, nil
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for data.
// Daemons use it to log undecodable frames at debug level.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
