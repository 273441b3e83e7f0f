// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides tether's standard CBOR encoding configuration.
//
// CBOR is the only serialization format on tether's internal surfaces:
// the daemon wire protocol (loopback and tunneled), and the on-disk
// daemon records under each workspace registry directory. CLI output is
// plain text.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// same logical value always produces identical bytes, which keeps
// record files diffable and lets tests compare encodings directly.
//
// Wire messages are CBOR arrays rather than maps: each message struct
// carries the `cbor:",toarray"` option and its first field is the
// message discriminant. [ArrayHead] lets a receiver inspect that first
// element without decoding the rest of the record.
//
// For buffer-oriented operations (frames, record files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// Wire types use positional arrays, so field order is the contract and
// reordering fields is a protocol break. On-disk record types use `cbor`
// map tags so fields can be added without breaking older readers.
package codec
