// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines tether's wire protocol: the message types
// exchanged between the CLI, the client daemon, and the server daemon,
// their CBOR array encoding, the length-prefixed framing that carries
// them over TCP, and the registry that routes a decoded envelope to its
// handler.
//
// Every message encodes as a CBOR array whose first element is its
// [MessageType]. A receiver peeks that element with [DecodeEnvelope],
// looks up a handler in a [Registry], and only then decodes the full
// record into the concrete type. Decoding re-checks the discriminant
// embedded in the record against the type's own, so a record can never
// be interpreted as a different message kind.
//
// Discriminants are listed in types.go. They are stable: new kinds get
// new numbers, existing numbers are never reused. [ProtocolVersion] is
// exchanged in the Init handshake and bumps only on incompatible
// changes to an existing message's fields.
package ipc
