// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bureau-foundation/tether/lib/codec"
)

type counterState struct {
	indexHash uint64
	calls     int
}

func handleIndex(ctx context.Context, request *IndexRequest, state *counterState) (Message, error) {
	state.calls++
	state.indexHash = request.PrevHash + 1
	return &IndexResponse{Hash: state.indexHash, Changed: true}, nil
}

func newTestRegistry() *Registry[*counterState] {
	registry := NewRegistry[*counterState](RoleClientDaemon)
	Route(registry, handleIndex)
	return registry
}

func mustEnvelope(t *testing.T, msg Message) Envelope {
	t.Helper()
	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	envelope, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	return envelope
}

func TestDispatchKnownType(t *testing.T) {
	registry := newTestRegistry()
	state := &counterState{}

	response, err := registry.Dispatch(context.Background(), mustEnvelope(t, &IndexRequest{PrevHash: 41}), state)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	index, ok := response.(*IndexResponse)
	if !ok {
		t.Fatalf("response is %T, want *IndexResponse", response)
	}
	if index.Hash != 42 || state.indexHash != 42 || state.calls != 1 {
		t.Errorf("hash = %d, state = %+v", index.Hash, state)
	}
}

func TestDispatchUnregisteredType(t *testing.T) {
	registry := newTestRegistry()
	state := &counterState{}

	_, err := registry.Dispatch(context.Background(), mustEnvelope(t, &ShellRequest{}), state)
	if !errors.Is(err, ErrUnsupportedMessageType) {
		t.Fatalf("error = %v, want ErrUnsupportedMessageType", err)
	}
	if state.calls != 0 {
		t.Errorf("state mutated by unsupported dispatch: %+v", state)
	}
}

func TestDispatchUnknownDiscriminantNeverPanics(t *testing.T) {
	registry := newTestRegistry()
	state := &counterState{}

	for _, tag := range []MessageType{0, 14, 255} {
		_, err := registry.Dispatch(context.Background(), Envelope{Type: tag, Raw: []byte{0x81, byte(tag)}}, state)
		if !errors.Is(err, ErrUnsupportedMessageType) {
			t.Errorf("tag %d: error = %v, want ErrUnsupportedMessageType", tag, err)
		}
	}
	if state.calls != 0 {
		t.Errorf("state mutated: %+v", state)
	}
}

func TestTypedRejectsForeignRecord(t *testing.T) {
	registry := newTestRegistry()
	state := &counterState{}

	// An Ls record presented under the Index discriminant.
	raw, err := codec.Marshal([]any{uint64(TypeLsRequest), uint64(1), "src"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	_, err = registry.Dispatch(context.Background(), Envelope{Type: TypeIndexRequest, Raw: raw}, state)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("error = %v, want ErrTypeMismatch", err)
	}
	if state.calls != 0 {
		t.Errorf("handler ran on a mismatched record")
	}
}

func TestHandleDuplicatePanics(t *testing.T) {
	registry := newTestRegistry()
	defer func() {
		recovered := recover()
		if recovered == nil {
			t.Fatal("duplicate Handle did not panic")
		}
		if !strings.Contains(recovered.(string), "duplicate") {
			t.Errorf("panic message = %v", recovered)
		}
	}()
	Route(registry, handleIndex)
}

func TestHandleUnknownTypePanics(t *testing.T) {
	registry := NewRegistry[*counterState](RoleServerDaemon)
	defer func() {
		if recover() == nil {
			t.Fatal("Handle for an unknown type did not panic")
		}
	}()
	registry.Handle(MessageType(99), func(context.Context, []byte, *counterState) (Message, error) {
		return nil, nil
	})
}

func TestTypesSorted(t *testing.T) {
	registry := NewRegistry[*counterState](RoleServerDaemon)
	noop := func(context.Context, []byte, *counterState) (Message, error) { return nil, nil }
	registry.Handle(TypeShellRequest, noop)
	registry.Handle(TypeInitRequest, noop)
	registry.Handle(TypeExitRequest, noop)

	types := registry.Types()
	want := []MessageType{TypeInitRequest, TypeShellRequest, TypeExitRequest}
	if len(types) != len(want) {
		t.Fatalf("Types() = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Types()[%d] = %v, want %v", i, types[i], want[i])
		}
	}
	if registry.Role() != RoleServerDaemon {
		t.Errorf("Role() = %q", registry.Role())
	}
}
