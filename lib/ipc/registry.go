// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"fmt"
	"slices"
)

// HandlerFunc handles one request. raw is the complete encoded record;
// state is the role's shared state. A nil Message means no response is
// written. A returned error that is not a protocol error is reported to
// the peer as an ErrorResponse.
type HandlerFunc[S any] func(ctx context.Context, raw []byte, state S) (Message, error)

// Registry routes envelopes to handlers for one daemon role. Handlers
// are registered during startup; Dispatch is safe for concurrent use
// once registration is complete.
type Registry[S any] struct {
	role     string
	handlers map[MessageType]HandlerFunc[S]
}

// NewRegistry returns an empty registry for role.
func NewRegistry[S any](role string) *Registry[S] {
	return &Registry[S]{role: role, handlers: make(map[MessageType]HandlerFunc[S])}
}

// Role returns the role name given to NewRegistry.
func (r *Registry[S]) Role() string { return r.role }

// Handle registers handler for messageType. Registering the same type
// twice, or a type outside the discriminant table, panics.
func (r *Registry[S]) Handle(messageType MessageType, handler HandlerFunc[S]) {
	if !messageType.Known() {
		panic(fmt.Sprintf("ipc: %s registry: handler for unknown %v", r.role, messageType))
	}
	if _, exists := r.handlers[messageType]; exists {
		panic(fmt.Sprintf("ipc: %s registry: duplicate handler for %v", r.role, messageType))
	}
	r.handlers[messageType] = handler
}

// Types returns the registered discriminants in ascending order.
func (r *Registry[S]) Types() []MessageType {
	types := make([]MessageType, 0, len(r.handlers))
	for messageType := range r.handlers {
		types = append(types, messageType)
	}
	slices.Sort(types)
	return types
}

// Dispatch invokes the handler registered for the envelope's type.
// Returns ErrUnsupportedMessageType (wrapped) if there is none.
func (r *Registry[S]) Dispatch(ctx context.Context, envelope Envelope, state S) (Message, error) {
	handler, ok := r.handlers[envelope.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no handler for %v", ErrUnsupportedMessageType, r.role, envelope.Type)
	}
	return handler(ctx, envelope.Raw, state)
}

// Typed adapts a handler for one concrete request type. The returned
// HandlerFunc decodes raw into a new *M, verifies the embedded
// discriminant, and calls fn.
func Typed[S any, M any, P interface {
	*M
	Message
}](fn func(ctx context.Context, request P, state S) (Message, error)) HandlerFunc[S] {
	return func(ctx context.Context, raw []byte, state S) (Message, error) {
		request := P(new(M))
		envelope := Envelope{Type: request.MessageType(), Raw: raw}
		head, err := DecodeEnvelope(raw)
		if err != nil {
			return nil, err
		}
		if head.Type != envelope.Type {
			return nil, fmt.Errorf("%w: record is %v, handler expects %v", ErrTypeMismatch, head.Type, envelope.Type)
		}
		if err := envelope.Decode(request); err != nil {
			return nil, err
		}
		return fn(ctx, request, state)
	}
}

// Route registers fn on r under the discriminant of fn's request type.
//
//	ipc.Route(registry, handleShell) // handleShell(ctx, *ipc.ShellRequest, *serverState)
func Route[S any, M any, P interface {
	*M
	Message
}](r *Registry[S], fn func(ctx context.Context, request P, state S) (Message, error)) {
	r.Handle(P(new(M)).MessageType(), Typed[S, M, P](fn))
}
