// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bureau-foundation/tether/lib/ipc"
)

// Client defaults.
const (
	DefaultDialTimeout     = 2 * time.Second
	DefaultResponseTimeout = 30 * time.Second
)

// TransportError reports a failure to exchange frames with a daemon:
// it could not be dialed, the connection broke, or it closed without
// answering.
type TransportError struct {
	Op      string
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError carries the message of an ErrorResponse.
type RemoteError struct {
	Request ipc.MessageType
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon rejected %v: %s", e.Request, e.Message)
}

// Client sends single requests to one daemon address.
type Client struct {
	Address string

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// ResponseTimeout bounds the wait for the response after the
	// request is written. Requests that run commands need a value above
	// the command's own timeout.
	ResponseTimeout time.Duration

	// MaxMessageSize bounds the response frame.
	MaxMessageSize int
}

// NewClient returns a Client for address with default limits.
func NewClient(address string) *Client {
	return &Client{
		Address:         address,
		DialTimeout:     DefaultDialTimeout,
		ResponseTimeout: DefaultResponseTimeout,
		MaxMessageSize:  ipc.DefaultMaxFrameSize,
	}
}

// Call sends request and decodes the reply into response. An
// ErrorResponse is returned as *RemoteError; a reply of any other
// unexpected type is an ipc.ErrTypeMismatch.
func (c *Client) Call(ctx context.Context, request, response ipc.Message) error {
	envelope, err := c.Send(ctx, request)
	if err != nil {
		return err
	}
	if envelope.Type == ipc.TypeErrorResponse {
		var failure ipc.ErrorResponse
		if err := envelope.Decode(&failure); err != nil {
			return err
		}
		return &RemoteError{Request: request.MessageType(), Message: failure.Message}
	}
	return envelope.Decode(response)
}

// Send sends request and returns the undecoded reply.
func (c *Client) Send(ctx context.Context, request ipc.Message) (ipc.Envelope, error) {
	dialer := net.Dialer{Timeout: c.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return ipc.Envelope{}, &TransportError{Op: "connecting to", Address: c.Address, Err: err}
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetWriteDeadline(time.Now().Add(c.DialTimeout))
	if err := ipc.WriteMessage(conn, request); err != nil {
		return ipc.Envelope{}, c.transportError(ctx, "sending to", err)
	}
	// The server reads exactly one frame; half-closing lets it see EOF
	// if it ever reads further.
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(c.ResponseTimeout))
	envelope, err := ipc.ReadEnvelope(conn, c.MaxMessageSize)
	if err != nil {
		if ipc.IsProtocolError(err) {
			return ipc.Envelope{}, fmt.Errorf("reply from %s: %w", c.Address, err)
		}
		return ipc.Envelope{}, c.transportError(ctx, "reading reply from", err)
	}
	return envelope, nil
}

// transportError prefers the context's error when cancellation is what
// broke the connection.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return &TransportError{Op: op, Address: c.Address, Err: err}
}

// IsUnavailable reports whether err means the daemon could not be
// reached or gave no answer.
func IsUnavailable(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}
