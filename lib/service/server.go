// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/tether/lib/codec"
	"github.com/bureau-foundation/tether/lib/ipc"
	"github.com/bureau-foundation/tether/lib/netutil"
)

// DefaultIOTimeout bounds each read and each write on a connection.
const DefaultIOTimeout = 5 * time.Second

// ServerConfig holds the per-connection limits.
type ServerConfig struct {
	// IOTimeout bounds reading the request and, separately, writing the
	// response. Zero means DefaultIOTimeout.
	IOTimeout time.Duration

	// MaxMessageSize bounds the request frame. Zero means
	// ipc.DefaultMaxFrameSize.
	MaxMessageSize int

	// OnExit runs after the server has written a response acknowledging
	// an ExitRequest (directly or wrapped in a payload). Daemons use it
	// to cancel the context passed to Serve.
	OnExit func()
}

// Server dispatches requests from a listener to a registry.
type Server[S any] struct {
	listener net.Listener
	registry *ipc.Registry[S]
	state    S
	config   ServerConfig
	logger   *slog.Logger

	// activeConnections tracks in-flight handlers so Serve can wait for
	// them before returning.
	activeConnections sync.WaitGroup
}

// NewServer returns a server that will accept on listener. The server
// takes ownership of listener and closes it when Serve returns.
func NewServer[S any](listener net.Listener, registry *ipc.Registry[S], state S, config ServerConfig, logger *slog.Logger) *Server[S] {
	if config.IOTimeout <= 0 {
		config.IOTimeout = DefaultIOTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = ipc.DefaultMaxFrameSize
	}
	return &Server[S]{
		listener: listener,
		registry: registry,
		state:    state,
		config:   config,
		logger:   logger.With("role", registry.Role()),
	}
}

// Addr is the listening address.
func (s *Server[S]) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight handlers to finish. Handlers run with a context that is not
// cancelled by shutdown.
func (s *Server[S]) Serve(ctx context.Context) error {
	defer s.listener.Close()

	stop := context.AfterFunc(ctx, func() { s.listener.Close() })
	defer stop()

	var handled []string
	for _, messageType := range s.registry.Types() {
		handled = append(handled, messageType.String())
	}
	s.logger.Info("accepting connections", "address", s.listener.Addr().String(), "handles", handled)

	handlerContext := context.WithoutCancel(ctx)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(handlerContext, conn)
		}()
	}

	s.activeConnections.Wait()
	s.logger.Info("stopped accepting connections")
	return nil
}

// handleConnection runs one request/response exchange.
func (s *Server[S]) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := s.logger.With("peer", conn.RemoteAddr().String())

	conn.SetReadDeadline(time.Now().Add(s.config.IOTimeout))
	raw, err := ipc.ReadFrame(conn, s.config.MaxMessageSize)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			logger.Debug("connection closed before a request")
		case netutil.IsTimeout(err):
			logger.Warn("dropping connection: request not received in time", "timeout", s.config.IOTimeout)
		case netutil.IsExpectedCloseError(err):
			logger.Debug("connection closed mid-request", "error", err)
		default:
			logger.Warn("dropping connection", "error", err)
		}
		return
	}

	envelope, err := ipc.DecodeEnvelope(raw)
	if err != nil {
		s.logProtocolError(logger, raw, err)
		return
	}
	logger = logger.With("type", envelope.Type.String())

	response, err := s.registry.Dispatch(ctx, envelope, s.state)
	if err != nil {
		if ipc.IsProtocolError(err) {
			s.logProtocolError(logger, raw, err)
			return
		}
		logger.Info("handler failed", "error", err)
		response = &ipc.ErrorResponse{Message: err.Error()}
	}
	if response == nil {
		return
	}

	conn.SetWriteDeadline(time.Now().Add(s.config.IOTimeout))
	if err := ipc.WriteMessage(conn, response); err != nil {
		if netutil.IsExpectedCloseError(err) {
			logger.Debug("peer left before the response", "error", err)
		} else {
			logger.Warn("writing response", "error", err)
		}
		return
	}
	logger.Debug("request served", "response", response.MessageType().String())

	if acknowledgesExit(response) && s.config.OnExit != nil {
		logger.Info("exit requested")
		s.config.OnExit()
	}
}

func (s *Server[S]) logProtocolError(logger *slog.Logger, raw []byte, err error) {
	logger.Warn("dropping connection: protocol error", "error", err)
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		if notation, diagErr := codec.Diagnose(raw); diagErr == nil {
			logger.Debug("undecodable request", "cbor", notation)
		}
	}
}

func acknowledgesExit(response ipc.Message) bool {
	switch r := response.(type) {
	case *ipc.ExitResponse:
		return true
	case *ipc.PayloadResponse:
		return r.Command == ipc.TypeExitResponse
	}
	return false
}
