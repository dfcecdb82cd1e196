// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control implements the broker daemon's control socket: a
// CBOR request/response protocol on a Unix socket, one request per
// connection. Operators and tooling use it to inspect a running
// broker (status, loaded policy, per-command counters) without
// touching the brokered channel itself.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/fsbroker/lib/codec"
)

// ActionFunc handles one control action. The raw parameter is the full
// CBOR request including the "action" field; handlers decode their own
// fields from it. The returned value, if non-nil, is marshaled into
// the response's data field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope for every control reply.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// readTimeout bounds how long the server waits for a connected client
// to send its request.
const readTimeout = 30 * time.Second

// writeTimeout bounds the response write.
const writeTimeout = 10 * time.Second

// maxRequestSize caps a single control request. Control requests are
// tiny; 64 KB is already generous.
const maxRequestSize = 64 * 1024

// Server serves control actions on a Unix socket. Register actions
// with Handle before calling Serve.
type Server struct {
	socketPath string
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	// connections tracks in-flight handlers so Serve can drain them
	// before returning.
	connections sync.WaitGroup
}

// NewServer creates a server that will listen on socketPath.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
	}
}

// Handle registers an action handler. Panics on duplicates; action
// registration is a startup-time programming decision, not input.
func (s *Server) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("control.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight handlers. A stale socket file at the path is replaced;
// the socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept on cancellation.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("control socket listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("control accept failed", "error", err)
			continue
		}

		s.connections.Add(1)
		go func() {
			defer s.connections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.connections.Wait()
	return nil
}

// handleConnection runs one request/response cycle.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// One CBOR value per connection; CBOR is self-delimiting so no
	// framing is needed. The LimitReader bounds memory.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("control action failed", "action", header.Action, "error", err)
		s.writeError(conn, err.Error())
		return
	}
	s.writeSuccess(conn, result)
}

func (s *Server) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{OK: false, Error: message}); err != nil {
		s.logger.Debug("failed to write control error response", "error", err)
	}
}

func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write control response", "error", err)
	}
}
