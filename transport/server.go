// server.go: One-request-per-connection CBOR server on a Unix socket
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package transport

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/agilira/go-errors"
)

// Error codes produced by the transport itself.
const (
	ErrCodeBadRequest    = "TRANSPORT_BAD_REQUEST"
	ErrCodeUnknownAction = "TRANSPORT_UNKNOWN_ACTION"
	ErrCodeInternal      = "TRANSPORT_INTERNAL"
)

// Peer identifies the process on the other end of a connection.
type Peer struct {
	PID int32
	UID uint32
	GID uint32
}

// ActionFunc handles one decoded request. raw is the full CBOR request
// including the "action" field. A nil result yields {ok: true}.
type ActionFunc func(ctx context.Context, peer Peer, raw []byte) (any, error)

// Response is the envelope written for every request.
type Response struct {
	OK    bool       `cbor:"ok"`
	Code  string     `cbor:"code,omitempty"`
	Error string     `cbor:"error,omitempty"`
	Data  RawMessage `cbor:"data,omitempty"`
}

const (
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxRequestSize = 64 * 1024
)

// Server dispatches requests on a Unix socket to registered actions.
type Server struct {
	socketPath string
	socketMode os.FileMode
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	active sync.WaitGroup
}

// NewServer creates a server for socketPath. The socket file is created
// with mode 0666 so unprivileged callers can reach the authorization step.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		socketMode: 0666,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
	}
}

// Handle registers handler for action. It panics on duplicates.
func (s *Server) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("transport.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight requests. A stale socket file is removed before listening and
// the socket is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, ErrCodeInternal, "failed to remove stale socket").
			WithContext("path", s.socketPath)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Wrap(err, ErrCodeInternal, "failed to listen").
			WithContext("path", s.socketPath)
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	if err := os.Chmod(s.socketPath, s.socketMode); err != nil {
		s.logger.Warn("could not set socket permissions", "path", s.socketPath, "error", err)
	}

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	s.logger.Info("control socket listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || goerrors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	peer, err := peerCredentials(conn)
	if err != nil {
		s.logger.Warn("could not read peer credentials", "error", err)
		s.writeError(conn, ErrCodeBadRequest, "peer credentials unavailable")
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw RawMessage
	if err := newDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if goerrors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, ErrCodeBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := Unmarshal(raw, &header); err != nil {
		s.writeError(conn, ErrCodeBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, ErrCodeBadRequest, "missing required field: action")
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, ErrCodeUnknownAction, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, peer, []byte(raw))
	if err != nil {
		code := codeOf(err)
		s.logger.Debug("action failed", "action", header.Action, "uid", peer.UID, "code", code, "error", err)
		s.writeError(conn, code, err.Error())
		return
	}
	s.writeSuccess(conn, result)
}

func (s *Server) writeError(conn net.Conn, code, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := newEncoder(conn).Encode(Response{OK: false, Code: code, Error: message}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *Server) writeSuccess(conn net.Conn, result any) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := Marshal(result)
		if err != nil {
			s.writeError(conn, ErrCodeInternal, fmt.Sprintf("marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := newEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}

// codeOf extracts a coded error's code, or ErrCodeInternal.
func codeOf(err error) string {
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return string(coder.ErrorCode())
	}
	return ErrCodeInternal
}

// Decode unmarshals a request body into v for use inside an ActionFunc.
func Decode(raw []byte, v any) error {
	if err := Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, ErrCodeBadRequest, "invalid request body")
	}
	return nil
}
