// client.go: Control socket client
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/agilira/go-errors"
)

// ErrCodeUnavailable is returned when the daemon cannot be reached.
const ErrCodeUnavailable = "TRANSPORT_UNAVAILABLE"

const (
	dialTimeout         = 5 * time.Second
	responseReadTimeout = 2 * time.Minute
	maxResponseSize     = 64 * 1024
)

// RemoteError is a failure reported by the daemon. Code carries the
// daemon-side error code.
type RemoteError struct {
	Action  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Action, e.Message)
}

// Client calls actions on the daemon socket, one connection per call.
type Client struct {
	socketPath string
}

// NewClient returns a client for socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends request under action and decodes the response data into
// result. request may be nil or any CBOR-encodable struct or map; its
// fields are merged with the action name at the top level.
func (c *Client) Call(ctx context.Context, action string, request, result any) error {
	fields := map[string]any{}
	if request != nil {
		data, err := Marshal(request)
		if err != nil {
			return errors.Wrap(err, ErrCodeBadRequest, "failed to encode request")
		}
		if err := Unmarshal(data, &fields); err != nil {
			return errors.Wrap(err, ErrCodeBadRequest, "request must encode as a map")
		}
	}
	fields["action"] = action

	response, err := c.send(ctx, fields)
	if err != nil {
		return errors.Wrap(err, ErrCodeUnavailable, "failed to call "+action).
			WithContext("socket", c.socketPath)
	}

	if !response.OK {
		return &RemoteError{Action: action, Code: response.Code, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := Unmarshal(response.Data, result); err != nil {
			return errors.Wrap(err, ErrCodeBadRequest, "failed to decode response for "+action)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	}

	if err := newEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		_ = unixConn.CloseWrite()
	}

	var response Response
	if err := newDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
