// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/fsbroker/lib/codec"
)

// dialTimeout covers the connect phase only.
const dialTimeout = 5 * time.Second

// responseReadTimeout is matched to the server's read plus write
// timeouts so a slow handler doesn't look like a dead socket.
const responseReadTimeout = 45 * time.Second

// maxResponseSize mirrors the server's request cap.
const maxResponseSize = 64 * 1024

// ActionError is returned by Call when the server answers ok=false.
type ActionError struct {
	Action  string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("control error on %q: %s", e.Action, e.Message)
}

// Client sends control requests to a broker daemon. Each Call opens
// its own connection, matching the server's one-request-per-connection
// model.
type Client struct {
	socketPath string
}

// NewClient returns a client for the daemon's control socket.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends an action with optional extra fields and decodes the
// response data into result (when result is non-nil and data is
// present). Server-side failures come back as *ActionError; transport
// failures as plain errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	if !response.OK {
		return &ActionError{Action: action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	// Let the server's read side see a clean EOF.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
