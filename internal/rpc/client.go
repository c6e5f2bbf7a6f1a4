package rpc

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/anna-assistant/annad/internal/rpcerr"
)

// Client is a thin synchronous caller for the Unix-socket wire protocol,
// used by cmd/annactl so the CLI and the daemon share one frame format.
type Client struct {
	conn net.Conn
}

// Dial connects to a running daemon's RPC socket.
func Dial(socketPath string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// CallError carries a daemon-returned JSON-RPC error back to the caller
// with its rpcerr.Kind intact, so annactl can choose an exit code per kind.
type CallError struct {
	Kind    rpcerr.Kind
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Call sends one request and blocks for its response. params may be nil.
func (c *Client) Call(id string, method Method, params any, deadline time.Duration) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		body, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("rpc: marshal params: %w", err)
		}
		raw = body
	}

	if deadline > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(deadline))
	}

	if err := writeFrame(c.conn, Envelope{JSONRPC: "2.0", ID: id, Method: method, Params: raw}); err != nil {
		return nil, err
	}
	resp, err := readFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("rpc: read response: %w", err)
	}
	if resp.Error != nil {
		kind := rpcerr.Internal
		var data map[string]any
		if len(resp.Error.Data) > 0 {
			if err := json.Unmarshal(resp.Error.Data, &data); err == nil {
				if k, ok := data["kind"].(string); ok {
					kind = rpcerr.Kind(k)
				}
			}
		}
		return nil, &CallError{Kind: kind, Message: resp.Error.Message}
	}
	return resp.Result, nil
}
