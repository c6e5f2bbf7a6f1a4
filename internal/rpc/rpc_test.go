package rpc

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anna-assistant/annad/internal/rpcerr"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "annad.sock")
	s, err := NewServer(socketPath, 2, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Serve(ctx)

	return s, socketPath
}

func dial(t *testing.T, socketPath string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	return conn
}

func TestHandleUnknownMethodPanics(t *testing.T) {
	s, _ := startTestServer(t)
	assert.Panics(t, func() {
		s.Handle(Method("NotARealMethod"), func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, nil
		})
	})
}

func TestRoundTripSuccessfulCall(t *testing.T) {
	s, socketPath := startTestServer(t)
	s.Handle(MethodStatus, func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]string{"health": "ok"}, nil
	})

	conn := dial(t, socketPath)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, Envelope{JSONRPC: "2.0", ID: "1", Method: MethodStatus}))
	resp, err := readFrame(conn)
	require.NoError(t, err)
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `{"health":"ok"}`, string(resp.Result))
}

func TestUnrecognizedMethodReturnsMethodNotFound(t *testing.T) {
	_, socketPath := startTestServer(t)
	conn := dial(t, socketPath)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, Envelope{JSONRPC: "2.0", ID: "1", Method: Method("Bogus")}))
	resp, err := readFrame(conn)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
}

func TestHandlerRpcErrIsCarriedInErrorData(t *testing.T) {
	s, socketPath := startTestServer(t)
	s.Handle(MethodProbe, func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, rpcerr.New(rpcerr.ProbeFailed, "disk probe timed out")
	})

	conn := dial(t, socketPath)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, Envelope{JSONRPC: "2.0", ID: "1", Method: MethodProbe}))
	resp, err := readFrame(conn)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "disk probe timed out", resp.Error.Message)
}

func TestOverloadedWhenAtMaxConcurrency(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "annad.sock")
	s, err := NewServer(socketPath, 1, time.Second)
	require.NoError(t, err)

	release := make(chan struct{})
	s.Handle(MethodStatus, func(ctx context.Context, params json.RawMessage) (any, error) {
		<-release
		return "ok", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx)

	conn1 := dial(t, socketPath)
	defer conn1.Close()
	require.NoError(t, writeFrame(conn1, Envelope{JSONRPC: "2.0", ID: "1", Method: MethodStatus}))

	time.Sleep(50 * time.Millisecond) // let the first call acquire the only slot

	conn2 := dial(t, socketPath)
	defer conn2.Close()
	require.NoError(t, writeFrame(conn2, Envelope{JSONRPC: "2.0", ID: "2", Method: MethodStatus}))

	resp, err := readFrame(conn2)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)

	close(release)
}

func TestFrameRoundTrip(t *testing.T) {
	r, w := net.Pipe()
	env := Envelope{JSONRPC: "2.0", ID: "7", Method: MethodStats}

	go func() { _ = writeFrame(w, env) }()
	got, err := readFrame(r)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.Method, got.Method)
}
