// Package rpc implements the RPC Core (spec §4.N, §6.1): a Unix domain
// socket server speaking length-prefixed JSON-RPC 2.0 over a closed set
// of methods, with bounded concurrency and per-request deadlines.
package rpc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"golang.org/x/sync/semaphore"

	"github.com/anna-assistant/annad/internal/rpcerr"
)

// Method is the closed set of RPC methods (§4.N).
type Method string

const (
	MethodStatus          Method = "Status"
	MethodRequest         Method = "Request"
	MethodReset           Method = "Reset"
	MethodProbe           Method = "Probe"
	MethodProgress        Method = "Progress"
	MethodStats           Method = "Stats"
	MethodStatusSnapshot  Method = "StatusSnapshot"
	MethodGetDaemonInfo   Method = "GetDaemonInfo"
	MethodPlanChange      Method = "PlanChange"
	MethodApplyChange     Method = "ApplyChange"
	MethodRollbackChange  Method = "RollbackChange"
	MethodAutofix         Method = "Autofix"
	MethodUninstall       Method = "Uninstall"
)

var knownMethods = map[Method]bool{
	MethodStatus: true, MethodRequest: true, MethodReset: true, MethodProbe: true,
	MethodProgress: true, MethodStats: true, MethodStatusSnapshot: true,
	MethodGetDaemonInfo: true, MethodPlanChange: true, MethodApplyChange: true,
	MethodRollbackChange: true, MethodAutofix: true, MethodUninstall: true,
}

// Envelope is the on-wire JSON-RPC 2.0 message, framed with a 4-byte
// big-endian length prefix (§4.N "Wire frame").
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  Method          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpc.Error  `json:"error,omitempty"`
}

const maxFrameSize = 16 * 1024 * 1024

// writeFrame writes env as a length-prefixed JSON-RPC 2.0 frame.
func writeFrame(w io.Writer, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("rpc: marshal envelope: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("rpc: write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("rpc: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed JSON-RPC 2.0 frame.
func readFrame(r io.Reader) (Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Envelope{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return Envelope{}, fmt.Errorf("rpc: frame of %d bytes exceeds max %d", size, maxFrameSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("rpc: read frame body: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("rpc: unmarshal envelope: %w", err)
	}
	return env, nil
}

// Handler processes one method's params and returns a result to marshal,
// or an error. rpcerr.Error values are mapped to structured error
// responses (§7); any other error is treated as Internal.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Server is the Unix-socket JSON-RPC front door, grounded on the
// teacher's internal/api.Server accept-loop-plus-graceful-shutdown shape
// but serving length-prefixed frames instead of HTTP.
type Server struct {
	listener        net.Listener
	handlers        map[Method]Handler
	maxConcurrent   int
	requestDeadline time.Duration

	sem *semaphore.Weighted

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

func removeStaleSocket(socketPath string) error {
	if _, err := os.Stat(socketPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("rpc: stat %s: %w", socketPath, err)
	}
	if err := os.Remove(socketPath); err != nil {
		return fmt.Errorf("rpc: remove stale socket %s: %w", socketPath, err)
	}
	return nil
}

// NewServer binds a Unix domain socket at socketPath. Any stale socket
// file at that path is removed first.
func NewServer(socketPath string, maxConcurrent int, requestDeadline time.Duration) (*Server, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}
	if err := removeStaleSocket(socketPath); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("rpc: listen on %s: %w", socketPath, err)
	}
	return &Server{
		listener:        ln,
		handlers:        make(map[Method]Handler),
		maxConcurrent:   maxConcurrent,
		requestDeadline: requestDeadline,
		sem:             semaphore.NewWeighted(int64(maxConcurrent)),
	}, nil
}

// Handle registers h for method. Registering an unknown method is a
// programmer error and panics (§4.N's enum is closed at build time).
func (s *Server) Handle(method Method, h Handler) {
	if !knownMethods[method] {
		panic(fmt.Sprintf("rpc: %q is not a recognized method", method))
	}
	s.handlers[method] = h
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			shuttingDown := s.shutdown
			s.mu.Unlock()
			if shuttingDown {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("rpc: accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		env, err := readFrame(conn)
		if err != nil {
			return
		}
		s.handleOne(ctx, conn, env)
	}
}

func (s *Server) handleOne(ctx context.Context, w io.Writer, env Envelope) {
	if !s.sem.TryAcquire(1) {
		_ = writeFrame(w, errorEnvelope(env.ID, rpcerr.New(rpcerr.Overloaded, "server is at max concurrency")))
		return
	}
	defer s.sem.Release(1)

	handler, ok := s.handlers[env.Method]
	if !ok {
		_ = writeFrame(w, Envelope{
			JSONRPC: "2.0", ID: env.ID,
			Error: &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: string(env.Method) + " is not a recognized method"},
		})
		return
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if s.requestDeadline > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, s.requestDeadline)
		defer cancel()
	}

	result, err := handler(reqCtx, env.Params)
	if err != nil {
		if rpcErr, ok2 := err.(*rpcerr.Error); ok2 {
			_ = writeFrame(w, errorEnvelope(env.ID, rpcErr))
			return
		}
		_ = writeFrame(w, errorEnvelope(env.ID, rpcerr.New(rpcerr.Internal, "%v", err)))
		return
	}

	resultJSON, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		_ = writeFrame(w, errorEnvelope(env.ID, rpcerr.New(rpcerr.Internal, "marshal result: %v", marshalErr)))
		return
	}
	_ = writeFrame(w, Envelope{JSONRPC: "2.0", ID: env.ID, Result: resultJSON})
}

// errorEnvelope carries an rpcerr.Error's kind/message in the JSON-RPC
// error.data field. Internal uses the standard -32603 code; every other
// kind uses jsonrpc.CodeInvalidParams.
func errorEnvelope(id string, e *rpcerr.Error) Envelope {
	code := jsonrpc.CodeInvalidParams
	if e.Kind == rpcerr.Internal {
		code = -32603 // JSON-RPC 2.0 standard "Internal error" code
	}
	data, _ := json.Marshal(map[string]any{"kind": e.Kind, "details": e.Data})
	return Envelope{
		JSONRPC: "2.0",
		ID:      id,
		Error: &jsonrpc.Error{
			Code:    code,
			Message: e.Message,
			Data:    data,
		},
	}
}
