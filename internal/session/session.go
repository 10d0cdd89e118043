// Package session implements the per-connection request loop: receive a
// request, dispatch it by opcode, send exactly one reply, repeat until the
// client leaves or the server stops.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"runtime/debug"
	"time"

	"github.com/marmos91/nnfs/internal/logger"
	"github.com/marmos91/nnfs/internal/protocol/nnfs"
	"github.com/marmos91/nnfs/internal/transport"
	"github.com/marmos91/nnfs/pkg/metrics"
)

// State is the request loop state.
type State int

const (
	// StateAwaitingRequest is the initial state: the worker waits for the
	// next request on the connection.
	StateAwaitingRequest State = iota

	// StateTerminated is the only terminal state. The connection is closed
	// on entry and the worker goes back to the job queue.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingRequest:
		return "AWAITING_REQUEST"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// RequestLimiter decides whether a request from client may be processed.
// client is the peer IP address.
type RequestLimiter interface {
	AllowRequest(client string) bool
}

// Config holds the optional collaborators of a Handler.
type Config struct {
	// Limiter throttles requests. nil means unlimited.
	Limiter RequestLimiter

	// Metrics records request outcomes. nil means no-op.
	Metrics metrics.NNFSMetrics
}

// Handler serves NNFS connections. It implements worker.Handler.
type Handler struct {
	limiter RequestLimiter
	metrics metrics.NNFSMetrics
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoopNNFSMetrics()
	}

	return &Handler{
		limiter: cfg.Limiter,
		metrics: m,
	}
}

// ServeConn runs the request loop on conn until it terminates, then closes
// conn.
//
// Cancelling ctx stops the loop: a receive in progress is interrupted, while
// a request already being dispatched still gets its reply.
func (h *Handler) ServeConn(ctx context.Context, workerID int, conn *transport.Conn) {
	s := &session{
		handler: h,
		worker:  workerID,
		conn:    conn,
		client:  clientKey(conn.RemoteAddr()),
		state:   StateAwaitingRequest,
	}
	s.serve(ctx)
}

// session is the state of one served connection.
type session struct {
	handler  *Handler
	worker   int
	conn     *transport.Conn
	client   string
	state    State
	requests uint64
}

func (s *session) serve(ctx context.Context) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Worker %d: panic in session %s from %s: %v\n%s",
				s.worker, s.conn.ID(), s.conn.RemoteAddr(), r, debug.Stack())
		}
		s.state = StateTerminated
		_ = s.conn.Close()
		logger.Debug("Worker %d: session %s closed after %d requests (%v)",
			s.worker, s.conn.ID(), s.requests, time.Since(started))
	}()

	stop := context.AfterFunc(ctx, s.conn.Interrupt)
	defer stop()

	logger.Debug("Worker %d: serving session %s from %s", s.worker, s.conn.ID(), s.conn.RemoteAddr())

	for s.state == StateAwaitingRequest {
		if ctx.Err() != nil {
			logger.Debug("Worker %d: session %s stopping: %v", s.worker, s.conn.ID(), context.Cause(ctx))
			s.state = StateTerminated
			break
		}

		req, err := s.conn.ReceiveMessage()
		if err != nil {
			s.logReceiveError(err)
			s.state = StateTerminated
			break
		}

		s.requests++
		s.state = s.handleRequest(req)
	}
}

// handleRequest dispatches req, sends its reply and returns the next state.
func (s *session) handleRequest(req *nnfs.Message) State {
	m := s.handler.metrics
	start := time.Now()

	proc, known := dispatchTable[req.OpCode]
	name := unknownProcedure
	if known {
		name = proc.Name
	}

	m.RecordRequestStart(name)
	defer m.RecordRequestEnd(name)
	m.RecordBytesTransferred("in", uint64(nnfs.HeaderSize+len(req.Payload)))

	var reply *nnfs.Message
	terminal := false
	switch {
	case !known:
		logger.Debug("Worker %d: session %s: unknown opcode %d (id=%d)",
			s.worker, s.conn.ID(), uint32(req.OpCode), req.ID)
		reply = badOpCodeReply(req)

	case !proc.Terminal && s.handler.limiter != nil && !s.handler.limiter.AllowRequest(s.client):
		logger.Debug("Worker %d: session %s: %s id=%d rate limited",
			s.worker, s.conn.ID(), name, req.ID)
		reply = rateLimitedReply(req)

	default:
		logger.Debug("Worker %d: session %s: %s id=%d", s.worker, s.conn.ID(), name, req.ID)
		reply = proc.Handler(req)
		terminal = proc.Terminal
	}

	n, err := s.conn.SendMessage(reply)
	m.RecordBytesTransferred("out", uint64(n))
	m.RecordRequest(name, reply.Status.String(), time.Since(start))

	if err != nil {
		logger.Warn("Worker %d: session %s: failed to send %s reply id=%d: %v",
			s.worker, s.conn.ID(), reply.OpCode, reply.ID, err)
		return StateTerminated
	}

	if terminal {
		if err := s.conn.Shutdown(); err != nil {
			logger.Debug("Worker %d: session %s: shutdown: %v", s.worker, s.conn.ID(), err)
		}
		logger.Info("Client %s closed session %s", s.conn.RemoteAddr(), s.conn.ID())
		return StateTerminated
	}

	return StateAwaitingRequest
}

func (s *session) logReceiveError(err error) {
	var netErr net.Error

	switch {
	case errors.Is(err, io.EOF):
		logger.Info("Client %s disconnected (session %s)", s.conn.RemoteAddr(), s.conn.ID())
	case errors.Is(err, transport.ErrInterrupted):
		logger.Debug("Worker %d: session %s interrupted by shutdown", s.worker, s.conn.ID())
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		logger.Info("Client %s timed out (session %s)", s.conn.RemoteAddr(), s.conn.ID())
	default:
		logger.Warn("Worker %d: session %s from %s: receive failed: %v",
			s.worker, s.conn.ID(), s.conn.RemoteAddr(), err)
	}
}

// clientKey returns the host part of addr, used as rate limiting key.
func clientKey(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
