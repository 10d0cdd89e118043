package session

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nnfs/internal/protocol/nnfs"
	"github.com/marmos91/nnfs/internal/ratelimiter"
	"github.com/marmos91/nnfs/internal/transport"
	"github.com/marmos91/nnfs/pkg/metrics"
)

type harness struct {
	client *transport.Conn
	done   chan struct{}
}

// startSession serves one end of a pipe in the background and returns the
// other end as a client connection.
func startSession(t *testing.T, ctx context.Context, cfg Config) *harness {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	h := &harness{
		client: transport.NewConn(clientSide, transport.Options{}),
		done:   make(chan struct{}),
	}
	t.Cleanup(func() { _ = h.client.Close() })

	handler := NewHandler(cfg)
	go func() {
		defer close(h.done)
		handler.ServeConn(ctx, 0, transport.NewConn(serverSide, transport.Options{}))
	}()

	return h
}

func (h *harness) roundTrip(t *testing.T, req *nnfs.Message) *nnfs.Message {
	t.Helper()

	_, err := h.client.SendMessage(req)
	require.NoError(t, err)

	reply, err := h.client.ReceiveMessage()
	require.NoError(t, err)
	return reply
}

func (h *harness) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

func TestSession_PingPong(t *testing.T) {
	h := startSession(t, context.Background(), Config{})

	reply := h.roundTrip(t, nnfs.NewPingRequest(7))
	assert.Equal(t, nnfs.OpCodePong, reply.OpCode)
	assert.Equal(t, uint32(7), reply.ID)
	assert.Equal(t, nnfs.StatusOK, reply.Status)
	assert.Nil(t, reply.Payload)

	reply = h.roundTrip(t, nnfs.NewPingRequest(8))
	assert.Equal(t, uint32(8), reply.ID, "session stays open after PING")

	require.NoError(t, h.client.Close())
	h.waitDone(t)
}

func TestSession_CloseConnection(t *testing.T) {
	h := startSession(t, context.Background(), Config{})

	reply := h.roundTrip(t, nnfs.NewCloseRequest(9))
	assert.Equal(t, nnfs.OpCodeSuccess, reply.OpCode)
	assert.Equal(t, uint32(9), reply.ID)

	_, err := h.client.ReceiveMessage()
	assert.ErrorIs(t, err, io.EOF)
	h.waitDone(t)
}

func TestSession_UnknownOpCode(t *testing.T) {
	h := startSession(t, context.Background(), Config{})

	tests := []struct {
		name string
		op   nnfs.OpCode
	}{
		{"out of range", nnfs.OpCode(255)},
		{"null", nnfs.OpCodeNull},
		{"reply opcode", nnfs.OpCodePong},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := uint32(100 + i)
			reply := h.roundTrip(t, nnfs.NewRequest(tt.op, id, nil))

			assert.Equal(t, nnfs.OpCodeFail, reply.OpCode)
			assert.Equal(t, id, reply.ID)
			assert.Equal(t, nnfs.StatusFailBadOpCode, reply.Status)
			assert.NotEmpty(t, reply.Payload, "failure replies carry a diagnostic")
		})
	}

	reply := h.roundTrip(t, nnfs.NewPingRequest(1))
	assert.Equal(t, nnfs.OpCodePong, reply.OpCode, "session survives unknown opcodes")
}

func TestSession_PingWithPayload(t *testing.T) {
	h := startSession(t, context.Background(), Config{})

	reply := h.roundTrip(t, nnfs.NewRequest(nnfs.OpCodePing, 3, []byte("ignored")))
	assert.Equal(t, nnfs.OpCodePong, reply.OpCode)
	assert.Equal(t, uint32(3), reply.ID)
	assert.Nil(t, reply.Payload)
}

func TestSession_MalformedFrameTerminates(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		NewHandler(Config{}).ServeConn(context.Background(), 0,
			transport.NewConn(serverSide, transport.Options{}))
	}()

	_, err := clientSide.Write([]byte{0, 0, 0, 1, 0, 0})
	require.NoError(t, err)
	require.NoError(t, clientSide.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate on a truncated frame")
	}
}

func TestSession_OversizedPayloadTerminates(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	done := make(chan struct{})

	go func() {
		defer close(done)
		NewHandler(Config{}).ServeConn(context.Background(), 0,
			transport.NewConn(serverSide, transport.Options{MaxPayloadSize: 4}))
	}()

	client := transport.NewConn(clientSide, transport.Options{})
	_, err := client.SendMessage(nnfs.NewRequest(nnfs.OpCodePing, 1, []byte("too long")))
	assert.Error(t, err, "server stops reading after the header")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate on an oversized payload")
	}
}

func TestSession_RateLimited(t *testing.T) {
	h := startSession(t, context.Background(), Config{
		Limiter: ratelimiter.New(1, 1),
	})

	reply := h.roundTrip(t, nnfs.NewPingRequest(1))
	assert.Equal(t, nnfs.OpCodePong, reply.OpCode)

	reply = h.roundTrip(t, nnfs.NewPingRequest(2))
	assert.Equal(t, nnfs.OpCodeFail, reply.OpCode)
	assert.Equal(t, nnfs.StatusFailRateLimited, reply.Status)
	assert.Equal(t, uint32(2), reply.ID)

	reply = h.roundTrip(t, nnfs.NewCloseRequest(3))
	assert.Equal(t, nnfs.OpCodeSuccess, reply.OpCode, "CLOSE_CONNECTION is never throttled")
	h.waitDone(t)
}

func TestSession_ContextCancelInterruptsIdleSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := startSession(t, ctx, Config{})

	reply := h.roundTrip(t, nnfs.NewPingRequest(1))
	require.Equal(t, nnfs.OpCodePong, reply.OpCode)

	cancel()
	h.waitDone(t)

	_, err := h.client.ReceiveMessage()
	assert.ErrorIs(t, err, io.EOF, "the server closes the connection on stop")
}

func TestSession_AlreadyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := startSession(t, ctx, Config{})
	h.waitDone(t)
}

func TestSession_SendFailureTerminates(t *testing.T) {
	h := startSession(t, context.Background(), Config{})

	_, err := h.client.SendMessage(nnfs.NewPingRequest(1))
	require.NoError(t, err)
	require.NoError(t, h.client.Close())

	h.waitDone(t)
}

type recordingMetrics struct {
	metrics.NNFSMetrics

	mu       sync.Mutex
	requests map[string]int
	inFlight map[string]int
	bytesIn  uint64
	bytesOut uint64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		NNFSMetrics: metrics.NewNoopNNFSMetrics(),
		requests:    make(map[string]int),
		inFlight:    make(map[string]int),
	}
}

func (m *recordingMetrics) RecordRequest(opcode, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[opcode+"/"+status]++
}

func (m *recordingMetrics) RecordRequestStart(opcode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[opcode]++
}

func (m *recordingMetrics) RecordRequestEnd(opcode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[opcode]--
}

func (m *recordingMetrics) RecordBytesTransferred(direction string, bytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if direction == "in" {
		m.bytesIn += bytes
	} else {
		m.bytesOut += bytes
	}
}

func TestSession_RecordsMetrics(t *testing.T) {
	m := newRecordingMetrics()
	h := startSession(t, context.Background(), Config{Metrics: m})

	h.roundTrip(t, nnfs.NewPingRequest(1))
	h.roundTrip(t, nnfs.NewRequest(nnfs.OpCode(42), 2, nil))
	h.roundTrip(t, nnfs.NewCloseRequest(3))
	h.waitDone(t)

	m.mu.Lock()
	defer m.mu.Unlock()

	assert.Equal(t, 1, m.requests["PING/OK"])
	assert.Equal(t, 1, m.requests["UNKNOWN/FAIL_BAD_OP_CODE"])
	assert.Equal(t, 1, m.requests["CLOSE_CONNECTION/OK"])
	for opcode, n := range m.inFlight {
		assert.Zero(t, n, "in-flight gauge for %s not balanced", opcode)
	}
	assert.Equal(t, uint64(3*nnfs.HeaderSize), m.bytesIn)
	assert.Greater(t, m.bytesOut, uint64(3*nnfs.HeaderSize), "FAIL reply carries a payload")
}

type panickingMetrics struct {
	metrics.NNFSMetrics
}

func (panickingMetrics) RecordRequestStart(string) {
	panic("collector exploded")
}

func TestSession_PanicIsRecovered(t *testing.T) {
	h := startSession(t, context.Background(), Config{
		Metrics: panickingMetrics{NNFSMetrics: metrics.NewNoopNNFSMetrics()},
	})

	_, err := h.client.SendMessage(nnfs.NewPingRequest(1))
	require.NoError(t, err)
	h.waitDone(t)

	_, err = h.client.ReceiveMessage()
	assert.ErrorIs(t, err, io.EOF, "connection is closed after a panic")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "AWAITING_REQUEST", StateAwaitingRequest.String())
	assert.Equal(t, "TERMINATED", StateTerminated.String())
}
