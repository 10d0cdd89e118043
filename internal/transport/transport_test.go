package transport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nnfs/internal/protocol/nnfs"
)

func listenLoopback(t *testing.T, opts ListenOptions) *Listener {
	t.Helper()

	ep, err := Bind("127.0.0.1", 0)
	require.NoError(t, err)
	require.NotZero(t, ep.Addr().Port)

	ln, err := ep.Listen(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

// connectPair returns the client and server ends of a loopback TCP connection.
func connectPair(t *testing.T) (client, server *Conn) {
	t.Helper()
	return connectPairOn(t, listenLoopback(t, ListenOptions{Backlog: 4}))
}

// connectPairOn connects to ln and returns both ends.
func connectPairOn(t *testing.T, ln *Listener) (client, server *Conn) {
	t.Helper()

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, "127.0.0.1", ln.Port(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server = <-accepted:
		require.NotNil(t, server)
	case <-time.After(5 * time.Second):
		t.Fatal("accept did not return")
	}
	t.Cleanup(func() { _ = server.Close() })

	return client, server
}

func pipePair(opts Options) (*Conn, net.Conn) {
	local, remote := net.Pipe()
	return NewConn(local, opts), remote
}

func rawHeader(op nnfs.OpCode, id uint32, status nnfs.Status, length uint32) []byte {
	buf := make([]byte, nnfs.HeaderSize)
	binary.BigEndian.PutUint32(buf[0:], uint32(op))
	binary.BigEndian.PutUint32(buf[4:], id)
	binary.BigEndian.PutUint32(buf[8:], uint32(status))
	binary.BigEndian.PutUint32(buf[12:], length)
	return buf
}

func TestBind_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		address string
		port    int
		want    error
	}{
		{"hostname", "localhost", 0, ErrInvalidAddress},
		{"empty address", "", 0, ErrInvalidAddress},
		{"bad octet", "256.0.0.1", 0, ErrInvalidAddress},
		{"negative port", "127.0.0.1", -1, ErrInvalidPort},
		{"port overflow", "127.0.0.1", 65536, ErrInvalidPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := Bind(tt.address, tt.port)
			assert.Nil(t, ep)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBind_PortInUse(t *testing.T) {
	ln := listenLoopback(t, ListenOptions{})

	ep, err := Bind("127.0.0.1", ln.Port())
	if err == nil {
		_, err = ep.Listen(ListenOptions{})
	}
	assert.Error(t, err)
}

func TestEndpoint_ListenConsumes(t *testing.T) {
	ep, err := Bind("127.0.0.1", 0)
	require.NoError(t, err)

	ln, err := ep.Listen(ListenOptions{Backlog: 1})
	require.NoError(t, err)
	defer ln.Close()

	assert.Equal(t, ep.Addr().Port, ln.Port())

	_, err = ep.Listen(ListenOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, ep.Close())
}

func TestEndpoint_CloseUnused(t *testing.T) {
	ep, err := Bind("127.0.0.1", 0)
	require.NoError(t, err)

	require.NoError(t, ep.Close())
	require.NoError(t, ep.Close())

	_, err = ep.Listen(ListenOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestListener_CloseUnblocksAccept(t *testing.T) {
	ln := listenLoopback(t, ListenOptions{})

	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ln.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept still blocked after Close")
	}
}

func TestConnect_Refused(t *testing.T) {
	ep, err := Bind("127.0.0.1", 0)
	require.NoError(t, err)
	ln, err := ep.Listen(ListenOptions{})
	require.NoError(t, err)
	port := ln.Port()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Connect(ctx, "127.0.0.1", port, Options{})
	assert.Nil(t, conn)
	assert.Error(t, err)
}

func TestConnect_InvalidInput(t *testing.T) {
	ctx := context.Background()

	_, err := Connect(ctx, "example.invalid", 4242, Options{})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = Connect(ctx, "127.0.0.1", 0, Options{})
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestConn_RoundTripOverTCP(t *testing.T) {
	client, server := connectPair(t)

	assert.NotEqual(t, client.ID(), server.ID())

	n, err := client.SendMessage(nnfs.NewPingRequest(7))
	require.NoError(t, err)
	assert.Equal(t, nnfs.HeaderSize, n)

	got, err := server.ReceiveMessage()
	require.NoError(t, err)
	assert.Equal(t, nnfs.OpCodePing, got.OpCode)
	assert.Equal(t, uint32(7), got.ID)
	assert.False(t, got.HasPayload())

	reply := nnfs.NewFailReply(7, nnfs.StatusFailBadOpCode, "unknown opcode 255")
	n, err = server.SendMessage(reply)
	require.NoError(t, err)
	assert.Equal(t, nnfs.HeaderSize+len(reply.Payload), n)

	got, err = client.ReceiveMessage()
	require.NoError(t, err)
	assert.Equal(t, nnfs.OpCodeFail, got.OpCode)
	assert.Equal(t, nnfs.StatusFailBadOpCode, got.Status)
	assert.Equal(t, "unknown opcode 255", string(got.Payload))
}

func TestConn_ShutdownDeliversPendingFrameThenEOF(t *testing.T) {
	client, server := connectPair(t)

	_, err := server.SendMessage(nnfs.NewSuccessReply(9))
	require.NoError(t, err)
	require.NoError(t, server.Shutdown())

	got, err := client.ReceiveMessage()
	require.NoError(t, err)
	assert.Equal(t, nnfs.OpCodeSuccess, got.OpCode)
	assert.Equal(t, uint32(9), got.ID)

	_, err = client.ReceiveMessage()
	assert.ErrorIs(t, err, io.EOF)

	_, err = server.SendMessage(nnfs.NewPongReply(1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = server.ReceiveMessage()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConn_ReceiveFragmented(t *testing.T) {
	conn, remote := pipePair(Options{})
	defer conn.Close()
	defer remote.Close()

	frame, err := nnfs.Encode(nnfs.NewRequest(nnfs.OpCodePing, 3, []byte("hello")))
	require.NoError(t, err)

	go func() {
		for i := range frame {
			if _, err := remote.Write(frame[i : i+1]); err != nil {
				return
			}
		}
	}()

	got, err := conn.ReceiveMessage()
	require.NoError(t, err)
	assert.Equal(t, nnfs.OpCodePing, got.OpCode)
	assert.Equal(t, uint32(3), got.ID)
	assert.Equal(t, []byte("hello"), got.Payload)
}

func TestConn_ReceiveBackToBackFrames(t *testing.T) {
	conn, remote := pipePair(Options{})
	defer conn.Close()
	defer remote.Close()

	first, err := nnfs.Encode(nnfs.NewRequest(nnfs.OpCodePing, 1, []byte("ab")))
	require.NoError(t, err)
	second, err := nnfs.Encode(nnfs.NewCloseRequest(2))
	require.NoError(t, err)

	go func() {
		_, _ = remote.Write(append(first, second...))
	}()

	got, err := conn.ReceiveMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.ID)
	assert.Equal(t, []byte("ab"), got.Payload)

	got, err = conn.ReceiveMessage()
	require.NoError(t, err)
	assert.Equal(t, nnfs.OpCodeCloseConnection, got.OpCode)
	assert.Equal(t, uint32(2), got.ID)
}

func TestConn_ReceivePayloadTooLarge(t *testing.T) {
	conn, remote := pipePair(Options{MaxPayloadSize: 8})
	defer conn.Close()
	defer remote.Close()

	go func() {
		_, _ = remote.Write(rawHeader(nnfs.OpCodePing, 1, nnfs.StatusOK, 9))
	}()

	_, err := conn.ReceiveMessage()
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestConn_ReceiveTruncated(t *testing.T) {
	t.Run("mid header", func(t *testing.T) {
		conn, remote := pipePair(Options{})
		defer conn.Close()

		go func() {
			_, _ = remote.Write(rawHeader(nnfs.OpCodePing, 1, nnfs.StatusOK, 0)[:10])
			_ = remote.Close()
		}()

		_, err := conn.ReceiveMessage()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("before payload", func(t *testing.T) {
		conn, remote := pipePair(Options{})
		defer conn.Close()

		go func() {
			_, _ = remote.Write(rawHeader(nnfs.OpCodePing, 1, nnfs.StatusOK, 4))
			_ = remote.Close()
		}()

		_, err := conn.ReceiveMessage()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestConn_ReceiveCleanEOF(t *testing.T) {
	conn, remote := pipePair(Options{})
	defer conn.Close()

	require.NoError(t, remote.Close())

	_, err := conn.ReceiveMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConn_ReceiveCleanEOFWithTimeouts(t *testing.T) {
	// net.Pipe rejects deadlines once the peer has closed; the read still
	// has to report the clean close.
	conn, remote := pipePair(Options{IdleTimeout: time.Minute, ReadTimeout: time.Minute})
	defer conn.Close()

	require.NoError(t, remote.Close())

	_, err := conn.ReceiveMessage()
	assert.ErrorIs(t, err, io.EOF)
	assert.NotContains(t, err.Error(), "deadline")

	_, err = conn.ReceiveMessage()
	assert.ErrorIs(t, err, io.EOF, "repeated receives keep reporting EOF")
}

func TestConn_IdleTimeout(t *testing.T) {
	conn, remote := pipePair(Options{IdleTimeout: 30 * time.Millisecond})
	defer conn.Close()
	defer remote.Close()

	_, err := conn.ReceiveMessage()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInterrupted)

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestConn_InterruptUnblocksReceive(t *testing.T) {
	conn, remote := pipePair(Options{})
	defer conn.Close()
	defer remote.Close()

	done := make(chan error, 1)
	go func() {
		_, err := conn.ReceiveMessage()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	conn.Interrupt()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(2 * time.Second):
		t.Fatal("ReceiveMessage still blocked after Interrupt")
	}
}

func TestConn_InterruptBeforeReceive(t *testing.T) {
	conn, remote := pipePair(Options{IdleTimeout: time.Minute})
	defer conn.Close()
	defer remote.Close()

	conn.Interrupt()

	_, err := conn.ReceiveMessage()
	assert.ErrorIs(t, err, ErrInterrupted)
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	conn, remote := pipePair(Options{})
	defer remote.Close()

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	_, err := conn.SendMessage(nnfs.NewPingRequest(1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestListener_MaxConnections(t *testing.T) {
	ln := listenLoopback(t, ListenOptions{MaxConnections: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := Connect(ctx, "127.0.0.1", ln.Port(), Options{})
	require.NoError(t, err)
	defer first.Close()
	second, err := Connect(ctx, "127.0.0.1", ln.Port(), Options{})
	require.NoError(t, err)
	defer second.Close()

	accepted, err := ln.Accept()
	require.NoError(t, err)

	next := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			next <- c
		}
	}()

	select {
	case <-next:
		t.Fatal("second connection accepted while the cap was reached")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, accepted.Close())

	select {
	case c := <-next:
		_ = c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not resume after a slot was released")
	}
}
