// Package client is a minimal NNFS client: it dials a server and issues
// one request at a time, matching each reply to its request id.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/nnfs/internal/protocol/nnfs"
	"github.com/marmos91/nnfs/internal/transport"
)

var (
	// ErrClosed is returned by requests issued after Close.
	ErrClosed = errors.New("client: closed")

	// ErrIDMismatch is returned when a reply does not carry the id of the
	// request it answers. The connection is unusable afterwards.
	ErrIDMismatch = errors.New("client: reply id mismatch")
)

// ReplyError describes a reply that is not the expected success for the
// request that was sent.
type ReplyError struct {
	Request nnfs.OpCode
	Reply   *nnfs.Message
}

func (e *ReplyError) Error() string {
	if e.Reply.OpCode == nnfs.OpCodeFail {
		if e.Reply.HasPayload() {
			return fmt.Sprintf("%s failed: %s: %s", e.Request, e.Reply.Status, e.Reply.Payload)
		}
		return fmt.Sprintf("%s failed: %s", e.Request, e.Reply.Status)
	}
	return fmt.Sprintf("%s: unexpected %s reply", e.Request, e.Reply.OpCode)
}

// Client is a connection to an NNFS server. Methods are safe for concurrent
// use; requests are serialized because the protocol allows a single
// outstanding request per connection.
type Client struct {
	mu     sync.Mutex
	conn   *transport.Conn
	nextID uint32
	closed bool
}

// Dial connects to address:port.
func Dial(ctx context.Context, address string, port int, opts transport.Options) (*Client, error) {
	conn, err := transport.Connect(ctx, address, port, opts)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, nextID: nnfs.StartingID}, nil
}

// Do sends one request and returns the server's reply, which may be a FAIL
// reply. If ctx ends while waiting, the connection is interrupted and can no
// longer be used.
func (c *Client) Do(ctx context.Context, op nnfs.OpCode, payload []byte) (*nnfs.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.do(ctx, op, payload)
}

func (c *Client) do(ctx context.Context, op nnfs.OpCode, payload []byte) (*nnfs.Message, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := c.nextID
	c.nextID++

	stop := context.AfterFunc(ctx, c.conn.Interrupt)
	defer stop()

	if _, err := c.conn.SendMessage(nnfs.NewRequest(op, id, payload)); err != nil {
		return nil, fmt.Errorf("send %s id=%d: %w", op, id, err)
	}

	reply, err := c.conn.ReceiveMessage()
	if err != nil {
		if errors.Is(err, transport.ErrInterrupted) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("receive reply to %s id=%d: %w", op, id, err)
	}

	if reply.ID != id {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrIDMismatch, id, reply.ID)
	}
	return reply, nil
}

// Ping sends a PING and returns the round-trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	reply, err := c.Do(ctx, nnfs.OpCodePing, nil)
	if err != nil {
		return 0, err
	}
	if reply.OpCode != nnfs.OpCodePong {
		return 0, &ReplyError{Request: nnfs.OpCodePing, Reply: reply}
	}
	return time.Since(start), nil
}

// Close asks the server to end the session, then releases the connection.
// The connection is released even if the handshake fails.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	reply, err := c.do(ctx, nnfs.OpCodeCloseConnection, nil)
	c.closed = true
	closeErr := c.conn.Close()

	if err != nil {
		return err
	}
	if reply.OpCode != nnfs.OpCodeSuccess {
		return &ReplyError{Request: nnfs.OpCodeCloseConnection, Reply: reply}
	}
	return closeErr
}

// Abort releases the connection without notifying the server.
func (c *Client) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return c.conn.Close()
}

// LocalAddr returns the client side address of the connection.
func (c *Client) LocalAddr() string {
	return c.conn.LocalAddr().String()
}
