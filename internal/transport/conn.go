package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/nnfs/internal/protocol/nnfs"
)

// aLongTimeAgo is a deadline that has always expired. Setting it as the
// read deadline unblocks a pending Read immediately.
var aLongTimeAgo = time.Unix(1, 0)

// Conn is an established NNFS connection.
//
// One goroutine at a time may send and receive on a Conn. Interrupt and
// Close are safe to call from any goroutine.
type Conn struct {
	conn net.Conn
	opts Options
	id   string

	interrupted atomic.Bool
	shut        atomic.Bool
	closeOnce   sync.Once

	header [nnfs.HeaderSize]byte
}

// NewConn wraps an established stream. Any net.Conn works, which lets tests
// drive a Conn over net.Pipe.
func NewConn(c net.Conn, opts Options) *Conn {
	opts.applyDefaults()
	return &Conn{
		conn: c,
		opts: opts,
		id:   uuid.NewString(),
	}
}

// ID returns a unique identifier for this connection, used in logs.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// SendMessage writes msg as one frame, looping until every byte is written.
// It returns the number of bytes written, which on failure may be fewer than
// the frame size.
func (c *Conn) SendMessage(msg *nnfs.Message) (int, error) {
	if c.shut.Load() {
		return 0, ErrClosed
	}

	frame, err := nnfs.Encode(msg)
	if err != nil {
		return 0, err
	}

	if c.opts.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return 0, fmt.Errorf("set write deadline: %w", err)
		}
	}

	written := 0
	for written < len(frame) {
		n, err := c.conn.Write(frame[written:])
		written += n
		if err != nil {
			return written, fmt.Errorf("write frame: %w", err)
		}
		if n == 0 {
			return written, fmt.Errorf("write frame: %w", io.ErrShortWrite)
		}
	}

	return written, nil
}

// ReceiveMessage reads one complete frame: first the fixed header, then
// exactly PayloadLength payload bytes, however the stream fragments them.
//
// Returns io.EOF if the peer closed the connection cleanly before a header
// started, io.ErrUnexpectedEOF if it closed mid-frame, ErrPayloadTooLarge if
// the announced payload exceeds the limit, and ErrInterrupted once Interrupt
// has been called.
func (c *Conn) ReceiveMessage() (*nnfs.Message, error) {
	if c.shut.Load() {
		return nil, ErrClosed
	}

	if err := c.armReadDeadline(c.opts.IdleTimeout); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(c.conn, c.header[:]); err != nil {
		return nil, c.readError(err)
	}

	partial, err := nnfs.DecodeHeader(c.header[:])
	if err != nil {
		return nil, err
	}

	if partial.PayloadLength == 0 {
		return nnfs.DecodePayload(nil, partial)
	}
	if partial.PayloadLength > c.opts.MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes announced, limit %d",
			ErrPayloadTooLarge, partial.PayloadLength, c.opts.MaxPayloadSize)
	}

	if err := c.armReadDeadline(c.opts.ReadTimeout); err != nil {
		return nil, err
	}
	payload := make([]byte, partial.PayloadLength)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, c.readError(err)
	}

	return nnfs.DecodePayload(payload, partial)
}

// armReadDeadline sets the read deadline, then checks for a pending
// Interrupt. Interrupt stores its flag before expiring the deadline, so a
// deadline set here cannot hide an Interrupt from the subsequent read.
//
// A failed SetReadDeadline is not reported: it only fails on a connection
// that is already closed, and the read that follows returns the error that
// describes why (io.EOF when the peer closed cleanly).
func (c *Conn) armReadDeadline(d time.Duration) error {
	var deadline time.Time
	if d > 0 {
		deadline = time.Now().Add(d)
	}
	_ = c.conn.SetReadDeadline(deadline)
	if c.interrupted.Load() {
		return ErrInterrupted
	}
	return nil
}

func (c *Conn) readError(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) && c.interrupted.Load() {
		return ErrInterrupted
	}
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return fmt.Errorf("read frame: %w", err)
}

// Interrupt makes a pending or future ReceiveMessage return ErrInterrupted.
// It does not close the connection; sends still work.
func (c *Conn) Interrupt() {
	c.interrupted.Store(true)
	_ = c.conn.SetReadDeadline(aLongTimeAgo)
}

// Shutdown disables further sends and receives. On TCP both directions are
// half-closed, so the peer reads EOF after any frame already written.
func (c *Conn) Shutdown() error {
	if c.shut.Swap(true) {
		return nil
	}

	type halfCloser interface {
		CloseRead() error
		CloseWrite() error
	}
	hc, ok := c.conn.(halfCloser)
	if !ok {
		return nil
	}
	return errors.Join(hc.CloseWrite(), hc.CloseRead())
}

// Close releases the connection. Only the first call reports an error.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.shut.Store(true)
		err = c.conn.Close()
	})
	return err
}
