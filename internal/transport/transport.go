// Package transport owns NNFS TCP endpoints: binding and listening on the
// server side, dialing on the client side, and exchanging framed messages on
// an established connection.
//
// Every operation blocks the calling goroutine. None of them may be called
// concurrently on the same Conn, except Interrupt and Close.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/marmos91/nnfs/internal/protocol/nnfs"
)

var (
	// ErrInvalidAddress is returned when a bind or connect address is not a
	// literal IPv4 or IPv6 address.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrInvalidPort is returned when a port is outside 0-65535.
	ErrInvalidPort = errors.New("transport: invalid port")

	// ErrPayloadTooLarge is returned when a received header announces a
	// payload bigger than Options.MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("transport: payload too large")

	// ErrInterrupted is returned by ReceiveMessage after Interrupt was called.
	ErrInterrupted = errors.New("transport: receive interrupted")

	// ErrClosed is returned when an operation is attempted on a closed
	// endpoint or listener.
	ErrClosed = errors.New("transport: use of closed endpoint")
)

// Options controls per-connection I/O limits. Zero durations disable the
// corresponding deadline.
type Options struct {
	// IdleTimeout bounds the wait for the next request header.
	IdleTimeout time.Duration

	// ReadTimeout bounds reading a payload once its header has arrived.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing one complete frame.
	WriteTimeout time.Duration

	// MaxPayloadSize is the largest payload ReceiveMessage accepts.
	// 0 means nnfs.DefaultMaxPayloadSize.
	MaxPayloadSize uint32
}

func (o *Options) applyDefaults() {
	if o.MaxPayloadSize == 0 {
		o.MaxPayloadSize = nnfs.DefaultMaxPayloadSize
	}
}

// ListenOptions controls the listening socket.
type ListenOptions struct {
	// Backlog bounds the OS queue of connections awaiting Accept.
	// Values <= 0 use the OS default.
	Backlog int

	// MaxConnections caps the number of accepted connections open at once.
	// Accept blocks while the cap is reached. 0 means unlimited.
	MaxConnections int

	// Conn options applied to every accepted connection.
	Conn Options
}

// parseEndpoint validates an address/port pair and returns the IP.
func parseEndpoint(address string, port int) (net.IP, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return ip, nil
}

func hostPort(address string, port int) string {
	return net.JoinHostPort(address, strconv.Itoa(port))
}
