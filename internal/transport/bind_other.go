//go:build !unix

package transport

import (
	"fmt"
	"net"
	"sync"
)

// Endpoint is a validated local address awaiting Listen.
//
// Without unix socket calls the bind and the listen happen together inside
// Listen, and the backlog is left to the OS.
type Endpoint struct {
	mu     sync.Mutex
	addr   *net.TCPAddr
	closed bool
}

// Bind validates address:port and records it for Listen.
func Bind(address string, port int) (*Endpoint, error) {
	ip, err := parseEndpoint(address, port)
	if err != nil {
		return nil, err
	}
	return &Endpoint{addr: &net.TCPAddr{IP: ip, Port: port}}, nil
}

// Addr returns the requested local address.
func (e *Endpoint) Addr() *net.TCPAddr {
	return e.addr
}

// Listen binds and listens on the recorded address.
func (e *Endpoint) Listen(opts ListenOptions) (*Listener, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	e.closed = true

	ln, err := net.Listen("tcp", e.addr.String())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", e.addr, err)
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		e.addr = tcpAddr
	}

	return newListener(ln, opts), nil
}

// Close marks the endpoint as unused.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
