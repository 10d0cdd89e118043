//go:build unix

package transport

import (
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Endpoint is a socket bound to a local address that is not yet listening.
//
// Binding and listening are separate steps so that address errors surface
// before any worker starts, and so that the listen backlog can be chosen
// independently of the bind. An Endpoint is consumed by a successful Listen.
type Endpoint struct {
	mu     sync.Mutex
	fd     int
	addr   *net.TCPAddr
	closed bool
}

// Bind creates a TCP socket and binds it to address:port.
//
// address must be a literal IPv4 or IPv6 address. Port 0 lets the OS pick a
// free port; Addr reports the port actually bound.
//
// Returns ErrInvalidAddress or ErrInvalidPort for malformed input, or the
// wrapped OS error (EADDRINUSE, EACCES, EADDRNOTAVAIL...) if the bind fails.
//
// The socket gets SO_REUSEADDR, as net.Listen does, so a port whose previous
// listener left connections in TIME_WAIT can be bound again at once. A port
// held by a listening socket still fails here with EADDRINUSE. Two sockets
// that are both bound but not yet listening may share a port on Linux; the
// second one to Listen then fails with EADDRINUSE.
func Bind(address string, port int) (*Endpoint, error) {
	ip, err := parseEndpoint(address, port)
	if err != nil {
		return nil, err
	}

	family := unix.AF_INET6
	var sa unix.Sockaddr
	if ip4 := ip.To4(); ip4 != nil {
		family = unix.AF_INET
		sa4 := &unix.SockaddrInet4{Port: port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: port}
		copy(sa6.Addr[:], ip.To16())
		sa = sa6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("create socket: %w", os.NewSyscallError("socket", err))
	}
	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set SO_REUSEADDR: %w", os.NewSyscallError("setsockopt", err))
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", hostPort(address, port), os.NewSyscallError("bind", err))
	}

	addr := &net.TCPAddr{IP: ip, Port: port}
	if bound, err := unix.Getsockname(fd); err == nil {
		switch s := bound.(type) {
		case *unix.SockaddrInet4:
			addr.Port = s.Port
		case *unix.SockaddrInet6:
			addr.Port = s.Port
		}
	}

	return &Endpoint{fd: fd, addr: addr}, nil
}

// Addr returns the bound local address.
func (e *Endpoint) Addr() *net.TCPAddr {
	return e.addr
}

// Listen marks the bound socket as passive and returns a Listener ready to
// accept. The backlog bounds the OS-level queue of pending connections.
//
// The Endpoint is consumed: after Listen returns, successfully or not,
// further calls fail with ErrClosed and Close is a no-op.
func (e *Endpoint) Listen(opts ListenOptions) (*Listener, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	e.closed = true

	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}

	if err := unix.Listen(e.fd, backlog); err != nil {
		_ = unix.Close(e.fd)
		return nil, fmt.Errorf("listen %s: %w", e.addr, os.NewSyscallError("listen", err))
	}

	// net.FileListener duplicates the descriptor, so the original is
	// closed together with f.
	f := os.NewFile(uintptr(e.fd), "nnfs-listener")
	ln, err := net.FileListener(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", e.addr, err)
	}

	return newListener(ln, opts), nil
}

// Close releases a socket that was bound but never listened on.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return unix.Close(e.fd)
}
