package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/net/netutil"
)

// Listener accepts NNFS connections.
type Listener struct {
	ln       net.Listener
	connOpts Options
}

func newListener(ln net.Listener, opts ListenOptions) *Listener {
	if opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, opts.MaxConnections)
	}
	opts.Conn.applyDefaults()

	return &Listener{
		ln:       ln,
		connOpts: opts.Conn,
	}
}

// Accept blocks until a client connects and returns the new connection.
//
// Returns ErrClosed once the listener has been closed; any other error
// concerns only the connection being accepted and the caller may keep
// accepting.
func (l *Listener) Accept() (*Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	return NewConn(c, l.connOpts), nil
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Port returns the listening TCP port, or 0 if unknown.
func (l *Listener) Port() int {
	if addr, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Close stops listening. Goroutines blocked in Accept return ErrClosed.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Connect dials address:port and returns the established connection.
//
// It fails as soon as the OS reports the connect failure (refused,
// unreachable). ctx bounds the dial; no other timeout is applied.
func Connect(ctx context.Context, address string, port int, opts Options) (*Conn, error) {
	if _, err := parseEndpoint(address, port); err != nil {
		return nil, err
	}
	if port == 0 {
		return nil, fmt.Errorf("%w: cannot connect to port 0", ErrInvalidPort)
	}

	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", hostPort(address, port))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", hostPort(address, port), err)
	}

	return NewConn(c, opts), nil
}
