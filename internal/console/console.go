package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/nnfs/internal/logger"
)

// Menu is printed on start and by the help command.
const Menu = `MENU: write one whole command, e.g. bind 0.0.0.0:24004
  bind <ip>:<port>   bind the server socket
  start <workers>    start serving with 1-16 workers
  stop               stop serving
  status             show server load
  help               show this menu
  quit               stop serving and exit
`

// StopTimeout bounds the Stop call issued by stop, quit and end of input.
var StopTimeout = 30 * time.Second

// Target is the server a console drives.
type Target interface {
	Bind(address string, port int) error
	Start(ctx context.Context, workers int) error
	Stop(ctx context.Context) error
	Ready() <-chan struct{}

	Addr() string
	Workers() int
	GetActiveConnections() int32
	PendingJobs() int
	IdleWorkers() int
}

// NewTargetFunc creates an unbound Target. A Target serves once, so the
// console asks for a new one when bind or start follows a stopped server.
type NewTargetFunc func() (Target, error)

type console struct {
	newTarget NewTargetFunc
	target    Target

	// bound is the last successful bind, reapplied to a renewed target.
	bound *BindCommand

	outMu sync.Mutex
	out   io.Writer

	// serving is set by the first Start of target and closed when that Start
	// returns. A closed serving channel marks target as used up.
	serving chan struct{}
}

// Run reads commands from in until quit, end of input or ctx ends, and
// writes results to out. A running server is stopped before Run returns.
func Run(ctx context.Context, in io.Reader, out io.Writer, newTarget NewTargetFunc) error {
	target, err := newTarget()
	if err != nil {
		return fmt.Errorf("console: create server: %w", err)
	}

	c := &console{newTarget: newTarget, target: target, out: out}
	c.printf("%s", Menu)

	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	defer c.close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("console input: %w", err)
			}
			return nil
		case line := <-lines:
			if !c.execute(ctx, line) {
				return nil
			}
		}
	}
}

// execute runs one line and reports whether the console keeps going.
func (c *console) execute(ctx context.Context, line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}

	cmd, err := Parse(line)
	if err != nil {
		c.printf("ERROR: %v\n", err)
		return true
	}

	logger.Debug("Console command: %s", cmd.Name())

	switch cmd := cmd.(type) {
	case BindCommand:
		if c.running() {
			c.printf("ERROR: server is running, stop it before binding\n")
			return true
		}
		if err := c.renew(false); err != nil {
			c.printf("ERROR: %v\n", err)
			return true
		}
		if err := c.target.Bind(cmd.Address, cmd.Port); err != nil {
			c.printf("ERROR: error binding: %v\n", err)
			return true
		}
		c.bound = &cmd
		c.printf("SUCCESS: bound to %s\n", c.target.Addr())

	case StartCommand:
		c.start(ctx, cmd.Workers)

	case StopCommand:
		if !c.running() {
			c.printf("ERROR: server is not running\n")
			return true
		}
		c.shutdown()

	case StatusCommand:
		c.printStatus()

	case HelpCommand:
		c.printf("%s", Menu)

	case QuitCommand:
		c.printf("STATUS: quitting\n")
		return false
	}
	return true
}

func (c *console) start(ctx context.Context, workers int) {
	if c.running() {
		c.printf("ERROR: server is already running\n")
		return
	}
	if err := c.renew(true); err != nil {
		c.printf("ERROR: %v\n", err)
		return
	}

	target := c.target
	serving := make(chan struct{})
	c.serving = serving

	go func() {
		defer close(serving)
		if err := target.Start(ctx, workers); err != nil {
			c.printf("ERROR: server stopped: %v\n", err)
			return
		}
		c.printf("STATUS: server stopped\n")
	}()

	// Start blocks while serving; a failed start returns before Ready.
	select {
	case <-serving:
		return
	case <-target.Ready():
	}

	c.printf("SUCCESS: started listening on %s with %d workers\n", target.Addr(), target.Workers())
}

// shutdown stops a running server and waits for Start to return.
func (c *console) shutdown() {
	if !c.running() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()

	if err := c.target.Stop(ctx); err != nil {
		c.printf("ERROR: stop: %v\n", err)
	}
	<-c.serving
}

// close stops a running server, or releases the socket of a target that
// was bound but never started.
func (c *console) close() {
	if c.serving != nil {
		c.shutdown()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	_ = c.target.Stop(ctx)
}

// renew replaces a target whose Start has returned with a fresh one. With
// rebind set, the fresh target is bound to the last bound address.
func (c *console) renew(rebind bool) error {
	if c.serving == nil {
		return nil
	}

	target, err := c.newTarget()
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	_ = c.target.Stop(ctx)

	c.target = target
	c.serving = nil

	if rebind && c.bound != nil {
		if err := c.target.Bind(c.bound.Address, c.bound.Port); err != nil {
			return fmt.Errorf("error binding: %w", err)
		}
	}
	return nil
}

func (c *console) printStatus() {
	addr := c.target.Addr()
	if addr == "" {
		addr = "unbound"
	}

	state := "stopped"
	if c.running() {
		state = "running"
	}

	c.printf("STATUS: %s on %s, workers=%d idle=%d active_connections=%d pending_jobs=%d\n",
		state, addr, c.target.Workers(), c.target.IdleWorkers(),
		c.target.GetActiveConnections(), c.target.PendingJobs())
}

func (c *console) running() bool {
	if c.serving == nil {
		return false
	}
	select {
	case <-c.serving:
		return false
	default:
		return true
	}
}

func (c *console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}
