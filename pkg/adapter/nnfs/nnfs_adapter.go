package nnfs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/nnfs/internal/logger"
	"github.com/marmos91/nnfs/internal/queue"
	"github.com/marmos91/nnfs/internal/ratelimiter"
	"github.com/marmos91/nnfs/internal/session"
	"github.com/marmos91/nnfs/internal/transport"
	"github.com/marmos91/nnfs/internal/worker"
	"github.com/marmos91/nnfs/pkg/metrics"
)

var (
	// ErrInvalidPoolSize is returned when the worker count is outside 1-MaxWorkers.
	ErrInvalidPoolSize = errors.New("nnfs: invalid worker pool size")

	// ErrNotBound is returned by Start when Bind has not succeeded first.
	ErrNotBound = errors.New("nnfs: adapter is not bound")

	// ErrAlreadyStarted is returned by Bind and Start once Start has run.
	ErrAlreadyStarted = errors.New("nnfs: adapter already started")

	// ErrStopped is returned when the adapter has been stopped.
	ErrStopped = errors.New("nnfs: adapter stopped")
)

// NNFSAdapter implements the adapter.Adapter interface for the NNFS protocol.
//
// Architecture:
// A single accept loop pushes every accepted connection onto a job queue.
// A fixed pool of workers pops connections and runs the request loop on
// each until it terminates, then pops the next one. Connections beyond the
// pool size wait in the queue; the pool never grows.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. Job queue closed (workers exit once it is empty)
//  4. shutdownCtx cancelled: idle sessions are interrupted, a request being
//     dispatched still gets its reply, queued connections are closed unserved
//  5. Wait for workers to exit (up to ShutdownTimeout)
//  6. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. The shutdown mechanism uses sync.Once
// to ensure idempotent behavior even if Stop() is called multiple times.
type NNFSAdapter struct {
	// config holds the server configuration (address, workers, timeouts)
	config NNFSConfig

	// handler runs the request loop on each connection
	handler *session.Handler

	// metrics provides optional Prometheus metrics collection
	metrics metrics.NNFSMetrics

	// mu protects the fields below up to started
	mu       sync.Mutex
	endpoint *transport.Endpoint
	listener *transport.Listener
	jobs     *queue.Queue[*transport.Conn]
	pool     *worker.Pool
	started  bool

	// ready is closed once the accept loop is running
	ready     chan struct{}
	readyOnce sync.Once

	// done is closed when Start returns after having started
	done chan struct{}

	// shutdownOnce ensures shutdown is only initiated once
	shutdownOnce sync.Once

	// shutdown signals that graceful shutdown has been initiated
	shutdown chan struct{}

	// shutdownCtx is handed to every session and cancelled during shutdown
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// connCount tracks the number of accepted connections not yet closed,
	// whether queued or being served
	connCount atomic.Int32

	// activeConnections maps connection IDs to *transport.Conn for forced
	// closure at the end of the shutdown timeout
	activeConnections sync.Map
}

// New creates a new NNFSAdapter with the specified configuration.
//
// The adapter is created in a stopped state. Call Serve() or, for explicit
// control, Bind() then Start().
//
// Zero values in config are replaced with defaults. A nil nnfsMetrics
// disables metrics.
func New(config NNFSConfig, nnfsMetrics metrics.NNFSMetrics) (*NNFSAdapter, error) {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid NNFS config: %w", err)
	}

	if nnfsMetrics == nil {
		nnfsMetrics = metrics.NewNoopNNFSMetrics()
	}

	var limiter session.RequestLimiter
	if rl := config.RateLimit; rl.RequestsPerSecond > 0 {
		if rl.PerClient {
			limiter = ratelimiter.NewPerClient(rl.RequestsPerSecond, rl.Burst)
		} else {
			limiter = ratelimiter.New(rl.RequestsPerSecond, rl.Burst)
		}
		logger.Debug("NNFS rate limit: %d req/s burst=%d per_client=%t",
			rl.RequestsPerSecond, rl.Burst, rl.PerClient)
	}

	if config.MaxConnections > 0 {
		logger.Debug("NNFS connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("NNFS connection limit: unlimited")
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &NNFSAdapter{
		config: config,
		handler: session.NewHandler(session.Config{
			Limiter: limiter,
			Metrics: nnfsMetrics,
		}),
		metrics:        nnfsMetrics,
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}, nil
}

// Bind validates address:port and binds a socket to it without listening.
//
// Bind may be repeated before Start; the previous socket is released first.
// Returns ErrAlreadyStarted after Start and ErrStopped after shutdown.
func (s *NNFSAdapter) Bind(address string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isShuttingDown() {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}

	if s.endpoint != nil {
		_ = s.endpoint.Close()
		s.endpoint = nil
	}

	ep, err := transport.Bind(address, port)
	if err != nil {
		logger.Error("NNFS bind to %s failed: %v", net.JoinHostPort(address, fmt.Sprint(port)), err)
		return err
	}

	s.endpoint = ep
	logger.Info("NNFS bound to %s", ep.Addr())
	return nil
}

// Start launches workers, starts listening on the bound socket and runs
// the accept loop until shutdown. It blocks.
//
// workers must be within 1-MaxWorkers; otherwise ErrInvalidPoolSize is
// returned and nothing changes. Bind must have succeeded first.
//
// Returns nil after a graceful shutdown, or an error if startup failed or
// connections had to be force-closed.
func (s *NNFSAdapter) Start(ctx context.Context, workers int) error {
	if err := validatePoolSize(workers); err != nil {
		return err
	}

	s.mu.Lock()
	if s.isShuttingDown() {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if s.endpoint == nil {
		s.mu.Unlock()
		return ErrNotBound
	}

	s.started = true
	defer close(s.done)

	ep := s.endpoint
	s.endpoint = nil

	jobs := queue.New[*transport.Conn]()
	pool, err := worker.New(workers, jobs, worker.HandlerFunc(s.serveConn))
	if err != nil {
		s.mu.Unlock()
		_ = ep.Close()
		return err
	}
	if err := pool.Start(s.shutdownCtx); err != nil {
		s.mu.Unlock()
		_ = ep.Close()
		return err
	}

	backlog := s.config.Backlog
	if backlog == 0 {
		backlog = workers
	}

	listener, err := ep.Listen(transport.ListenOptions{
		Backlog:        backlog,
		MaxConnections: s.config.MaxConnections,
		Conn:           s.config.connOptions(),
	})
	if err != nil {
		s.mu.Unlock()
		jobs.Close()
		pool.Wait()
		return fmt.Errorf("failed to create NNFS listener on %s: %w", ep.Addr(), err)
	}

	s.listener = listener
	s.jobs = jobs
	s.pool = pool
	s.mu.Unlock()

	logger.Info("NNFS server listening on %s", listener.Addr())
	logger.Debug("NNFS config: workers=%d backlog=%d max_connections=%d read_timeout=%v write_timeout=%v idle_timeout=%v",
		workers, backlog, s.config.MaxConnections, s.config.ReadTimeout, s.config.WriteTimeout, s.config.IdleTimeout)

	// Monitor context cancellation in separate goroutine
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("NNFS shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(s.shutdownCtx)
	}

	s.readyOnce.Do(func() { close(s.ready) })

	return s.acceptLoop()
}

// ListenAndServe binds address:port and runs Start with the given worker
// count. The worker count is validated before binding.
func (s *NNFSAdapter) ListenAndServe(ctx context.Context, address string, port int, workers int) error {
	if err := validatePoolSize(workers); err != nil {
		return err
	}
	if err := s.Bind(address, port); err != nil {
		return err
	}
	return s.Start(ctx, workers)
}

// Serve starts the NNFS server on the configured address, port and worker
// count, and blocks until the context is cancelled or an unrecoverable
// error occurs.
//
// This implements the adapter.Adapter interface.
func (s *NNFSAdapter) Serve(ctx context.Context) error {
	return s.ListenAndServe(ctx, s.config.Address, s.config.Port, s.config.Workers)
}

func validatePoolSize(workers int) error {
	if workers < 1 || workers > MaxWorkers {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidPoolSize, workers, MaxWorkers)
	}
	return nil
}

// acceptLoop accepts connections and queues them for the workers until the
// listener is closed.
func (s *NNFSAdapter) acceptLoop() error {
	var tempDelay time.Duration

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
			}

			if errors.Is(err, transport.ErrClosed) {
				logger.Error("NNFS listener closed unexpectedly")
				s.initiateShutdown()
				return s.gracefulShutdown()
			}

			// Per-connection failure (resource exhaustion, aborted
			// handshake): log and keep accepting, backing off so a
			// persistent condition does not spin.
			s.metrics.RecordAcceptError()
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay = min(2*tempDelay, time.Second)
			}
			logger.Warn("Error accepting NNFS connection: %v; retrying in %v", err, tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		s.trackConn(conn)

		if err := s.jobs.Push(conn); err != nil {
			// Queue closed: shutdown started between Accept and Push.
			logger.Debug("Dropping connection from %s: %v", conn.RemoteAddr(), err)
			_ = conn.Close()
			s.untrackConn(conn)
			continue
		}
		s.metrics.SetPendingJobs(s.jobs.Len())
	}
}

// serveConn is the worker handler: it runs the request loop on conn
// unless the server is already stopping.
func (s *NNFSAdapter) serveConn(ctx context.Context, workerID int, conn *transport.Conn) {
	defer s.untrackConn(conn)

	s.metrics.SetPendingJobs(s.jobs.Len())

	if ctx.Err() != nil {
		logger.Debug("Worker %d: closing queued connection from %s unserved: server stopping",
			workerID, conn.RemoteAddr())
		_ = conn.Close()
		return
	}

	s.handler.ServeConn(ctx, workerID, conn)
}

func (s *NNFSAdapter) trackConn(conn *transport.Conn) {
	s.activeConnections.Store(conn.ID(), conn)
	current := s.connCount.Add(1)

	s.metrics.RecordConnectionAccepted()
	s.metrics.SetActiveConnections(current)

	logger.Info("Client %s connected (session %s, active: %d)", conn.RemoteAddr(), conn.ID(), current)
}

func (s *NNFSAdapter) untrackConn(conn *transport.Conn) {
	if _, ok := s.activeConnections.LoadAndDelete(conn.ID()); !ok {
		return
	}
	current := s.connCount.Add(-1)

	s.metrics.RecordConnectionClosed()
	s.metrics.SetActiveConnections(current)

	logger.Debug("NNFS connection closed from %s (active: %d)", conn.RemoteAddr(), current)
}

func (s *NNFSAdapter) isShuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// initiateShutdown signals the server to begin graceful shutdown.
//
// Shutdown sequence:
//  1. Close shutdown channel (signals accept loop to stop)
//  2. Close listener (stops accepting new connections)
//  3. Close the job queue and close every connection still waiting in it
//  4. Cancel shutdownCtx (sessions stop after their current request)
//
// Thread safety:
// Safe to call multiple times and from multiple goroutines.
func (s *NNFSAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("NNFS shutdown initiated")

		close(s.shutdown)

		s.mu.Lock()
		listener, jobs, endpoint := s.listener, s.jobs, s.endpoint
		s.endpoint = nil
		s.mu.Unlock()

		if listener != nil {
			if err := listener.Close(); err != nil {
				logger.Debug("Error closing NNFS listener: %v", err)
			}
		}
		if endpoint != nil {
			_ = endpoint.Close()
		}
		if jobs != nil {
			jobs.Close()
			s.closeQueued(jobs.Drain())
		}

		s.cancelRequests()
		logger.Debug("NNFS stop signal sent to all sessions")
	})
}

// closeQueued closes connections that were accepted but never reached a
// worker.
func (s *NNFSAdapter) closeQueued(conns []*transport.Conn) {
	for _, conn := range conns {
		logger.Debug("Closing queued connection from %s unserved: server stopping", conn.RemoteAddr())
		_ = conn.Close()
		s.untrackConn(conn)
	}
	s.metrics.SetPendingJobs(0)
}

// gracefulShutdown waits for workers to finish or the shutdown timeout.
//
// Returns:
//   - nil if all sessions completed gracefully
//   - error if the timeout was exceeded and connections were force-closed
func (s *NNFSAdapter) gracefulShutdown() error {
	logger.Info("NNFS graceful shutdown: waiting for %d busy worker(s) (timeout: %v)",
		s.pool.Busy(), s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.pool.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("NNFS graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("NNFS shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)

		s.forceCloseConnections()

		// Closed sockets fail every pending read and write, so workers
		// exit promptly.
		select {
		case <-done:
		case <-time.After(time.Second):
			logger.Warn("NNFS workers still running after force-close")
		}

		return fmt.Errorf("NNFS shutdown timeout: %d connections force-closed", remaining)
	}
}

// forceCloseConnections closes every tracked connection, queued or served.
func (s *NNFSAdapter) forceCloseConnections() {
	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		conn := value.(*transport.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection %s: %v", key, err)
		} else {
			closedCount++
			s.metrics.RecordConnectionForceClosed()
			logger.Debug("Force-closed connection %s from %s", key, conn.RemoteAddr())
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d connection(s)", closedCount)
	}
}

// Stop initiates graceful shutdown of the NNFS server.
//
// Stop is safe to call multiple times and concurrently with Start/Serve. It
// waits until Start has finished its own graceful shutdown or ctx ends,
// whichever comes first; in the latter case remaining connections are
// force-closed and ctx.Err() is returned.
func (s *NNFSAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		logger.Warn("NNFS shutdown context cancelled: %d connection(s) still active: %v",
			s.connCount.Load(), ctx.Err())
		s.forceCloseConnections()
		return ctx.Err()
	}
}

// logMetrics periodically logs server load and refreshes pool gauges.
func (s *NNFSAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, idle := s.PendingJobs(), s.IdleWorkers()
			s.metrics.SetPendingJobs(pending)
			s.metrics.SetIdleWorkers(idle)
			logger.Info("NNFS metrics: active_connections=%d pending_jobs=%d idle_workers=%d busy_workers=%d",
				s.connCount.Load(), pending, idle, s.pool.Busy())
		}
	}
}

// GetActiveConnections returns the number of accepted connections not yet
// closed, including those waiting for a worker.
func (s *NNFSAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// PendingJobs returns the number of accepted connections waiting for a worker.
func (s *NNFSAdapter) PendingJobs() int {
	s.mu.Lock()
	jobs := s.jobs
	s.mu.Unlock()

	if jobs == nil {
		return 0
	}
	return jobs.Len()
}

// IdleWorkers returns the number of workers waiting for a connection.
func (s *NNFSAdapter) IdleWorkers() int {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()

	if pool == nil {
		return 0
	}
	return pool.Idle()
}

// Workers returns the size of the running worker pool, or 0 before Start.
func (s *NNFSAdapter) Workers() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil {
		return 0
	}
	return s.pool.Size()
}

// Ready returns a channel closed once the server accepts connections.
func (s *NNFSAdapter) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound or listening address, or "" if neither.
func (s *NNFSAdapter) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.listener != nil:
		return s.listener.Addr().String()
	case s.endpoint != nil:
		return s.endpoint.Addr().String()
	default:
		return ""
	}
}

// Port returns the TCP port the NNFS server is bound or listening on, or
// the configured port before Bind.
//
// This implements the adapter.Adapter interface.
func (s *NNFSAdapter) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.listener != nil:
		return s.listener.Port()
	case s.endpoint != nil:
		return s.endpoint.Addr().Port
	default:
		return s.config.Port
	}
}

// Protocol returns "NNFS" as the protocol identifier.
//
// This implements the adapter.Adapter interface.
func (s *NNFSAdapter) Protocol() string {
	return "NNFS"
}
