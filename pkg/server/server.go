package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/marmos91/nnfs/internal/logger"
	"github.com/marmos91/nnfs/pkg/adapter"
	"github.com/marmos91/nnfs/pkg/metrics"
)

var (
	// ErrAlreadyServed is returned by Serve on every call after the first.
	ErrAlreadyServed = errors.New("server: Serve already called")

	// ErrServing is returned by AddAdapter once Serve has been called.
	ErrServing = errors.New("server: cannot add adapter while serving")

	// ErrNoAdapters is returned by Serve when no adapter is registered.
	ErrNoAdapters = errors.New("server: no adapters registered")
)

// DefaultStopTimeout bounds the Stop calls issued to adapters on shutdown.
const DefaultStopTimeout = 30 * time.Second

// Options configures an NNFSServer.
type Options struct {
	// StopTimeout bounds adapter shutdown. Zero uses DefaultStopTimeout.
	StopTimeout time.Duration

	// Metrics, if set, is run alongside the adapters and stopped with them.
	Metrics *metrics.Server
}

// NNFSServer manages the lifecycle of protocol adapters.
//
// Lifecycle:
//  1. Creation: New()
//  2. Registration: AddAdapter() for each protocol
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: Context cancellation or an adapter failure stops every adapter
//
// Thread safety:
// NNFSServer is safe for concurrent use. Serve() may only be called once.
//
// Example usage:
//
//	srv := server.New(server.Options{})
//	if err := srv.AddAdapter(nnfsAdapter); err != nil {
//	    return err
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    return err
//	}
type NNFSServer struct {
	opts Options

	// mu protects adapters and served
	mu       sync.RWMutex
	adapters []adapter.Adapter
	served   bool
}

// New creates an NNFSServer with no adapters.
func New(opts Options) *NNFSServer {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	return &NNFSServer{
		opts:     opts,
		adapters: make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter registers a protocol adapter to be started by Serve.
//
// Returns an error if a is nil, Serve has been called, or another adapter
// already claims the same protocol or port.
func (s *NNFSServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		return errors.New("server: adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return ErrServing
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		// Port 0 picks a free port, so it never conflicts.
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)

	return nil
}

// Serve starts all registered adapters and blocks until the context is
// cancelled or an adapter fails.
//
// On shutdown every adapter receives Stop() in reverse registration order,
// and Serve waits for all of them to return.
//
// Returns:
//   - ctx.Err() if shutdown was triggered by context cancellation
//   - the first adapter error if an adapter failed
//   - ErrAlreadyServed on repeated calls, ErrNoAdapters if none registered
func (s *NNFSServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return ErrNoAdapters
	}
	s.served = true
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Info("Starting NNFS server with %d adapter(s)", len(adapters))

	// Buffered so failing adapters never block
	errChan := make(chan adapterError, len(adapters)+1)

	// Adapters and the metrics server share runCtx so an adapter failure
	// also stops the metrics endpoint.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var wg conc.WaitGroup

	for _, adp := range adapters {
		wg.Go(func() {
			protocol := adp.Protocol()

			logger.Info("Starting %s adapter on port %d", protocol, adp.Port())

			if err := adp.Serve(runCtx); err != nil {
				if !errors.Is(err, context.Canceled) && runCtx.Err() == nil {
					logger.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
					return
				}
				logger.Debug("%s adapter stopped: %v", protocol, err)
				return
			}

			if runCtx.Err() == nil {
				// Returning early without an error is still a failure:
				// the adapter is no longer serving.
				errChan <- adapterError{protocol: protocol, err: errors.New("stopped unexpectedly")}
				return
			}
			logger.Info("%s adapter stopped", protocol)
		})
	}

	if m := s.opts.Metrics; m != nil {
		wg.Go(func() {
			if err := m.Start(runCtx); err != nil {
				logger.Error("Metrics server failed: %v", err)
				errChan <- adapterError{protocol: "metrics", err: err}
			}
		})
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	cancelRun()
	s.stopAllAdapters(adapters)

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	logger.Info("NNFS server stopped")

	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error for better error reporting.
type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters calls Stop on every adapter in reverse registration order,
// sharing one StopTimeout budget. Errors are logged and do not interrupt
// the remaining Stop calls.
func (s *NNFSServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (port %d)", protocol, adp.Port())

		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stopped", protocol)
		}
	}
}

// Adapters returns a snapshot of currently registered adapters.
func (s *NNFSServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
