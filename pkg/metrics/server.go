package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/nnfs/internal/logger"
)

// DefaultServerPort is the metrics HTTP port used when none is configured.
const DefaultServerPort = 9090

// Server exposes collected metrics over HTTP.
//
// Endpoints:
//   - GET /metrics: Prometheus text/OpenMetrics exposition
//   - GET /healthz: 200 "ok" while the server runs
//   - GET /: index page linking to /metrics
type Server struct {
	server       *http.Server
	address      string
	port         int
	shutdownOnce sync.Once

	mu       sync.Mutex
	listener net.Listener
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Address to bind. Empty binds all interfaces.
	Address string

	// Port to listen on. Zero uses DefaultServerPort; negative picks a
	// free port.
	Port int

	// Gatherer to expose. Nil uses the global registry.
	Gatherer prometheus.Gatherer
}

func (c *ServerConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultServerPort
	}
	if c.Port < 0 {
		c.Port = 0
	}
	if c.Gatherer == nil {
		if reg := GetRegistry(); reg != nil {
			c.Gatherer = reg
		}
	}
}

// NewServer creates a metrics HTTP server in a stopped state.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()

	mux := http.NewServeMux()

	if config.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
		logger.Debug("Metrics endpoint registered at /metrics")
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "Metrics collection is disabled\n")
		})
		logger.Debug("Metrics collection disabled")
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>NNFS Metrics</title></head>
<body>
    <h1>NNFS Metrics Server</h1>
    <p><a href="/metrics">/metrics</a> serves Prometheus metrics for scraping.</p>
    <p><a href="/healthz">/healthz</a> reports liveness.</p>
</body>
</html>`)
	})

	return &Server{
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		address: config.Address,
		port:    config.Port,
	}
}

// Listen binds the server socket. Start calls it if needed; calling it
// first makes Port report the actual port before serving.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.address, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("metrics server listen: %w", err)
	}
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	return nil
}

// Start serves HTTP until ctx is cancelled or the server fails.
//
// Returns nil on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Metrics server shutdown signal received")
		// ctx is already cancelled; shutdown needs its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down gracefully. Safe to call multiple times and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("Metrics server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			logger.Error("Metrics server shutdown error: %v", err)
			return
		}

		s.mu.Lock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.mu.Unlock()

		logger.Info("Metrics server stopped gracefully")
	})
	return shutdownErr
}

// Port returns the TCP port, which is the bound port once Listen succeeded.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}
