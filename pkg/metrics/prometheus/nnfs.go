package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/nnfs/pkg/metrics"
)

// nnfsMetrics is the Prometheus implementation of metrics.NNFSMetrics.
type nnfsMetrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	requestsInFlight       *prometheus.GaugeVec
	bytesTransferred       *prometheus.CounterVec
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	acceptErrors           prometheus.Counter
	pendingJobs            prometheus.Gauge
	idleWorkers            prometheus.Gauge
}

// NewNNFSMetrics creates a Prometheus-backed NNFSMetrics registered in the
// global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewNNFSMetrics() metrics.NNFSMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopNNFSMetrics()
	}
	return NewNNFSMetricsWith(metrics.GetRegistry())
}

// NewNNFSMetricsWith registers the NNFS collectors in reg.
func NewNNFSMetricsWith(reg prometheus.Registerer) metrics.NNFSMetrics {
	return &nnfsMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nnfs_requests_total",
				Help: "Total number of NNFS requests by opcode and reply status",
			},
			[]string{"opcode", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "nnfs_request_duration_milliseconds",
				Help: "Duration of NNFS requests in milliseconds",
				Buckets: []float64{
					0.1,  // 100us
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
			[]string{"opcode"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nnfs_requests_in_flight",
				Help: "Current number of NNFS requests being processed",
			},
			[]string{"opcode"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nnfs_bytes_transferred_total",
				Help: "Total frame bytes received and sent",
			},
			[]string{"direction"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "nnfs_active_connections",
				Help: "Current number of open NNFS connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "nnfs_connections_accepted_total",
				Help: "Total number of NNFS connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "nnfs_connections_closed_total",
				Help: "Total number of NNFS connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "nnfs_connections_force_closed_total",
				Help: "Total number of NNFS connections force-closed during shutdown timeout",
			},
		),
		acceptErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "nnfs_accept_errors_total",
				Help: "Total number of failed accepts",
			},
		),
		pendingJobs: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "nnfs_pending_jobs",
				Help: "Accepted connections waiting for a worker",
			},
		),
		idleWorkers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "nnfs_idle_workers",
				Help: "Workers waiting for a connection",
			},
		),
	}
}

func (m *nnfsMetrics) RecordRequest(opcode string, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(opcode, status).Inc()
	m.requestDuration.WithLabelValues(opcode).Observe(duration.Seconds() * 1000) // Convert to milliseconds
}

func (m *nnfsMetrics) RecordRequestStart(opcode string) {
	m.requestsInFlight.WithLabelValues(opcode).Inc()
}

func (m *nnfsMetrics) RecordRequestEnd(opcode string) {
	m.requestsInFlight.WithLabelValues(opcode).Dec()
}

func (m *nnfsMetrics) RecordBytesTransferred(direction string, bytes uint64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *nnfsMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *nnfsMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *nnfsMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *nnfsMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *nnfsMetrics) RecordAcceptError() {
	m.acceptErrors.Inc()
}

func (m *nnfsMetrics) SetPendingJobs(count int) {
	m.pendingJobs.Set(float64(count))
}

func (m *nnfsMetrics) SetIdleWorkers(count int) {
	m.idleWorkers.Set(float64(count))
}
