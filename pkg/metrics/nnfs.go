package metrics

import "time"

// NNFSMetrics provides observability for the NNFS adapter.
//
// Implementations collect request outcomes, connection lifecycle and
// worker pool saturation. The interface is optional: when the adapter is
// given nil it uses a no-op implementation.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewNNFSMetrics()
//	adapter := nnfs.New(config, m)
//
//	// Without metrics (no-op)
//	adapter := nnfs.New(config, nil)
type NNFSMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - opcode: request opcode name (e.g. "PING", "CLOSE_CONNECTION", "UNKNOWN")
	//   - status: reply status name (e.g. "OK", "FAIL_BAD_OP_CODE")
	//   - duration: time from request decoded to reply sent
	RecordRequest(opcode string, status string, duration time.Duration)

	// RecordRequestStart increments the in-flight request gauge.
	RecordRequestStart(opcode string)

	// RecordRequestEnd decrements the in-flight request gauge.
	RecordRequestEnd(opcode string)

	// RecordBytesTransferred records frame bytes received ("in") or sent ("out").
	RecordBytesTransferred(direction string, bytes uint64)

	// SetActiveConnections updates the number of open client connections.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed because the
	// shutdown timeout elapsed.
	RecordConnectionForceClosed()

	// RecordAcceptError counts failed accepts.
	RecordAcceptError()

	// SetPendingJobs updates the number of connections waiting for a worker.
	SetPendingJobs(count int)

	// SetIdleWorkers updates the number of workers waiting for a connection.
	SetIdleWorkers(count int)
}

// NewNoopNNFSMetrics returns an NNFSMetrics that discards everything.
func NewNoopNNFSMetrics() NNFSMetrics {
	return noopNNFSMetrics{}
}

type noopNNFSMetrics struct{}

func (noopNNFSMetrics) RecordRequest(opcode string, status string, duration time.Duration) {}
func (noopNNFSMetrics) RecordRequestStart(opcode string)                                   {}
func (noopNNFSMetrics) RecordRequestEnd(opcode string)                                     {}
func (noopNNFSMetrics) RecordBytesTransferred(direction string, bytes uint64)              {}
func (noopNNFSMetrics) SetActiveConnections(count int32)                                   {}
func (noopNNFSMetrics) RecordConnectionAccepted()                                          {}
func (noopNNFSMetrics) RecordConnectionClosed()                                            {}
func (noopNNFSMetrics) RecordConnectionForceClosed()                                       {}
func (noopNNFSMetrics) RecordAcceptError()                                                 {}
func (noopNNFSMetrics) SetPendingJobs(count int)                                           {}
func (noopNNFSMetrics) SetIdleWorkers(count int)                                           {}
