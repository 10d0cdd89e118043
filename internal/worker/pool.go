// Package worker runs a fixed set of goroutines that take accepted
// connections off a job queue and serve them one at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sourcegraph/conc"

	"github.com/marmos91/nnfs/internal/logger"
	"github.com/marmos91/nnfs/internal/queue"
	"github.com/marmos91/nnfs/internal/transport"
)

var (
	// ErrInvalidSize is returned by New for a pool size below 1.
	ErrInvalidSize = errors.New("worker: pool size must be at least 1")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("worker: pool already started")
)

// Handler serves one connection until it terminates. The handler owns conn
// and must close it before returning.
type Handler interface {
	ServeConn(ctx context.Context, workerID int, conn *transport.Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, workerID int, conn *transport.Conn)

func (f HandlerFunc) ServeConn(ctx context.Context, workerID int, conn *transport.Conn) {
	f(ctx, workerID, conn)
}

// Pool is a fixed-size group of workers consuming one job queue.
type Pool struct {
	size    int
	jobs    *queue.Queue[*transport.Conn]
	handler Handler

	wg      conc.WaitGroup
	started atomic.Bool
	busy    atomic.Int32
}

// New creates a pool of size workers. Nothing runs until Start.
func New(size int, jobs *queue.Queue[*transport.Conn], handler Handler) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	if jobs == nil {
		return nil, errors.New("worker: job queue is required")
	}
	if handler == nil {
		return nil, errors.New("worker: handler is required")
	}

	return &Pool{
		size:    size,
		jobs:    jobs,
		handler: handler,
	}, nil
}

// Start launches the workers and returns immediately.
//
// ctx is handed to the handler for every connection; cancelling it asks
// sessions to finish. Workers keep popping regardless and exit only once the
// queue is closed and empty, so no accepted connection is left unowned.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	for id := range p.size {
		p.wg.Go(func() {
			p.run(ctx, id)
		})
	}

	logger.Debug("Worker pool started with %d workers", p.size)
	return nil
}

func (p *Pool) run(ctx context.Context, id int) {
	popCtx := context.WithoutCancel(ctx)

	for {
		conn, err := p.jobs.Pop(popCtx)
		if err != nil {
			logger.Debug("Worker %d exiting: %v", id, err)
			return
		}

		p.busy.Add(1)
		logger.Debug("Worker %d picked up connection %s from %s", id, conn.ID(), conn.RemoteAddr())
		p.serve(ctx, id, conn)
		p.busy.Add(-1)
	}
}

func (p *Pool) serve(ctx context.Context, id int, conn *transport.Conn) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Worker %d: panic serving connection %s: %v", id, conn.ID(), r)
			_ = conn.Close()
		}
	}()

	p.handler.ServeConn(ctx, id, conn)
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Busy returns the number of workers currently serving a connection.
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// Idle returns the number of workers blocked waiting for a connection.
func (p *Pool) Idle() int {
	return p.jobs.Waiters()
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}
