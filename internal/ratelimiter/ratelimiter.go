// Package ratelimiter throttles NNFS requests with token buckets.
//
// Two flavours are provided: RateLimiter shares one bucket between every
// client, PerClient keeps one bucket per client key (usually the remote IP).
// Both implement AllowRequest so the request loop can use either.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// unlimitedRate stands in for "no limit"; rate.Inf ignores burst and
// makes Tokens meaningless.
const unlimitedRate = 1_000_000_000

// RateLimiter provides request rate limiting using the token bucket algorithm.
//
// Tokens are added at requestsPerSecond; each request consumes one. Burst
// is the bucket capacity, allowing short spikes above the sustained rate.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter with the specified rate and burst capacity.
//
// requestsPerSecond = 0 disables limiting. burst = 0 with a non-zero rate
// uses the rate as burst, so at least one request per second can pass.
func New(requestsPerSecond, burst uint) *RateLimiter {
	return &RateLimiter{
		limiter: newLimiter(requestsPerSecond, burst),
	}
}

func newLimiter(requestsPerSecond, burst uint) *rate.Limiter {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimitedRate
		burst = unlimitedRate
	}
	if burst == 0 {
		burst = requestsPerSecond
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst))
}

// Allow reports whether a request may proceed now, consuming a token if so.
// It never waits.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// AllowRequest implements the request loop's limiter. The client key is
// ignored: every client draws from the same bucket.
func (r *RateLimiter) AllowRequest(string) bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// SetLimit updates the sustained rate in place. 0 disables limiting.
func (r *RateLimiter) SetLimit(requestsPerSecond uint) {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimitedRate
	}
	r.limiter.SetLimit(rate.Limit(requestsPerSecond))
}

// SetBurst updates the bucket capacity.
func (r *RateLimiter) SetBurst(burst uint) {
	r.limiter.SetBurst(int(burst))
}

// Tokens returns the number of tokens currently available. For monitoring
// only: the value may change immediately after the call.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// PerClient keeps an independent token bucket per client key.
//
// Buckets unused for longer than the idle TTL are evicted on the next
// AllowRequest call that finds the sweep interval elapsed, so a server
// seeing many short-lived clients does not grow without bound.
type PerClient struct {
	requestsPerSecond uint
	burst             uint
	idleTTL           time.Duration

	mu        sync.Mutex
	buckets   map[string]*clientBucket
	lastSweep time.Time
	now       func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// DefaultIdleTTL is how long an unused client bucket is kept.
const DefaultIdleTTL = 5 * time.Minute

// NewPerClient creates a per-client limiter. Arguments follow New.
func NewPerClient(requestsPerSecond, burst uint) *PerClient {
	return &PerClient{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		idleTTL:           DefaultIdleTTL,
		buckets:           make(map[string]*clientBucket),
		now:               time.Now,
	}
}

// AllowRequest reports whether client may issue one more request now.
func (p *PerClient) AllowRequest(client string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastSweep) >= p.idleTTL {
		p.sweep(now)
	}

	b, ok := p.buckets[client]
	if !ok {
		b = &clientBucket{limiter: newLimiter(p.requestsPerSecond, p.burst)}
		p.buckets[client] = b
	}
	b.lastSeen = now

	return b.limiter.AllowN(now, 1)
}

// Clients returns the number of clients with a live bucket.
func (p *PerClient) Clients() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buckets)
}

func (p *PerClient) sweep(now time.Time) {
	for key, b := range p.buckets {
		if now.Sub(b.lastSeen) >= p.idleTTL {
			delete(p.buckets, key)
		}
	}
	p.lastSweep = now
}
