package gateway

import (
	"sync"
	"time"

	"github.com/harun/toolgate/pkg/ratelimit"
)

const (
	DefaultRequestsPerMinute = 60
	DefaultMaxConcurrent     = 10

	// clientLimitScope keys gateway counters apart from tool counters in a
	// shared limiter.
	clientLimitScope = "gateway.client"
)

// ClientRateLimiter caps one connection's request rate and the number of
// requests it has in flight. Rate counters live in a ratelimit.Limiter so
// they are swept with the rest.
type ClientRateLimiter struct {
	mu            sync.Mutex
	limiter       *ratelimit.Limiter
	clientID      string
	limit         ratelimit.Limit
	maxConcurrent int
	concurrent    int
}

// NewClientRateLimiter creates a limiter with the default limits.
func NewClientRateLimiter(limiter *ratelimit.Limiter, clientID string) *ClientRateLimiter {
	return NewClientRateLimiterWithLimits(limiter, clientID, DefaultRequestsPerMinute, DefaultMaxConcurrent)
}

// NewClientRateLimiterWithLimits creates a rate limiter with custom limits
func NewClientRateLimiterWithLimits(limiter *ratelimit.Limiter, clientID string, requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &ClientRateLimiter{
		limiter:       limiter,
		clientID:      clientID,
		limit:         ratelimit.Limit{MaxCalls: requestsPerMinute, Window: time.Minute},
		maxConcurrent: maxConcurrent,
	}
}

// Acquire admits one request or returns an *RPCError. Every successful
// Acquire must be paired with Release.
func (r *ClientRateLimiter) Acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrent >= r.maxConcurrent {
		return rpcError(TooManyConcurrent, "too many concurrent requests")
	}

	d := r.limiter.Reserve(clientLimitScope, r.clientID, r.limit)
	if !d.Allowed {
		return &RPCError{
			Code:    RateLimitExceeded,
			Message: "rate limit exceeded",
			Data: map[string]interface{}{
				"resetAt": d.ResetAt.UTC().Format(time.RFC3339Nano),
			},
		}
	}

	r.concurrent++
	return nil
}

// Release records the end of a request
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrent > 0 {
		r.concurrent--
	}
}

// GetStats returns the calls made in the current window and the number in
// flight.
func (r *ClientRateLimiter) GetStats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.limiter.Peek(clientLimitScope, r.clientID, r.limit)
	return d.Count, r.concurrent
}
