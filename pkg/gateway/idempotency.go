package gateway

import (
	"sync"
	"time"
)

const defaultIdempotencyTTL = 5 * time.Minute

// replayCache keeps responses of idempotent requests so a retried
// tools.execute is answered without a second invocation or charge.
type replayCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]replayEntry
}

type replayEntry struct {
	response  RPCResponse
	expiresAt time.Time
}

func newReplayCache(ttl time.Duration) *replayCache {
	return &replayCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]replayEntry),
	}
}

// replayKey scopes an idempotency key by caller and method. An empty
// result means the request is not idempotent.
func replayKey(callerID, method, idempotencyKey string) string {
	if idempotencyKey == "" {
		return ""
	}
	return callerID + "\x00" + method + "\x00" + idempotencyKey
}

func (c *replayCache) get(key string) (RPCResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return RPCResponse{}, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return RPCResponse{}, false
	}
	return entry.response.clone(), true
}

// put stores resp unless it failed with an internal error, which a retry
// should be allowed to run again.
func (c *replayCache) put(key string, resp RPCResponse) {
	if resp.Error != nil && resp.Error.Code == InternalError {
		return
	}

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = replayEntry{response: resp.clone(), expiresAt: now.Add(c.ttl)}
}

func (c *replayCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (r RPCResponse) clone() RPCResponse {
	out := r
	if r.Error != nil {
		errCopy := *r.Error
		out.Error = &errCopy
	}
	return out
}
