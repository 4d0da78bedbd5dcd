// Package ratelimit implements per-(tool, caller) fixed-window counters.
//
// Fixed windows are an approximation: a caller can make up to 2×MaxCalls
// calls across a window boundary (MaxCalls at the end of one window and
// MaxCalls at the start of the next). A token bucket would smooth that out
// at the cost of more state per key.
package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultShards is the number of independently locked shards.
	DefaultShards = 32
	// DefaultIdleWindows is how many idle windows an entry survives.
	DefaultIdleWindows = 3
	// DefaultSweepSchedule runs the sweep once a minute.
	DefaultSweepSchedule = "@every 1m"
)

// ErrInvalidLimit is returned by Limit.Validate.
var ErrInvalidLimit = errors.New("invalid rate limit")

// Limit caps calls per window.
type Limit struct {
	MaxCalls int
	Window   time.Duration
}

// Validate reports whether the limit can be enforced.
func (l Limit) Validate() error {
	if l.MaxCalls <= 0 {
		return fmt.Errorf("%w: maxCalls must be positive", ErrInvalidLimit)
	}
	if l.Window <= 0 {
		return fmt.Errorf("%w: window must be positive", ErrInvalidLimit)
	}
	return nil
}

// WindowMs is the window in milliseconds, the unit used on the wire.
func (l Limit) WindowMs() int64 {
	return l.Window.Milliseconds()
}

type wireLimit struct {
	MaxCalls int   `json:"maxCalls"`
	WindowMs int64 `json:"windowMs"`
}

func (l Limit) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireLimit{MaxCalls: l.MaxCalls, WindowMs: l.WindowMs()})
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	var w wireLimit
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	l.MaxCalls = w.MaxCalls
	l.Window = time.Duration(w.WindowMs) * time.Millisecond
	return nil
}

// Decision is the outcome of one Reserve call.
type Decision struct {
	Allowed   bool
	Count     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.Before(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Config configures a Limiter.
type Config struct {
	Shards      int
	IdleWindows int
	Clock       func() time.Time
	Logger      *zerolog.Logger
}

type entry struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
	window      time.Duration
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Limiter holds the counters. Each key lives in exactly one shard, so
// unrelated callers contend only when their keys hash to the same shard.
type Limiter struct {
	shards      []*shard
	idleWindows int
	now         func() time.Time
	logger      zerolog.Logger
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}
	if cfg.IdleWindows <= 0 {
		cfg.IdleWindows = DefaultIdleWindows
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	l := &Limiter{
		shards:      make([]*shard, cfg.Shards),
		idleWindows: cfg.IdleWindows,
		now:         cfg.Clock,
		logger:      logger.With().Str("component", "ratelimit").Logger(),
	}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return l
}

func key(tool, caller string) string {
	return tool + "\x00" + caller
}

func (l *Limiter) shardFor(k string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

// Reserve counts one call for (tool, caller) against limit. A call that
// is over the limit is rejected and not counted. An accepted call is
// never refunded, whatever happens to it afterwards.
func (l *Limiter) Reserve(tool, caller string, limit Limit) Decision {
	now := l.now()
	k := key(tool, caller)
	s := l.shardFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok {
		e = &entry{windowStart: now}
		s.entries[k] = e
	}
	e.window = limit.Window
	e.lastSeen = now

	if now.Sub(e.windowStart) >= limit.Window {
		e.windowStart = now
		e.count = 0
	}
	resetAt := e.windowStart.Add(limit.Window)

	if e.count >= limit.MaxCalls {
		return Decision{Allowed: false, Count: e.count, Remaining: 0, ResetAt: resetAt}
	}

	e.count++
	return Decision{
		Allowed:   true,
		Count:     e.count,
		Remaining: limit.MaxCalls - e.count,
		ResetAt:   resetAt,
	}
}

// Peek returns the current state for (tool, caller) without counting.
func (l *Limiter) Peek(tool, caller string, limit Limit) Decision {
	now := l.now()
	k := key(tool, caller)
	s := l.shardFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok || now.Sub(e.windowStart) >= limit.Window {
		return Decision{Allowed: true, Remaining: limit.MaxCalls, ResetAt: now.Add(limit.Window)}
	}
	return Decision{
		Allowed:   e.count < limit.MaxCalls,
		Count:     e.count,
		Remaining: max(limit.MaxCalls-e.count, 0),
		ResetAt:   e.windowStart.Add(limit.Window),
	}
}

// Sweep evicts entries that saw no calls for IdleWindows windows and
// returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if now.Sub(e.lastSeen) >= time.Duration(l.idleWindows)*e.window {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}

	if removed > 0 {
		l.logger.Debug().Int("removed", removed).Msg("Swept idle rate limit entries")
	}
	return removed
}

// Len is the number of tracked (tool, caller) pairs.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Reset forgets every counter for tool, used when its limit changes.
func (l *Limiter) Reset(tool string) {
	prefix := tool + "\x00"
	for _, s := range l.shards {
		s.mu.Lock()
		for k := range s.entries {
			if strings.HasPrefix(k, prefix) {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

// Schedule registers Sweep on c. An empty spec uses DefaultSweepSchedule.
func (l *Limiter) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	id, err := c.AddFunc(spec, func() { l.Sweep() })
	if err != nil {
		return 0, fmt.Errorf("failed to schedule rate limit sweep: %w", err)
	}
	l.logger.Info().Str("schedule", spec).Msg("Rate limit sweep scheduled")
	return id, nil
}
