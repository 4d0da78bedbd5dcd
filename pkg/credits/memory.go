package credits

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultDedupRetention is how long MemoryLedger remembers an applied
// invocation id. Settlement retries finish within seconds.
const DefaultDedupRetention = 24 * time.Hour

// MemoryLedger keeps balances in process memory.
type MemoryLedger struct {
	mu        sync.Mutex
	balances  map[string]int64
	applied   map[string]time.Time
	retention time.Duration
	nextPrune time.Time
	now       func() time.Time
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates a ledger seeded with initial balances.
func NewMemoryLedger(initial map[string]int64) *MemoryLedger {
	l := &MemoryLedger{
		balances:  make(map[string]int64, len(initial)),
		applied:   make(map[string]time.Time),
		retention: DefaultDedupRetention,
		now:       time.Now,
	}
	for caller, balance := range initial {
		l.balances[caller] = balance
	}
	return l
}

func (l *MemoryLedger) CheckBalance(_ context.Context, callerID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[callerID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCaller, callerID)
	}
	return balance, nil
}

func (l *MemoryLedger) Deduct(_ context.Context, callerID string, amount int64, invocationID string) error {
	if err := checkDeduct(callerID, amount, invocationID); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if _, done := l.applied[invocationID]; done {
		return nil
	}
	if _, ok := l.balances[callerID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCaller, callerID)
	}
	l.balances[callerID] -= amount
	l.applied[invocationID] = now
	return nil
}

// prune forgets invocation ids older than the retention. It scans at most
// once per tenth of the retention.
func (l *MemoryLedger) prune(now time.Time) {
	if now.Before(l.nextPrune) {
		return
	}
	l.nextPrune = now.Add(l.retention / 10)
	for id, at := range l.applied {
		if now.Sub(at) >= l.retention {
			delete(l.applied, id)
		}
	}
}

func (l *MemoryLedger) TopUp(_ context.Context, callerID string, amount int64) error {
	if err := checkTopUp(callerID, amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[callerID] += amount
	return nil
}
