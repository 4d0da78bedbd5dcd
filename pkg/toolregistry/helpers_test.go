package toolregistry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"

	"github.com/harun/toolgate/pkg/schema"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memRecorder struct {
	mu   sync.Mutex
	recs []InvocationRecord
	err  error
}

func (m *memRecorder) Record(_ context.Context, rec InvocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return m.err
}

func (m *memRecorder) records() []InvocationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InvocationRecord(nil), m.recs...)
}

func (m *memRecorder) last() InvocationRecord {
	recs := m.records()
	return recs[len(recs)-1]
}

type countingMetrics struct {
	mu        sync.Mutex
	dispatch  map[string]int
	secondary map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{dispatch: map[string]int{}, secondary: map[string]int{}}
}

func (m *countingMetrics) ObserveDispatch(tool, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatch[tool+"/"+outcome]++
}

func (m *countingMetrics) IncSecondaryFailure(channel, tool string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secondary[channel+"/"+tool]++
}

func (m *countingMetrics) dispatched(tool, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatch[tool+"/"+outcome]
}

func (m *countingMetrics) secondaryFailures(channel, tool string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secondary[channel+"/"+tool]
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) CheckBalance(ctx context.Context, callerID string) (int64, error) {
	args := m.Called(ctx, callerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockLedger) Deduct(ctx context.Context, callerID string, amount int64, invocationID string) error {
	args := m.Called(ctx, callerID, amount, invocationID)
	return args.Error(0)
}

// idempotentLedger applies each invocation id once. failFirst makes the
// first n Deduct calls apply the charge but report an error, the way a
// lost acknowledgement looks to the caller.
type idempotentLedger struct {
	mu        sync.Mutex
	balances  map[string]int64
	applied   map[string]bool
	calls     int
	failFirst int
}

func newIdempotentLedger(balances map[string]int64) *idempotentLedger {
	return &idempotentLedger{balances: balances, applied: map[string]bool{}}
}

func (l *idempotentLedger) CheckBalance(_ context.Context, callerID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[callerID]
	if !ok {
		return 0, errors.New("unknown caller")
	}
	return b, nil
}

func (l *idempotentLedger) Deduct(_ context.Context, callerID string, amount int64, invocationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if !l.applied[invocationID] {
		l.applied[invocationID] = true
		l.balances[callerID] -= amount
	}
	if l.calls <= l.failFirst {
		return fmt.Errorf("ack lost on call %d", l.calls)
	}
	return nil
}

func (l *idempotentLedger) balance(callerID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[callerID]
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	logger := zerolog.Nop()
	cfg.Logger = &logger
	if cfg.SettleBackoff == 0 {
		cfg.SettleBackoff = -1
	}
	return New(cfg)
}

func echoSchema() *schema.Object {
	return schema.NewObject(schema.Property{
		Name:     "msg",
		Field:    schema.String{},
		Required: true,
	})
}

func echoHandler(_ context.Context, params map[string]interface{}, _ ExecutionContext) (interface{}, error) {
	return map[string]interface{}{"msg": params["msg"]}, nil
}

func mustRegister(t *testing.T, r *Registry, def Definition, h Handler) {
	t.Helper()
	if err := r.Register(def, h); err != nil {
		t.Fatalf("register %s: %v", def.Name(), err)
	}
}

func callerCtx(caller string) ExecutionContext {
	return NewExecutionContext(caller)
}
