package ratelimit

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
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

func TestLimiter_Reserve(t *testing.T) {
	t.Run("should allow up to max calls then reject", func(t *testing.T) {
		clock := newFakeClock()
		l := New(Config{Clock: clock.Now})
		limit := Limit{MaxCalls: 3, Window: time.Minute}

		for i := 1; i <= 3; i++ {
			d := l.Reserve("search", "user-1", limit)
			assert.True(t, d.Allowed)
			assert.Equal(t, i, d.Count)
			assert.Equal(t, 3-i, d.Remaining)
		}

		d := l.Reserve("search", "user-1", limit)
		assert.False(t, d.Allowed)
		assert.Equal(t, 3, d.Count, "rejected calls are not counted")
		assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
	})

	t.Run("should reset after the window elapses", func(t *testing.T) {
		clock := newFakeClock()
		l := New(Config{Clock: clock.Now})
		limit := Limit{MaxCalls: 1, Window: time.Second}

		assert.True(t, l.Reserve("echo", "u", limit).Allowed)
		assert.False(t, l.Reserve("echo", "u", limit).Allowed)

		clock.Advance(time.Second)
		d := l.Reserve("echo", "u", limit)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Count)
	})

	t.Run("should keep keys independent", func(t *testing.T) {
		l := New(Config{Clock: newFakeClock().Now})
		limit := Limit{MaxCalls: 1, Window: time.Minute}

		assert.True(t, l.Reserve("a", "u1", limit).Allowed)
		assert.True(t, l.Reserve("a", "u2", limit).Allowed)
		assert.True(t, l.Reserve("b", "u1", limit).Allowed)
		assert.False(t, l.Reserve("a", "u1", limit).Allowed)
		assert.Equal(t, 3, l.Len())
	})
}

func TestLimiter_ConcurrentReserveLosesNoUpdates(t *testing.T) {
	l := New(Config{Shards: 4})
	limit := Limit{MaxCalls: 50, Window: time.Hour}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Reserve("hot", "caller", limit).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
	assert.Equal(t, 50, l.Peek("hot", "caller", limit).Count)
}

func TestLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Clock: clock.Now, IdleWindows: 3})

	l.Reserve("fast", "u", Limit{MaxCalls: 5, Window: time.Second})
	l.Reserve("slow", "u", Limit{MaxCalls: 5, Window: time.Hour})
	require.Equal(t, 2, l.Len())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 0, l.Sweep(), "not idle for three windows yet")

	clock.Advance(time.Second)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())

	clock.Advance(3 * time.Hour)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 0, l.Len())
}

func TestLimiter_Reset(t *testing.T) {
	l := New(Config{})
	limit := Limit{MaxCalls: 1, Window: time.Minute}

	for i := 0; i < 10; i++ {
		l.Reserve("a", fmt.Sprintf("u%d", i), limit)
	}
	l.Reserve("ab", "u0", limit)

	l.Reset("a")
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Reserve("a", "u0", limit).Allowed)
}

func TestLimiter_Peek(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Clock: clock.Now})
	limit := Limit{MaxCalls: 2, Window: time.Minute}

	d := l.Peek("t", "u", limit)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
	assert.Equal(t, 0, l.Len(), "peek does not create entries")

	l.Reserve("t", "u", limit)
	l.Reserve("t", "u", limit)
	d = l.Peek("t", "u", limit)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter(clock.Now()))
}

func TestLimiter_Schedule(t *testing.T) {
	l := New(Config{})
	c := cron.New()

	_, err := l.Schedule(c, "")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = l.Schedule(c, "not a schedule")
	assert.Error(t, err)
}

func TestLimit(t *testing.T) {
	assert.NoError(t, Limit{MaxCalls: 1, Window: time.Millisecond}.Validate())
	assert.ErrorIs(t, Limit{MaxCalls: 0, Window: time.Second}.Validate(), ErrInvalidLimit)
	assert.ErrorIs(t, Limit{MaxCalls: 1}.Validate(), ErrInvalidLimit)

	data, err := json.Marshal(Limit{MaxCalls: 3, Window: time.Minute})
	require.NoError(t, err)
	assert.JSONEq(t, `{"maxCalls":3,"windowMs":60000}`, string(data))

	var back Limit
	require.NoError(t, json.Unmarshal([]byte(`{"maxCalls":2,"windowMs":1000}`), &back))
	assert.Equal(t, Limit{MaxCalls: 2, Window: time.Second}, back)
}
