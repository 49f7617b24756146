package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func ok(context.Context) error { return nil }

func TestLimit_ImmediateWhenUnderBudget(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{TokensPerMinute: 1000}, WithClock(clock))

	require.NoError(t, l.Limit(context.Background(), 400, ok))
	require.NoError(t, l.Limit(context.Background(), 600, ok))

	assert.Empty(t, clock.Sleeps())
	tokens, requests := l.Usage()
	assert.Equal(t, 1000, tokens)
	assert.Equal(t, 2, requests)
}

func TestLimit_WaitsForWindowWhenOverBudget(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{TokensPerMinute: 1000}, WithClock(clock))

	require.NoError(t, l.Limit(context.Background(), 600, ok))
	clock.Advance(15 * time.Second)
	require.NoError(t, l.Limit(context.Background(), 600, ok))

	assert.Equal(t, []time.Duration{45 * time.Second}, clock.Sleeps())
	tokens, _ := l.Usage()
	assert.Equal(t, 600, tokens)
}

func TestLimit_OversizeRequestProgresses(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{TokensPerMinute: 100}, WithClock(clock))

	// Empty window: admitted straight away.
	require.NoError(t, l.Limit(context.Background(), 500, ok))
	assert.Empty(t, clock.Sleeps())

	// Window busy: waits one window, then proceeds.
	require.NoError(t, l.Limit(context.Background(), 500, ok))
	assert.Equal(t, []time.Duration{time.Minute}, clock.Sleeps())
}

func TestLimit_FailuresDoNotConsumeTokens(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{TokensPerMinute: 1000}, WithClock(clock))
	boom := errors.New("boom")

	calls := 0
	err := l.Limit(context.Background(), 800, func(context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	tokens, requests := l.Usage()
	assert.Equal(t, 0, tokens)
	assert.Equal(t, 1, requests)
}

func TestLimit_RetriesRateLimitErrors(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{TokensPerMinute: 1000, RetryDelay: 2 * time.Second}, WithClock(clock))

	calls := 0
	err := l.Limit(context.Background(), 100, func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrRateLimited
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.Sleeps())
	tokens, requests := l.Usage()
	assert.Equal(t, 100, tokens)
	assert.Equal(t, 3, requests)
}

func TestLimit_CustomRateLimitCheck(t *testing.T) {
	clock := newFakeClock()
	throttled := errors.New("Rate limit reached for tokens")
	l := New(Config{}, WithClock(clock), WithRateLimitCheck(func(err error) bool {
		return errors.Is(err, throttled)
	}))

	calls := 0
	err := l.Limit(context.Background(), 1, func(context.Context) error {
		calls++
		if calls == 1 {
			return throttled
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestLimit_DailyBudget(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{RequestsPerDay: 2}, WithClock(clock))

	require.NoError(t, l.Limit(context.Background(), 1, ok))
	clock.Advance(time.Hour)
	require.NoError(t, l.Limit(context.Background(), 1, ok))
	require.NoError(t, l.Limit(context.Background(), 1, ok))

	assert.Equal(t, []time.Duration{23 * time.Hour}, clock.Sleeps())
	_, requests := l.Usage()
	assert.Equal(t, 1, requests)
}

func TestLimit_CancelledWhileWaiting(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{TokensPerMinute: 100}, WithClock(clock))
	require.NoError(t, l.Limit(context.Background(), 100, ok))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := l.Limit(ctx, 50, func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestLimit_TrailingMinuteNeverExceedsBudget(t *testing.T) {
	const budget = 1000
	clock := newFakeClock()
	l := New(Config{TokensPerMinute: budget}, WithClock(clock))
	rng := rand.New(rand.NewSource(7))

	type admitted struct {
		at     time.Time
		tokens int
	}
	var log []admitted

	for i := 0; i < 300; i++ {
		clock.Advance(time.Duration(rng.Intn(20)) * time.Second)
		tokens := 1 + rng.Intn(budget)
		require.NoError(t, l.Limit(context.Background(), tokens, func(context.Context) error {
			log = append(log, admitted{at: clock.Now(), tokens: tokens})
			return nil
		}))
	}

	for i, a := range log {
		sum := 0
		for _, b := range log[:i+1] {
			if b.at.After(a.at.Add(-time.Minute)) {
				sum += b.tokens
			}
		}
		assert.LessOrEqual(t, sum, budget, "window ending at admission %d", i)
	}
}

func TestLimit_ConcurrentCallersShareBudget(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{TokensPerMinute: 1000}, WithClock(clock))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Limit(context.Background(), 300, ok))
		}()
	}
	wg.Wait()

	_, requests := l.Usage()
	assert.Equal(t, 10, requests)
	// Ten calls of 300 against 1000/min need at least three window rollovers.
	var waited time.Duration
	for _, d := range clock.Sleeps() {
		waited += d
	}
	assert.GreaterOrEqual(t, waited, 3*time.Minute)
}
