// Package ratelimit paces outbound model calls against a per-minute token budget
// and a per-day request budget shared by every request in the process.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is the signal a wrapped operation returns when the provider
// throttled it. The limiter retries such operations until they succeed.
var ErrRateLimited = errors.New("rate limit reached")

const (
	DefaultTokensPerMinute = 59000
	DefaultRequestsPerDay  = 100000
	DefaultRetryDelay      = 5 * time.Second

	tokenWindow   = time.Minute
	requestWindow = 24 * time.Hour
)

// Config sets the budgets. Zero values select the defaults.
type Config struct {
	TokensPerMinute int
	RequestsPerDay  int
	// MinInterval spaces consecutive calls apart. Zero disables pacing.
	MinInterval time.Duration
	// RetryDelay is the pause before re-running a throttled operation.
	RetryDelay time.Duration
}

// Clock abstracts time so tests can drive the windows.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithRateLimitCheck overrides how throttling errors are recognised.
func WithRateLimitCheck(fn func(error) bool) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.isRateLimited = fn
		}
	}
}

type reservation struct {
	id     uint64
	at     time.Time
	tokens int
}

// Limiter admits operations while the trailing minute's token usage stays under
// TokensPerMinute and the day's request count stays under RequestsPerDay.
// Callers that would exceed a budget wait in turn until capacity frees up.
type Limiter struct {
	cfg           Config
	clock         Clock
	logger        *slog.Logger
	pacer         *rate.Limiter
	isRateLimited func(error) bool

	// admit is held while a caller waits for capacity, so waiters are served in turn.
	admit sync.Mutex

	mu       sync.Mutex
	usage    []reservation
	nextID   uint64
	requests int
	dayStart time.Time
}

// New creates a Limiter. One Limiter should be shared by the whole process.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.TokensPerMinute <= 0 {
		cfg.TokensPerMinute = DefaultTokensPerMinute
	}
	if cfg.RequestsPerDay <= 0 {
		cfg.RequestsPerDay = DefaultRequestsPerDay
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	l := &Limiter{
		cfg:    cfg,
		clock:  realClock{},
		logger: slog.Default(),
		isRateLimited: func(err error) bool {
			return errors.Is(err, ErrRateLimited)
		},
	}
	for _, opt := range opts {
		opt(l)
	}

	if cfg.MinInterval > 0 {
		l.pacer = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	l.dayStart = l.clock.Now()

	return l
}

// Limit runs op once capacity for tokens is available. Token usage is only kept
// when op succeeds; every attempt counts against the daily request budget.
// Operations failing with a rate-limit error are retried without bound, so
// callers should cap the total time through ctx.
func (l *Limiter) Limit(ctx context.Context, tokens int, op func(context.Context) error) error {
	if tokens < 0 {
		tokens = 0
	}

	for {
		res, err := l.acquire(ctx, tokens)
		if err != nil {
			return err
		}

		err = op(ctx)
		if err == nil {
			return nil
		}

		l.refund(res)

		if !l.isRateLimited(err) {
			return err
		}

		l.logger.Warn("Rate limit error caught, retrying", "tokens", tokens, "delay", l.cfg.RetryDelay)
		if err := l.clock.Sleep(ctx, l.cfg.RetryDelay); err != nil {
			return err
		}
	}
}

// Usage returns the tokens used in the trailing minute and the requests issued
// in the current day window.
func (l *Limiter) Usage() (tokens, requests int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.expire(now)
	l.rollDay(now)
	return l.usedTokens(), l.requests
}

// acquire waits for capacity, then reserves tokens and counts the request.
func (l *Limiter) acquire(ctx context.Context, tokens int) (uint64, error) {
	l.admit.Lock()
	defer l.admit.Unlock()

	for {
		wait := l.tokenWait(tokens)
		if wait <= 0 {
			break
		}
		l.logger.Info("Token budget exhausted, waiting", "wait", wait, "tokens", tokens)
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return 0, err
		}
	}

	for {
		wait := l.requestWait()
		if wait <= 0 {
			break
		}
		l.logger.Info("Daily request limit reached, waiting", "wait", wait)
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return 0, err
		}
	}

	if l.pacer != nil {
		if err := l.pacer.Wait(ctx); err != nil {
			return 0, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	l.usage = append(l.usage, reservation{id: l.nextID, at: l.clock.Now(), tokens: tokens})
	l.requests++
	return l.nextID, nil
}

// tokenWait returns how long until tokens fit in the trailing minute.
// A request larger than the whole budget only waits for the window to empty.
func (l *Limiter) tokenWait(tokens int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.expire(now)

	used := l.usedTokens()
	if used == 0 || used+tokens <= l.cfg.TokensPerMinute {
		return 0
	}

	need := used + tokens - l.cfg.TokensPerMinute
	if tokens > l.cfg.TokensPerMinute {
		need = used
	}

	freed := 0
	for _, r := range l.usage {
		freed += r.tokens
		if freed >= need {
			return r.at.Add(tokenWindow).Sub(now)
		}
	}
	return l.usage[len(l.usage)-1].at.Add(tokenWindow).Sub(now)
}

// requestWait returns how long until the day window admits another request.
func (l *Limiter) requestWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rollDay(now)
	if l.requests < l.cfg.RequestsPerDay {
		return 0
	}
	return l.dayStart.Add(requestWindow).Sub(now)
}

func (l *Limiter) refund(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, r := range l.usage {
		if r.id == id {
			l.usage = append(l.usage[:i], l.usage[i+1:]...)
			return
		}
	}
}

// expire drops reservations older than the token window. Caller holds mu.
func (l *Limiter) expire(now time.Time) {
	cutoff := now.Add(-tokenWindow)
	i := 0
	for i < len(l.usage) && !l.usage[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		l.usage = append(l.usage[:0], l.usage[i:]...)
	}
}

// rollDay resets the request counter once the day window has elapsed. Caller holds mu.
func (l *Limiter) rollDay(now time.Time) {
	if now.Sub(l.dayStart) >= requestWindow {
		l.requests = 0
		l.dayStart = now
		l.logger.Debug("Daily request count reset")
	}
}

func (l *Limiter) usedTokens() int {
	total := 0
	for _, r := range l.usage {
		total += r.tokens
	}
	return total
}
