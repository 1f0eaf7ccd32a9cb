// Package ratelimit implements the fixed-window attempt limiter that guards
// the edge login and verification entry points.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koltyakov/arca-edge/internal/domain"
)

const (
	DefaultMaxAttempts   = 5
	DefaultWindow        = 15 * time.Minute
	DefaultSweepInterval = 30 * time.Minute
)

// Config sets the attempt budget per key and window.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// Result is the outcome of one [Limiter.Check].
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter is the time left until the current window ends.
	RetryAfter time.Duration
}

// Store persists attempt counters. Update must apply fn atomically with
// respect to other calls for the same key.
type Store interface {
	Update(ctx context.Context, key string, fn func(cur domain.RateLimitEntry, found bool) domain.RateLimitEntry) error
	Delete(ctx context.Context, key string) error
	// Sweep removes entries whose window ended before now and returns how
	// many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Limiter counts attempts per key in fixed windows.
type Limiter struct {
	cfg   Config
	store Store
	now   func() time.Time
}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a limiter over store. A nil store gets a fresh [MemoryStore],
// which is single-instance and forgets everything on restart.
func New(cfg Config, store Store, opts ...Option) (*Limiter, error) {
	if cfg.MaxAttempts <= 0 || cfg.Window <= 0 {
		return nil, fmt.Errorf("%w: rate limit needs positive max attempts and window", domain.ErrConfig)
	}
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Limiter{cfg: cfg, store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Check records an attempt for key. The first attempt of a window starts a
// new window of cfg.Window; once MaxAttempts have been counted, further
// attempts are denied without being counted.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, errors.New("rate limit key is empty")
	}
	now := l.now()
	var res Result
	err := l.store.Update(ctx, key, func(cur domain.RateLimitEntry, found bool) domain.RateLimitEntry {
		if !found || now.After(cur.WindowResetAt) {
			cur = domain.RateLimitEntry{Key: key, Count: 1, WindowResetAt: now.Add(l.cfg.Window)}
			res = Result{Allowed: true, Remaining: l.cfg.MaxAttempts - 1}
		} else if cur.Count >= l.cfg.MaxAttempts {
			res = Result{Allowed: false, Remaining: 0}
		} else {
			cur.Count++
			res = Result{Allowed: true, Remaining: l.cfg.MaxAttempts - cur.Count}
		}
		res.RetryAfter = cur.WindowResetAt.Sub(now)
		return cur
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}
	return res, nil
}

// Reset clears the counter for key, typically after a successful login.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}

// Sweep drops every entry whose window has elapsed.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	n, err := l.store.Sweep(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("rate limit sweep: %w", err)
	}
	return n, nil
}

// Run sweeps every interval until ctx is done. Sweep errors are passed to
// onSweep along with the count so the caller can log them.
func (l *Limiter) Run(ctx context.Context, interval time.Duration, onSweep func(int, error)) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Sweep(ctx)
			if onSweep != nil {
				onSweep(n, err)
			}
		}
	}
}
