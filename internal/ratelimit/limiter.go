// Package ratelimit paces calls to the completion backend. Admission combines
// a sliding 60-second window with a minimum inter-call spacing; rate-limit
// errors reported by callers suspend them per the backoff policy.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const window = time.Minute

// Config holds admission and backoff parameters.
type Config struct {
	RequestsPerMinute int
	MinInterval       time.Duration
	Backoff           RetryPolicy
}

// Limiter admits calls at a bounded rate. Safe for concurrent use.
type Limiter struct {
	cfg     Config
	spacing *rate.Limiter // enforces MinInterval between admissions
	logger  *slog.Logger

	mu    sync.Mutex
	calls []time.Time // admission timestamps within the trailing window

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewLimiter(cfg Config, logger *slog.Logger) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 20
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 100 * time.Millisecond
	}
	cfg.Backoff = cfg.Backoff.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		cfg:     cfg,
		spacing: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Acquire suspends until a call is permitted, then records the admission.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.calls) < l.cfg.RequestsPerMinute {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			break
		}
		// Window full: wait until the oldest admission slides out, plus a
		// small margin so the re-check does not race the boundary.
		wait := l.calls[0].Add(window).Sub(now) + 100*time.Millisecond
		l.mu.Unlock()

		l.logger.Debug("ratelimit.window_full", "wait_ms", wait.Milliseconds(), "ceiling", l.cfg.RequestsPerMinute)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	return l.spacing.Wait(ctx)
}

// ReportRateLimited suspends the caller after a rate-limit-classified error.
// The backend-provided retry-after hint wins when present; otherwise the
// backoff policy's delay for the given attempt applies.
func (l *Limiter) ReportRateLimited(ctx context.Context, retryAfter time.Duration, attempt int) error {
	delay := retryAfter
	if delay <= 0 {
		delay = l.cfg.Backoff.Delay(attempt)
	}
	l.logger.Warn("ratelimit.backoff", "delay_ms", delay.Milliseconds(), "attempt", attempt)
	return l.sleep(ctx, delay)
}

// MaxRetries exposes the backoff policy's attempt bound.
func (l *Limiter) MaxRetries() int {
	return l.cfg.Backoff.MaxAttempts
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.calls) && l.calls[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
