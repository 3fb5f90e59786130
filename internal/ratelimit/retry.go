package ratelimit

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

// RetryPolicy is the single backoff policy applied at every backoff site.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	CapDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 1.5
	}
	if p.CapDelay <= 0 {
		p.CapDelay = 30 * time.Second
	}
	return p
}

// Delay computes the exponential backoff delay for a zero-based attempt,
// capped at CapDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if d > p.CapDelay {
		d = p.CapDelay
	}
	return d
}

var retryAfterPattern = regexp.MustCompile(`(?i)try again in ([\d.]+)\s*s`)

// ParseRetryAfter extracts the backend-provided retry hint from messages of
// the form "try again in 2.5s" or "try again in 20 seconds". Zero means no
// hint was present.
func ParseRetryAfter(msg string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return time.Duration(math.Ceil(secs)) * time.Second
}
