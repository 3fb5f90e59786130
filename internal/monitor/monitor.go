// Package monitor tracks extraction attempts in a bounded in-memory ring and
// derives success, latency, token, and cost aggregates from it.
package monitor

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/newpennine/orderextract/constants"
)

const (
	ringCapacity       = 1000
	defaultStatsWindow = 24 * time.Hour
)

// Record is one extraction attempt as observed by the orchestrator.
type Record struct {
	Timestamp     time.Time
	Method        constants.ExtractionMethod
	Success       bool
	Duration      time.Duration
	TokensUsed    int
	ProductCount  int
	CacheHit      bool
	Model         string
	FailureReason string
	Variant       string
}

// modelCost is USD per 1K tokens.
type modelCost struct {
	input  float64
	output float64
}

var tokenCosts = map[string]modelCost{
	"gpt-4o":        {input: 0.005, output: 0.015},
	"gpt-4o-mini":   {input: 0.00015, output: 0.0006},
	"gpt-3.5-turbo": {input: 0.001, output: 0.002},
}

var defaultTokenCost = tokenCosts["gpt-4o-mini"]

// recordCost prices one attempt, splitting its tokens 70/30 between input
// and output. Unpriced models use the default model's rates.
func recordCost(r Record) float64 {
	c, ok := tokenCosts[r.Model]
	if !ok {
		c = defaultTokenCost
	}
	tokens := float64(r.TokensUsed)
	return tokens*0.7/1000*c.input + tokens*0.3/1000*c.output
}

// Stats aggregates records inside a trailing window.
type Stats struct {
	Window        time.Duration
	Total         int
	Successes     int
	Failures      int
	SuccessRate   float64
	CacheHits     int
	CacheHitRate  float64
	P50Latency    time.Duration
	P95Latency    time.Duration
	P99Latency    time.Duration
	TotalTokens   int
	TokensPerItem float64
	EstimatedCost float64
	ByMethod      map[constants.ExtractionMethod]int
	TopFailures   []FailureCount
}

// FailureCount pairs a failure reason with its occurrence count.
type FailureCount struct {
	Reason string
	Count  int
}

// Thresholds bounds the health checks. Zero fields take the defaults.
type Thresholds struct {
	CriticalSuccessRate float64       // unhealthy below this
	MinSuccessRate      float64       // degraded below this
	MaxP95Latency       time.Duration // degraded above this
	MaxTokensPerItem    float64       // degraded above this
	MinCacheHitRate     float64       // degraded below this
	BurstWindow         time.Duration
	BurstFailures       int // unhealthy above this many failures per burst window
	MinSamples          int // efficiency checks need at least this many records
}

// DefaultThresholds returns the stock health bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CriticalSuccessRate: 0.50,
		MinSuccessRate:      0.90,
		MaxP95Latency:       10 * time.Second,
		MaxTokensPerItem:    500,
		MinCacheHitRate:     0.20,
		BurstWindow:         5 * time.Minute,
		BurstFailures:       5,
		MinSamples:          20,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.CriticalSuccessRate <= 0 {
		t.CriticalSuccessRate = d.CriticalSuccessRate
	}
	if t.MinSuccessRate <= 0 {
		t.MinSuccessRate = d.MinSuccessRate
	}
	if t.MaxP95Latency <= 0 {
		t.MaxP95Latency = d.MaxP95Latency
	}
	if t.MaxTokensPerItem <= 0 {
		t.MaxTokensPerItem = d.MaxTokensPerItem
	}
	if t.MinCacheHitRate <= 0 {
		t.MinCacheHitRate = d.MinCacheHitRate
	}
	if t.BurstWindow <= 0 {
		t.BurstWindow = d.BurstWindow
	}
	if t.BurstFailures <= 0 {
		t.BurstFailures = d.BurstFailures
	}
	if t.MinSamples <= 0 {
		t.MinSamples = d.MinSamples
	}
	return t
}

// Health is the rolled-up service condition.
type Health struct {
	Status          string // "healthy", "degraded", "unhealthy"
	SuccessRate     float64
	RecentFailures  int
	Message         string
	Recommendations []string
}

// Monitor holds the attempt ring. Safe for concurrent use.
type Monitor struct {
	mu     sync.Mutex
	ring   []Record
	next   int
	filled bool
	logger *slog.Logger

	thresholds Thresholds

	variants        []Variant
	variantTally    map[string]*variantStats
	variantSelector func([]Variant) Variant

	now func() time.Time
}

func New(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		ring:         make([]Record, ringCapacity),
		logger:       logger,
		thresholds:   DefaultThresholds(),
		variantTally: map[string]*variantStats{},
		now:          time.Now,
	}
}

// SetThresholds replaces the health bounds. Zero fields keep the defaults.
func (m *Monitor) SetThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t.withDefaults()
}

// Observe appends one attempt record.
func (m *Monitor) Observe(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}
	m.mu.Lock()
	m.ring[m.next] = rec
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.filled = true
	}
	if rec.Variant != "" {
		m.tallyVariantLocked(rec)
	}
	m.mu.Unlock()

	if !rec.Success {
		m.logger.Warn("monitor.attempt.failed",
			"method", string(rec.Method),
			"reason", rec.FailureReason,
			"duration_ms", rec.Duration.Milliseconds(),
		)
	}
}

// snapshot returns records inside the trailing window, oldest first.
func (m *Monitor) snapshot(window time.Duration) []Record {
	cutoff := m.now().Add(-window)
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.filled {
		size = len(m.ring)
	}
	out := make([]Record, 0, size)
	start := 0
	if m.filled {
		start = m.next
	}
	for i := 0; i < size; i++ {
		rec := m.ring[(start+i)%len(m.ring)]
		if rec.Timestamp.After(cutoff) {
			out = append(out, rec)
		}
	}
	return out
}

// Stats aggregates the trailing window; zero means the 24h default.
func (m *Monitor) Stats(window time.Duration) Stats {
	if window <= 0 {
		window = defaultStatsWindow
	}
	recs := m.snapshot(window)

	st := Stats{
		Window:   window,
		ByMethod: map[constants.ExtractionMethod]int{},
	}
	var latencies []time.Duration
	var products int
	failures := map[string]int{}

	for _, r := range recs {
		st.Total++
		if r.Success {
			st.Successes++
		} else {
			st.Failures++
			if r.FailureReason != "" {
				failures[r.FailureReason]++
			}
		}
		if r.CacheHit {
			st.CacheHits++
		}
		st.TotalTokens += r.TokensUsed
		st.EstimatedCost += recordCost(r)
		products += r.ProductCount
		st.ByMethod[r.Method]++
		latencies = append(latencies, r.Duration)
	}
	if st.Total > 0 {
		st.SuccessRate = float64(st.Successes) / float64(st.Total)
		st.CacheHitRate = float64(st.CacheHits) / float64(st.Total)
	}
	if products > 0 {
		st.TokensPerItem = float64(st.TotalTokens) / float64(products)
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	st.P50Latency = percentile(latencies, 0.50)
	st.P95Latency = percentile(latencies, 0.95)
	st.P99Latency = percentile(latencies, 0.99)

	for reason, count := range failures {
		st.TopFailures = append(st.TopFailures, FailureCount{Reason: reason, Count: count})
	}
	sort.Slice(st.TopFailures, func(i, j int) bool {
		if st.TopFailures[i].Count != st.TopFailures[j].Count {
			return st.TopFailures[i].Count > st.TopFailures[j].Count
		}
		return st.TopFailures[i].Reason < st.TopFailures[j].Reason
	})
	if len(st.TopFailures) > 5 {
		st.TopFailures = st.TopFailures[:5]
	}
	return st
}

// Health reports the service condition. A burst of failures inside the burst
// window flips the status to unhealthy even when the long-window success rate
// still looks fine. Latency, token efficiency, and cache checks only engage
// once enough records exist to make the rates meaningful.
func (m *Monitor) Health() Health {
	m.mu.Lock()
	t := m.thresholds
	m.mu.Unlock()

	recent := m.snapshot(t.BurstWindow)
	recentFailures := 0
	for _, r := range recent {
		if !r.Success {
			recentFailures++
		}
	}
	day := m.Stats(defaultStatsWindow)

	h := Health{Status: "healthy", SuccessRate: day.SuccessRate, RecentFailures: recentFailures}
	recommend := func(status, msg string) {
		if status == "unhealthy" || h.Status == "healthy" {
			h.Status = status
		}
		h.Recommendations = append(h.Recommendations, msg)
	}

	switch {
	case recentFailures > t.BurstFailures:
		recommend("unhealthy", fmt.Sprintf("%d failures in the last %s, inspect the top failure reasons", recentFailures, t.BurstWindow))
	case day.Total > 0 && day.SuccessRate < t.CriticalSuccessRate:
		recommend("unhealthy", fmt.Sprintf("success rate %.0f%% below the critical %.0f%% bound", day.SuccessRate*100, t.CriticalSuccessRate*100))
	case day.Total > 0 && day.SuccessRate < t.MinSuccessRate:
		recommend("degraded", fmt.Sprintf("success rate %.0f%% below the %.0f%% bound", day.SuccessRate*100, t.MinSuccessRate*100))
	}
	if day.Total >= t.MinSamples {
		if day.P95Latency > t.MaxP95Latency {
			recommend("degraded", fmt.Sprintf("p95 latency %s exceeds the %s bound, consider smaller chunks or a faster model", day.P95Latency, t.MaxP95Latency))
		}
		if day.TokensPerItem > t.MaxTokensPerItem {
			recommend("degraded", fmt.Sprintf("%.0f tokens per product exceeds the %.0f bound, tighten preprocessing", day.TokensPerItem, t.MaxTokensPerItem))
		}
		if day.CacheHitRate < t.MinCacheHitRate {
			recommend("degraded", fmt.Sprintf("cache hit rate %.0f%% below the %.0f%% bound, check cache sizing and TTL", day.CacheHitRate*100, t.MinCacheHitRate*100))
		}
	}
	if len(h.Recommendations) > 0 {
		h.Message = h.Recommendations[0]
	}
	return h
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
