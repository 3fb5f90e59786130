package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newpennine/orderextract/constants"
)

func TestStatsAggregation(t *testing.T) {
	m := New(nil)
	base := time.Now()
	m.now = func() time.Time { return base }

	for i := 0; i < 8; i++ {
		m.Observe(Record{
			Timestamp:    base.Add(-time.Minute),
			Method:       constants.MethodPrimary,
			Success:      true,
			Duration:     time.Duration(i+1) * 100 * time.Millisecond,
			TokensUsed:   500,
			ProductCount: 5,
		})
	}
	m.Observe(Record{
		Timestamp:     base.Add(-time.Minute),
		Method:        constants.MethodChunked,
		Success:       false,
		FailureReason: "parse failed",
	})
	m.Observe(Record{
		Timestamp: base.Add(-time.Minute),
		Method:    constants.MethodCache,
		Success:   true,
		CacheHit:  true,
	})

	st := m.Stats(time.Hour)
	assert.Equal(t, 10, st.Total)
	assert.Equal(t, 9, st.Successes)
	assert.InDelta(t, 0.9, st.SuccessRate, 0.001)
	assert.InDelta(t, 0.1, st.CacheHitRate, 0.001)
	assert.Equal(t, 4000, st.TotalTokens)
	assert.InDelta(t, 100.0, st.TokensPerItem, 0.001)
	assert.Equal(t, 8, st.ByMethod[constants.MethodPrimary])
	require.Len(t, st.TopFailures, 1)
	assert.Equal(t, "parse failed", st.TopFailures[0].Reason)
	assert.Greater(t, st.P95Latency, st.P50Latency)
}

func TestStatsWindowExcludesOldRecords(t *testing.T) {
	m := New(nil)
	base := time.Now()
	m.now = func() time.Time { return base }

	m.Observe(Record{Timestamp: base.Add(-2 * time.Hour), Method: constants.MethodPrimary, Success: true})
	m.Observe(Record{Timestamp: base.Add(-time.Minute), Method: constants.MethodPrimary, Success: true})

	assert.Equal(t, 1, m.Stats(time.Hour).Total)
	assert.Equal(t, 2, m.Stats(3*time.Hour).Total)
}

func TestHealthFailureBurst(t *testing.T) {
	m := New(nil)
	base := time.Now()
	m.now = func() time.Time { return base }

	// long-window success rate stays high
	for i := 0; i < 200; i++ {
		m.Observe(Record{Timestamp: base.Add(-6 * time.Hour), Method: constants.MethodPrimary, Success: true})
	}
	// six failures inside the trailing five minutes
	for i := 0; i < 6; i++ {
		m.Observe(Record{Timestamp: base.Add(-time.Minute), Method: constants.MethodPrimary, Success: false, FailureReason: "timeout"})
	}

	h := m.Health()
	assert.Equal(t, "unhealthy", h.Status)
	assert.Equal(t, 6, h.RecentFailures)
	assert.Greater(t, h.SuccessRate, 0.95)
}

func TestHealthHealthy(t *testing.T) {
	m := New(nil)
	m.Observe(Record{Method: constants.MethodPrimary, Success: true})
	assert.Equal(t, "healthy", m.Health().Status)
}

func TestRingOverwrite(t *testing.T) {
	m := New(nil)
	base := time.Now()
	m.now = func() time.Time { return base }

	for i := 0; i < ringCapacity+50; i++ {
		m.Observe(Record{Timestamp: base.Add(-time.Minute), Method: constants.MethodPrimary, Success: true})
	}
	assert.Equal(t, ringCapacity, m.Stats(time.Hour).Total)
}

func TestVariantSelectionAndTally(t *testing.T) {
	m := New(nil)
	m.SetVariants([]Variant{{Name: "a", Weight: 1}, {Name: "b", Weight: 1}})

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[m.SelectVariant().Name] = true
	}
	assert.True(t, seen["a"])
	assert.True(t, seen["b"])

	for i := 0; i < 40; i++ {
		m.Observe(Record{Method: constants.MethodPrimary, Success: i%2 == 0, TokensUsed: 100, Variant: "a"})
	}
	results := m.VariantResults()
	require.Len(t, results, 1)
	assert.Equal(t, 40, results[0].Samples)
	assert.InDelta(t, 0.5, results[0].SuccessRate, 0.001)
	assert.Equal(t, 50, results[0].Confidence, "40 samples land in the 50%% bucket")
}

func TestReportRenders(t *testing.T) {
	m := New(nil)
	m.Observe(Record{Method: constants.MethodPrimary, Success: true, TokensUsed: 100, ProductCount: 2})
	m.Observe(Record{Method: constants.MethodPrimary, Success: true, TokensUsed: 100, ProductCount: 2})
	report := m.Report(time.Hour)
	assert.Contains(t, report, "# Extraction Report")
	assert.Contains(t, report, "Success rate")
	assert.Contains(t, report, "| "+string(constants.MethodPrimary)+" | 2 |")
}

func TestEstimatedCostSplitsByModel(t *testing.T) {
	m := New(nil)
	base := time.Now()
	m.now = func() time.Time { return base }

	m.Observe(Record{Timestamp: base.Add(-time.Minute), Method: constants.MethodPrimary, Success: true, TokensUsed: 1000, Model: "gpt-4o"})
	m.Observe(Record{Timestamp: base.Add(-time.Minute), Method: constants.MethodPrimary, Success: true, TokensUsed: 1000, Model: "gpt-4o-mini"})

	// 70/30 input/output split against each model's per-1K prices
	want4o := 0.7*0.005 + 0.3*0.015
	wantMini := 0.7*0.00015 + 0.3*0.0006
	assert.InDelta(t, want4o+wantMini, m.Stats(time.Hour).EstimatedCost, 1e-9)
}

func TestHealthDegradedOnSlowP95(t *testing.T) {
	m := New(nil)
	base := time.Now()
	m.now = func() time.Time { return base }
	m.SetThresholds(Thresholds{MaxP95Latency: 2 * time.Second, MinSamples: 10})

	for i := 0; i < 30; i++ {
		m.Observe(Record{
			Timestamp: base.Add(-time.Hour),
			Method:    constants.MethodPrimary,
			Success:   true,
			Duration:  5 * time.Second,
			CacheHit:  i%2 == 0, // keep the cache check quiet
		})
	}

	h := m.Health()
	assert.Equal(t, "degraded", h.Status)
	require.NotEmpty(t, h.Recommendations)
	assert.Contains(t, h.Recommendations[0], "p95 latency")
}

func TestHealthDegradedOnLowCacheHitRate(t *testing.T) {
	m := New(nil)
	base := time.Now()
	m.now = func() time.Time { return base }
	m.SetThresholds(Thresholds{MinCacheHitRate: 0.50, MinSamples: 10})

	for i := 0; i < 30; i++ {
		m.Observe(Record{Timestamp: base.Add(-time.Hour), Method: constants.MethodPrimary, Success: true})
	}

	h := m.Health()
	assert.Equal(t, "degraded", h.Status)
	joined := ""
	for _, r := range h.Recommendations {
		joined += r + "\n"
	}
	assert.Contains(t, joined, "cache hit rate")
}

func TestHealthEfficiencyChecksNeedSamples(t *testing.T) {
	m := New(nil)
	m.SetThresholds(Thresholds{MaxP95Latency: time.Millisecond, MinSamples: 100})
	m.Observe(Record{Method: constants.MethodPrimary, Success: true, Duration: time.Minute})
	assert.Equal(t, "healthy", m.Health().Status, "one slow record is not a trend")
}

func TestVariantCarriesModelOverride(t *testing.T) {
	m := New(nil)
	m.SetVariants([]Variant{{Name: "alt", Weight: 1, Model: "gpt-4o"}})
	v := m.SelectVariant()
	assert.Equal(t, "alt", v.Name)
	assert.Equal(t, "gpt-4o", v.Model)
}
