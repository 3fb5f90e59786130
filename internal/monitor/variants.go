package monitor

import (
	"math/rand"
	"time"
)

// Variant is one arm of a prompt or model experiment. A non-empty Model or
// Prompt overrides the completion defaults for calls assigned to the arm.
type Variant struct {
	Name   string
	Weight float64 // relative selection weight, > 0
	Model  string
	Prompt string
}

type variantStats struct {
	total       int
	successes   int
	totalTokens int
	totalTime   time.Duration
}

// VariantResult summarizes one experiment arm.
type VariantResult struct {
	Name        string
	Samples     int
	SuccessRate float64
	AvgTokens   float64
	AvgLatency  time.Duration
	Confidence  int // rough confidence percentage from sample size
}

// SetVariants installs the experiment arms. Passing none disables selection.
func (m *Monitor) SetVariants(variants []Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants = variants
}

// SelectVariant picks an arm by weight. The zero Variant is returned when no
// experiment is running, leaving the completion defaults in force.
func (m *Monitor) SelectVariant() Variant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.variants) == 0 {
		return Variant{}
	}
	if m.variantSelector != nil {
		return m.variantSelector(m.variants)
	}
	var total float64
	for _, v := range m.variants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total <= 0 {
		return m.variants[0]
	}
	r := rand.Float64() * total
	for _, v := range m.variants {
		if v.Weight <= 0 {
			continue
		}
		r -= v.Weight
		if r < 0 {
			return v
		}
	}
	return m.variants[len(m.variants)-1]
}

// tallyVariantLocked accumulates per-arm stats. Caller holds the lock.
func (m *Monitor) tallyVariantLocked(rec Record) {
	vs, ok := m.variantTally[rec.Variant]
	if !ok {
		vs = &variantStats{}
		m.variantTally[rec.Variant] = vs
	}
	vs.total++
	if rec.Success {
		vs.successes++
	}
	vs.totalTokens += rec.TokensUsed
	vs.totalTime += rec.Duration
}

// VariantResults reports every arm seen so far.
func (m *Monitor) VariantResults() []VariantResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]VariantResult, 0, len(m.variantTally))
	for name, vs := range m.variantTally {
		vr := VariantResult{
			Name:       name,
			Samples:    vs.total,
			Confidence: sampleConfidence(vs.total),
		}
		if vs.total > 0 {
			vr.SuccessRate = float64(vs.successes) / float64(vs.total)
			vr.AvgTokens = float64(vs.totalTokens) / float64(vs.total)
			vr.AvgLatency = vs.totalTime / time.Duration(vs.total)
		}
		out = append(out, vr)
	}
	return out
}

// sampleConfidence buckets sample counts into a coarse confidence figure.
func sampleConfidence(n int) int {
	switch {
	case n >= 1000:
		return 95
	case n >= 300:
		return 90
	case n >= 100:
		return 75
	case n >= 30:
		return 50
	default:
		return 0
	}
}
