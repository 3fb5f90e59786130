package monitor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/newpennine/orderextract/constants"
)

// Report renders the trailing-window stats as a markdown document for batch
// run summaries and operator checks.
func (m *Monitor) Report(window time.Duration) string {
	st := m.Stats(window)
	h := m.Health()

	var b strings.Builder
	b.WriteString("# Extraction Report\n\n")
	fmt.Fprintf(&b, "Window: %s | Generated: %s\n\n", st.Window, m.now().Format(time.RFC3339))

	fmt.Fprintf(&b, "## Health: %s\n\n", h.Status)
	for _, rec := range h.Recommendations {
		fmt.Fprintf(&b, "- %s\n", rec)
	}
	if len(h.Recommendations) > 0 {
		b.WriteString("\n")
	}

	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Attempts | %d |\n", st.Total)
	fmt.Fprintf(&b, "| Success rate | %.1f%% |\n", st.SuccessRate*100)
	fmt.Fprintf(&b, "| Cache hit rate | %.1f%% |\n", st.CacheHitRate*100)
	fmt.Fprintf(&b, "| p50 latency | %s |\n", st.P50Latency)
	fmt.Fprintf(&b, "| p95 latency | %s |\n", st.P95Latency)
	fmt.Fprintf(&b, "| p99 latency | %s |\n", st.P99Latency)
	fmt.Fprintf(&b, "| Tokens used | %d |\n", st.TotalTokens)
	fmt.Fprintf(&b, "| Tokens per product | %.1f |\n", st.TokensPerItem)
	fmt.Fprintf(&b, "| Estimated cost | $%.4f |\n\n", st.EstimatedCost)

	if len(st.ByMethod) > 0 {
		b.WriteString("## By method\n\n| Method | Attempts |\n|---|---|\n")
		methods := make([]string, 0, len(st.ByMethod))
		for k := range st.ByMethod {
			methods = append(methods, string(k))
		}
		sort.Strings(methods)
		for _, k := range methods {
			fmt.Fprintf(&b, "| %s | %d |\n", k, st.ByMethod[constants.ExtractionMethod(k)])
		}
		b.WriteString("\n")
	}

	if len(st.TopFailures) > 0 {
		b.WriteString("## Top failures\n\n| Reason | Count |\n|---|---|\n")
		for _, f := range st.TopFailures {
			fmt.Fprintf(&b, "| %s | %d |\n", f.Reason, f.Count)
		}
		b.WriteString("\n")
	}

	if results := m.VariantResults(); len(results) > 0 {
		sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
		b.WriteString("## Experiment arms\n\n| Arm | Samples | Success | Avg tokens | Avg latency | Confidence |\n|---|---|---|---|---|---|\n")
		for _, r := range results {
			fmt.Fprintf(&b, "| %s | %d | %.1f%% | %.0f | %s | %d%% |\n",
				r.Name, r.Samples, r.SuccessRate*100, r.AvgTokens, r.AvgLatency, r.Confidence)
		}
		b.WriteString("\n")
	}
	return b.String()
}
