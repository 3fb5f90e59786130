package validator

import "github.com/agext/levenshtein"

// Similarity scores two codes in [0,1] as an edit-distance ratio over the
// combined length; 1.0 means identical. Comparison is symmetric.
func Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0.0
		}
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	total := len([]rune(a)) + len([]rune(b))
	dist := levenshtein.Distance(a, b, nil)
	return float64(total-dist) / float64(total)
}
