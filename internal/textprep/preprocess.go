// Package textprep prepares extracted document text for completion calls:
// it isolates the product-table region, bounds the token budget, and splits
// oversized documents into chunks.
package textprep

import (
	"regexp"
	"strings"

	"github.com/newpennine/orderextract/internal/document"
)

// charsPerToken is a fixed approximation (1 token ≈ 4 characters of English
// text). It is a heuristic for budgeting, not ground truth from a tokenizer.
const charsPerToken = 4

// EstimateTokens approximates the token count of text as ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

var (
	tableMarkers = []*regexp.Regexp{
		regexp.MustCompile(`(?is)Item\s+Code.*?Pack\s+Size`),
		regexp.MustCompile(`(?is)Product\s+Code.*?Description`),
		regexp.MustCompile(`(?is)Code.*?Qty`),
	}
	productCodeLine = regexp.MustCompile(`(?m)^[A-Z][A-Z0-9]{2,}`)
	headerLine      = regexp.MustCompile(`(?i)Order\s+Reference|Account\s+No|Delivery\s+Address`)
	tableStartLine  = regexp.MustCompile(`(?i)Item\s+Code|Product\s+Code`)
	excessNewlines  = regexp.MustCompile(`\n{3,}`)
	excessSpaces    = regexp.MustCompile(`[ \t]{2,}`)
)

// Optimized is the preprocessed view of a document for a single completion call.
type Optimized struct {
	Text            string
	EstimatedTokens int
}

// Optimize isolates the product section, cleans noise, and truncates the text
// to maxTokens. The returned token count is the post-truncation estimate.
func Optimize(doc *document.ExtractedDocument, maxTokens int) Optimized {
	text := ProductSection(doc.Text)
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	text = excessSpaces.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	text = TruncateToTokens(text, maxTokens)
	return Optimized{Text: text, EstimatedTokens: EstimateTokens(text)}
}

// ProductSection returns the slice of text starting at the product table.
// When no table header matches, it backs up 100 characters before the first
// product-code-shaped line for context; when nothing matches at all, the
// whole text is used unmodified.
func ProductSection(text string) string {
	for _, marker := range tableMarkers {
		if loc := marker.FindStringIndex(text); loc != nil {
			return text[loc[0]:]
		}
	}
	if loc := productCodeLine.FindStringIndex(text); loc != nil {
		start := loc[0] - 100
		if start < 0 {
			start = 0
		}
		return text[start:]
	}
	return text
}

// HeaderInfo collects the order-header lines (reference, account, delivery
// address) that chunked calls prepend so every chunk keeps context. Scanning
// stops at the product table or after ten header lines.
func HeaderInfo(text string) string {
	var header []string
	for _, line := range strings.Split(text, "\n") {
		if headerLine.MatchString(line) {
			header = append(header, line)
		}
		if tableStartLine.MatchString(line) {
			break
		}
		if len(header) > 10 {
			break
		}
	}
	return strings.Join(header, "\n")
}

// TruncateToTokens cuts text to the maxTokens budget. The cut prefers the
// last complete section boundary when it falls within the final 20% of the
// budget; otherwise it is a hard cut at the character limit.
func TruncateToTokens(text string, maxTokens int) string {
	maxChars := maxTokens * charsPerToken
	if len(text) <= maxChars {
		return text
	}
	truncated := text[:maxChars]
	if boundary := strings.LastIndex(truncated, "\n==="); boundary > maxChars*4/5 {
		return truncated[:boundary]
	}
	return truncated
}
