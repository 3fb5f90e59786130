package textprep

import (
	"strings"

	"github.com/newpennine/orderextract/internal/document"
)

// Chunk splits a document that will not fit the per-request budget into
// token-bounded pieces. Per-page chunks are preferred; a page that still
// exceeds the budget is split further by line. Every chunk is prefixed with
// the document's header lines so the backend keeps order context.
func Chunk(doc *document.ExtractedDocument, maxTokensPerChunk int) []string {
	header := HeaderInfo(doc.Text)

	if len(doc.Pages) > 1 {
		var chunks []string
		for _, page := range doc.Pages {
			text := page.Text
			if header != "" {
				text = header + "\n" + text
			}
			if EstimateTokens(text) <= maxTokensPerChunk {
				chunks = append(chunks, text)
			} else {
				chunks = append(chunks, splitByLines(text, maxTokensPerChunk)...)
			}
		}
		return chunks
	}

	return splitByProductCodes(doc.Text, maxTokensPerChunk)
}

// splitByLines accumulates lines into a chunk until the next line would
// exceed the token budget, then starts a new chunk.
func splitByLines(text string, maxTokens int) []string {
	var chunks []string
	var current strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if current.Len() > 0 && EstimateTokens(current.String()+"\n"+line) > maxTokens {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitByProductCodes is the secondary strategy used when page structure is
// unavailable: it splits at detected product-code boundaries so a product's
// lines stay together.
func splitByProductCodes(text string, maxTokens int) []string {
	matches := productCodeLine.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}

	var chunks []string
	current := text[:matches[0][0]]
	for i := range matches {
		start := matches[i][0]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		product := text[start:end]

		if current != "" && EstimateTokens(current+product) > maxTokens {
			chunks = append(chunks, current)
			current = product
		} else {
			current += product
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}
