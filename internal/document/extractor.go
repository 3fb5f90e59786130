package document

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/newpennine/orderextract/internal/common"
)

// Page is one segment of the document text.
type Page struct {
	Number int
	Text   string
}

// ExtractedDocument is the plain-text view of an order document. It is
// derived once per request and never mutated afterwards.
type ExtractedDocument struct {
	Text      string
	Pages     []Page
	PageCount int
	Title     string
	Author    string
}

// Config bounds text extraction.
type Config struct {
	// MaxPages caps how many pages are read; documents beyond the cap are
	// rejected to bound memory.
	MaxPages int
	// LineThreshold is the vertical distance (in PDF user-space units) between
	// consecutive fragments that starts a new line.
	LineThreshold float64
}

// Extractor converts raw PDF bytes into an ExtractedDocument.
type Extractor struct {
	cfg    Config
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.LineThreshold <= 0 {
		cfg.LineThreshold = 5.0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, logger: logger}
}

// Extract parses the document bytes. Fatal only on unparsable binary, which
// is reported as common.ErrDocumentParse.
func (e *Extractor) Extract(raw []byte) (*ExtractedDocument, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, common.NewAppError("DOCUMENT_PARSE", "open pdf", fmt.Errorf("%w: %v", common.ErrDocumentParse, err))
	}

	numPages := reader.NumPage()
	if numPages > e.cfg.MaxPages {
		return nil, common.NewAppError("DOCUMENT_PARSE",
			fmt.Sprintf("page count %d exceeds cap %d", numPages, e.cfg.MaxPages),
			common.ErrDocumentParse)
	}

	doc := &ExtractedDocument{PageCount: numPages}
	e.readInfo(reader, doc)

	var full strings.Builder
	perPageOK := true
	for i := 1; i <= numPages; i++ {
		pageText, ok := e.extractPage(reader, i)
		if !ok {
			perPageOK = false
			break
		}
		doc.Pages = append(doc.Pages, Page{Number: i, Text: pageText})
		if full.Len() > 0 {
			full.WriteString("\n")
		}
		full.WriteString(pageText)
	}

	if perPageOK {
		doc.Text = full.String()
	} else {
		// Positioned content was unreadable for some page; fall back to the
		// whole-document plain text stream and segment it heuristically.
		plain, err := e.plainText(reader)
		if err != nil {
			return nil, common.NewAppError("DOCUMENT_PARSE", "read text stream", fmt.Errorf("%w: %v", common.ErrDocumentParse, err))
		}
		doc.Text = plain
		doc.Pages = segmentPages(plain)
		doc.PageCount = len(doc.Pages)
	}

	if strings.TrimSpace(doc.Text) == "" {
		return nil, common.NewAppError("DOCUMENT_PARSE", "document contains no extractable text", common.ErrDocumentParse)
	}

	e.logger.Debug("document.extract.ok",
		"pages", doc.PageCount,
		"text_len", len(doc.Text),
		"positioned", perPageOK,
	)
	return doc, nil
}

// extractPage reconstructs a page's visual line structure from positioned
// fragments. A new line starts whenever the vertical position shifts by more
// than the configured threshold.
func (e *Extractor) extractPage(reader *pdf.Reader, pageNum int) (string, bool) {
	defer func() {
		// ledongthuc/pdf panics on some malformed content streams.
		_ = recover()
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return "", false
	}
	frags := page.Content().Text
	if len(frags) == 0 {
		return "", true
	}

	// Reading order: top-to-bottom (Y descending), then left-to-right.
	sort.SliceStable(frags, func(i, j int) bool {
		if math.Abs(frags[i].Y-frags[j].Y) > e.cfg.LineThreshold {
			return frags[i].Y > frags[j].Y
		}
		return frags[i].X < frags[j].X
	})

	var b strings.Builder
	lastY := frags[0].Y
	lastEnd := frags[0].X
	for i, f := range frags {
		if i > 0 {
			if math.Abs(f.Y-lastY) > e.cfg.LineThreshold {
				b.WriteString("\n")
				lastY = f.Y
			} else if f.X-lastEnd > f.FontSize*0.3 {
				b.WriteString(" ")
			}
		}
		b.WriteString(f.S)
		lastEnd = f.X + f.W
	}
	return b.String(), true
}

func (e *Extractor) plainText(reader *pdf.Reader) (string, error) {
	r, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *Extractor) readInfo(reader *pdf.Reader, doc *ExtractedDocument) {
	defer func() { _ = recover() }()
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return
	}
	if v := info.Key("Title"); v.Kind() == pdf.String {
		doc.Title = v.RawString()
	}
	if v := info.Key("Author"); v.Kind() == pdf.String {
		doc.Author = v.RawString()
	}
}

// segmentPages recovers page boundaries from a flat text stream, in priority
// order: explicit page-break markers, a "total pages" marker with equal
// splitting, else a single page.
func segmentPages(text string) []Page {
	if parts := strings.Split(text, "\f"); len(parts) > 1 {
		pages := make([]Page, 0, len(parts))
		for i, p := range parts {
			pages = append(pages, Page{Number: i + 1, Text: p})
		}
		return pages
	}

	if n := totalPagesMarker(text); n > 1 {
		return equalSplit(text, n)
	}

	return []Page{{Number: 1, Text: text}}
}

func totalPagesMarker(text string) int {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, "total number of pages")
	if idx < 0 {
		idx = strings.Index(lower, "total pages")
	}
	if idx < 0 {
		return 0
	}
	rest := lower[idx:]
	for i := 0; i < len(rest); i++ {
		if rest[i] >= '0' && rest[i] <= '9' {
			j := i
			for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
				j++
			}
			n, err := strconv.Atoi(rest[i:j])
			if err != nil {
				return 0
			}
			return n
		}
		// Stop scanning past the marker's own line.
		if rest[i] == '\n' {
			break
		}
	}
	return 0
}

// equalSplit divides text into n roughly-equal segments, snapping each
// boundary forward to the next newline within 200 characters so lines are
// never cut mid-way.
func equalSplit(text string, n int) []Page {
	const snapWindow = 200
	size := len(text) / n
	pages := make([]Page, 0, n)
	start := 0
	for i := 1; i <= n; i++ {
		end := start + size
		if i == n || end >= len(text) {
			end = len(text)
		} else {
			limit := end + snapWindow
			if limit > len(text) {
				limit = len(text)
			}
			if nl := strings.IndexByte(text[end:limit], '\n'); nl >= 0 {
				end += nl + 1
			}
		}
		pages = append(pages, Page{Number: i, Text: text[start:end]})
		start = end
		if start >= len(text) {
			break
		}
	}
	return pages
}
