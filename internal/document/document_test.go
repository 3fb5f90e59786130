package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCompleteDocument(t *testing.T) {
	text := "Order Reference: 0012345\nItem Code Description Qty\nMHL10 Pallet 4\n"
	v := Validate(text)
	assert.True(t, v.IsValid)
	assert.Empty(t, v.MissingElements)
}

func TestValidateMissingElements(t *testing.T) {
	v := Validate("completely unrelated text")
	assert.False(t, v.IsValid)
	assert.ElementsMatch(t, []string{"order reference", "product table", "quantity column"}, v.MissingElements)
}

func TestValidateCodeLineSatisfiesProductTable(t *testing.T) {
	// no table header, but a product-code-shaped line at line start
	text := "Order No: 42\nMHL10 Pallet\nQty 4"
	v := Validate(text)
	assert.True(t, v.IsValid)
}

func TestSegmentPagesFormFeed(t *testing.T) {
	pages := segmentPages("page one\fpage two\fpage three")
	require.Len(t, pages, 3)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "page one", pages[0].Text)
	assert.Equal(t, "page three", pages[2].Text)
}

func TestSegmentPagesTotalMarker(t *testing.T) {
	body := strings.Repeat("order line data\n", 50)
	text := "Total Number of Pages: 2\n" + body
	pages := segmentPages(text)
	require.Len(t, pages, 2)
	assert.Equal(t, text, pages[0].Text+pages[1].Text, "splitting must not lose text")
	for _, p := range pages {
		if p.Number < len(pages) {
			assert.True(t, strings.HasSuffix(p.Text, "\n"), "boundaries snap to line ends")
		}
	}
}

func TestSegmentPagesSingle(t *testing.T) {
	pages := segmentPages("just one page of text")
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Number)
}

func TestTotalPagesMarker(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"Total Number of Pages: 3", 3},
		{"total pages 12", 12},
		{"Total Pages:\nnothing here", 0},
		{"no marker at all", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, totalPagesMarker(tc.text), "text %q", tc.text)
	}
}

func TestEqualSplitCoversAllText(t *testing.T) {
	text := strings.Repeat("abcdefghij\n", 40)
	pages := equalSplit(text, 4)
	var joined strings.Builder
	for _, p := range pages {
		joined.WriteString(p.Text)
	}
	assert.Equal(t, text, joined.String())
	assert.LessOrEqual(t, len(pages), 4)
}

func TestExtractRejectsGarbageBytes(t *testing.T) {
	e := NewExtractor(Config{}, nil)
	_, err := e.Extract([]byte("this is not a pdf"))
	require.Error(t, err)
}
