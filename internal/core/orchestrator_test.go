package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newpennine/orderextract/constants"
	"github.com/newpennine/orderextract/internal/cache"
	"github.com/newpennine/orderextract/internal/common"
	"github.com/newpennine/orderextract/internal/document"
	"github.com/newpennine/orderextract/internal/llm"
	"github.com/newpennine/orderextract/internal/monitor"
	"github.com/newpennine/orderextract/internal/ratelimit"
	"github.com/newpennine/orderextract/internal/validator"
)

type fakeDocs struct {
	doc *document.ExtractedDocument
	err error
}

func (f *fakeDocs) Extract([]byte) (*document.ExtractedDocument, error) {
	return f.doc, f.err
}

type scripted struct {
	result llm.ExtractResult
	err    error
}

type fakeCompletion struct {
	mu     sync.Mutex
	queue  []scripted
	calls  int
	models []string
}

func (f *fakeCompletion) ExtractOrders(_ context.Context, req llm.ExtractRequest) (llm.ExtractResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.models = append(f.models, req.Model)
	s := f.queue[len(f.queue)-1]
	if f.calls <= len(f.queue) {
		s = f.queue[f.calls-1]
	}
	return s.result, s.err
}

type funcCompletion struct {
	fn func(ctx context.Context, req llm.ExtractRequest) (llm.ExtractResult, error)
}

func (f funcCompletion) ExtractOrders(ctx context.Context, req llm.ExtractRequest) (llm.ExtractResult, error) {
	return f.fn(ctx, req)
}

type fakeSession struct {
	orders []llm.ExtractedOrder
	err    error
	called bool
}

func (f *fakeSession) Extract(context.Context, string, []byte) ([]llm.ExtractedOrder, error) {
	f.called = true
	return f.orders, f.err
}

func singlePageDoc(text string) *document.ExtractedDocument {
	return &document.ExtractedDocument{
		Text:      text,
		Pages:     []document.Page{{Number: 1, Text: text}},
		PageCount: 1,
	}
}

func multiPageDoc(pages ...string) *document.ExtractedDocument {
	d := &document.ExtractedDocument{PageCount: len(pages)}
	for i, p := range pages {
		d.Text += p + "\n"
		d.Pages = append(d.Pages, document.Page{Number: i + 1, Text: p})
	}
	return d
}

func newTestOrchestrator(t *testing.T, docs DocumentParser, comp llm.CompletionService, opts ...Option) *Orchestrator {
	t.Helper()
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: 10000,
		MinInterval:       time.Nanosecond,
		Backoff:           ratelimit.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, CapDelay: time.Millisecond},
	}, nil)
	results := cache.New[*Result](cache.Config{MaxEntries: 16, MaxSizeBytes: 1 << 20, TTL: time.Hour}, nil)
	t.Cleanup(results.Close)
	return NewOrchestrator(docs, comp, limiter, results, monitor.New(nil), Config{
		FallbackModel:  "fallback-model",
		RequestTimeout: 10 * time.Second,
	}, nil, opts...)
}

func goodResult(ref string, products ...llm.ProductLine) llm.ExtractResult {
	return llm.ExtractResult{
		Orders:     []llm.ExtractedOrder{{OrderRef: ref, Products: products}},
		TokensUsed: 100,
		Model:      "primary-model",
	}
}

func TestExtractPrimarySuccess(t *testing.T) {
	comp := &fakeCompletion{queue: []scripted{{result: goodResult("0012345",
		llm.ProductLine{ProductCode: "MHL10", Quantity: 4},
		llm.ProductLine{ProductCode: "TRANS", Quantity: 1},
	)}}}
	o := newTestOrchestrator(t, &fakeDocs{doc: singlePageDoc("Order Reference: 0012345")}, comp)

	res := o.Extract(context.Background(), "order.pdf", []byte("doc-1"))
	require.True(t, res.Success)
	assert.Equal(t, constants.MethodPrimary, res.Method)
	assert.Equal(t, "12345", res.OrderRef)
	require.Len(t, res.Products, 1, "transport lines must be dropped")
	assert.Equal(t, "MHL10", res.Products[0].ProductCode)
	assert.False(t, res.CacheHit)
}

func TestExtractCarriesHeaderFields(t *testing.T) {
	order := llm.ExtractedOrder{
		OrderRef:        "0012345",
		AccountNum:      "BQ01",
		DeliveryAddress: "1 Dock Road, Liverpool",
		InvoiceTo:       "Head Office",
		CustomerRef:     "PO-9981",
		Products:        []llm.ProductLine{{ProductCode: "MHL10", Quantity: 4}},
	}
	comp := &fakeCompletion{queue: []scripted{{result: llm.ExtractResult{
		Orders:     []llm.ExtractedOrder{order},
		TokensUsed: 50,
		Model:      "primary-model",
	}}}}
	o := newTestOrchestrator(t, &fakeDocs{doc: singlePageDoc("Account No: BQ01")}, comp)

	res := o.Extract(context.Background(), "order.pdf", []byte("doc"))
	require.True(t, res.Success)
	assert.Equal(t, "12345", res.OrderRef)
	assert.Equal(t, "BQ01", res.AccountNum)
	assert.Equal(t, "1 Dock Road, Liverpool", res.DeliveryAddress)
	assert.Equal(t, "Head Office", res.InvoiceTo)
	assert.Equal(t, "PO-9981", res.CustomerRef)
}

func TestExtractDropsNonPositiveQuantities(t *testing.T) {
	comp := &fakeCompletion{queue: []scripted{{result: goodResult("5",
		llm.ProductLine{ProductCode: "OK1", Quantity: 2},
		llm.ProductLine{ProductCode: "ZERO", Quantity: 0},
		llm.ProductLine{ProductCode: "NEG", Quantity: -1},
	)}}}
	o := newTestOrchestrator(t, &fakeDocs{doc: singlePageDoc("text")}, comp)

	res := o.Extract(context.Background(), "order.pdf", []byte("doc"))
	require.True(t, res.Success)
	require.Len(t, res.Products, 1)
	assert.Equal(t, "OK1", res.Products[0].ProductCode)
	assert.NotEmpty(t, res.Warnings)
}

func TestVariantModelOverrideAppliesToPrimary(t *testing.T) {
	comp := &fakeCompletion{queue: []scripted{{result: goodResult("1", llm.ProductLine{ProductCode: "A1", Quantity: 1})}}}
	o := newTestOrchestrator(t, &fakeDocs{doc: singlePageDoc("text")}, comp)
	o.mon.SetVariants([]monitor.Variant{{Name: "candidate", Weight: 1, Model: "exp-model"}})

	res := o.Extract(context.Background(), "order.pdf", []byte("doc"))
	require.True(t, res.Success)
	assert.Equal(t, []string{"exp-model"}, comp.models)
}

func TestExtractCacheHitOnSecondCall(t *testing.T) {
	comp := &fakeCompletion{queue: []scripted{{result: goodResult("42", llm.ProductLine{ProductCode: "A1X", Quantity: 1})}}}
	o := newTestOrchestrator(t, &fakeDocs{doc: singlePageDoc("text")}, comp)

	first := o.Extract(context.Background(), "order.pdf", []byte("same-bytes"))
	require.True(t, first.Success)
	second := o.Extract(context.Background(), "order.pdf", []byte("same-bytes"))
	require.True(t, second.Success)
	assert.True(t, second.CacheHit)
	assert.Equal(t, constants.MethodCache, second.Method)
	assert.Equal(t, first.OrderRef, second.OrderRef)
	assert.Equal(t, 1, comp.calls, "cached call must not reach the backend")
}

func TestExtractTierOrderFallsThrough(t *testing.T) {
	failure := common.NewAppError("COMPLETION_HTTP", "boom", common.ErrCompletion)
	comp := &fakeCompletion{queue: []scripted{{err: failure}}}
	sess := &fakeSession{orders: []llm.ExtractedOrder{{OrderRef: "7", Products: []llm.ProductLine{{ProductCode: "Z9", Quantity: 2}}}}}
	o := newTestOrchestrator(t, &fakeDocs{doc: singlePageDoc("text")}, comp, WithSessionService(sess))

	res := o.Extract(context.Background(), "order.pdf", []byte("doc"))
	require.True(t, res.Success)
	assert.Equal(t, constants.MethodLegacySession, res.Method)
	assert.True(t, sess.called)
	// primary with the default model, then the fallback model; chunked is
	// skipped for a small single-page document
	assert.Equal(t, []string{"", "fallback-model"}, comp.models)
}

func TestQualityGateEscalatesToChunked(t *testing.T) {
	thin := goodResult("55", llm.ProductLine{ProductCode: "ONLY1", Quantity: 1})
	full := goodResult("55",
		llm.ProductLine{ProductCode: "P1", Quantity: 1},
		llm.ProductLine{ProductCode: "P2", Quantity: 2},
		llm.ProductLine{ProductCode: "P3", Quantity: 3},
	)
	comp := &fakeCompletion{queue: []scripted{{result: thin}, {result: full}, {result: full}}}
	o := newTestOrchestrator(t, &fakeDocs{doc: multiPageDoc("page one", "page two")}, comp)

	res := o.Extract(context.Background(), "order.pdf", []byte("doc"))
	require.True(t, res.Success)
	assert.Equal(t, constants.MethodChunked, res.Method)
	assert.GreaterOrEqual(t, len(res.Products), 3)
	assert.NotEmpty(t, res.Warnings)
}

func TestChunkedDeadlineExpiryFailsAndIsNotCached(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	comp := funcCompletion{fn: func(ctx context.Context, req llm.ExtractRequest) (llm.ExtractResult, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n {
		case 1:
			// primary tier
			return llm.ExtractResult{}, common.NewAppError("COMPLETION_HTTP", "boom", common.ErrCompletion)
		case 2:
			// first chunk completes
			return goodResult("77", llm.ProductLine{ProductCode: "OK1", Quantity: 1}), nil
		default:
			// second chunk outlives the extraction deadline
			<-ctx.Done()
			return llm.ExtractResult{}, ctx.Err()
		}
	}}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: 10000,
		MinInterval:       time.Nanosecond,
		Backoff:           ratelimit.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, CapDelay: time.Millisecond},
	}, nil)
	results := cache.New[*Result](cache.Config{MaxEntries: 16, MaxSizeBytes: 1 << 20, TTL: time.Hour}, nil)
	t.Cleanup(results.Close)
	o := NewOrchestrator(&fakeDocs{doc: multiPageDoc("page one", "page two")}, comp, limiter, results, monitor.New(nil), Config{
		RequestTimeout: 150 * time.Millisecond,
	}, nil)

	raw := []byte("doc")
	res := o.Extract(context.Background(), "order.pdf", raw)
	assert.False(t, res.Success, "a partial chunk set must not pass as a result")
	assert.Equal(t, constants.MethodFailed, res.Method)

	_, cached := o.results.Get(cache.HashBytes(raw))
	assert.False(t, cached, "a deadline-expired extraction must not be cached")
}

func TestRetriesExhaustedSkipFinalBackoff(t *testing.T) {
	rateErr := common.NewAppError("RATE_LIMITED", "rate limit", common.ErrRateLimited)
	comp := &fakeCompletion{queue: []scripted{{err: rateErr}}}
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: 10000,
		MinInterval:       time.Nanosecond,
		Backoff:           ratelimit.RetryPolicy{MaxAttempts: 1, BaseDelay: 150 * time.Millisecond, CapDelay: time.Second},
	}, nil)
	results := cache.New[*Result](cache.Config{MaxEntries: 16, MaxSizeBytes: 1 << 20, TTL: time.Hour}, nil)
	t.Cleanup(results.Close)
	o := NewOrchestrator(&fakeDocs{doc: singlePageDoc("text")}, comp, limiter, results, monitor.New(nil), Config{}, nil)

	start := time.Now()
	_, err := o.complete(context.Background(), "text", "", "")
	require.Error(t, err)
	assert.Equal(t, 2, comp.calls)
	// one backoff between the two attempts, none after the last
	assert.Less(t, time.Since(start), 300*time.Millisecond)
}

func TestExtractNeverPanicsOnTotalFailure(t *testing.T) {
	failure := common.NewAppError("COMPLETION_HTTP", "boom", common.ErrCompletion)
	comp := &fakeCompletion{queue: []scripted{{err: failure}}}
	o := newTestOrchestrator(t, &fakeDocs{doc: singlePageDoc("text")}, comp)

	res := o.Extract(context.Background(), "order.pdf", []byte("doc"))
	assert.False(t, res.Success)
	assert.Equal(t, constants.MethodFailed, res.Method)
	assert.NotEmpty(t, res.Error)
}

func TestExtractDocumentParseFailure(t *testing.T) {
	o := newTestOrchestrator(t, &fakeDocs{err: common.NewAppError("PDF", "bad bytes", common.ErrDocumentParse)},
		&fakeCompletion{queue: []scripted{{}}})

	res := o.Extract(context.Background(), "order.pdf", []byte("not a pdf"))
	assert.False(t, res.Success)
	assert.Equal(t, constants.MethodFailed, res.Method)
	assert.Contains(t, res.Error, "document parse")
}

func TestFailedResultsAreNotCached(t *testing.T) {
	failure := common.NewAppError("COMPLETION_HTTP", "boom", common.ErrCompletion)
	good := goodResult("9", llm.ProductLine{ProductCode: "OK1", Quantity: 1})
	comp := &fakeCompletion{queue: []scripted{{err: failure}, {err: failure}, {result: good}}}
	o := newTestOrchestrator(t, &fakeDocs{doc: singlePageDoc("text")}, comp)

	first := o.Extract(context.Background(), "order.pdf", []byte("doc"))
	require.False(t, first.Success)
	second := o.Extract(context.Background(), "order.pdf", []byte("doc"))
	require.True(t, second.Success)
	assert.False(t, second.CacheHit, "a failed result must not be served from cache")
}

func TestMergeChunkResultsDedup(t *testing.T) {
	results := []chunkResult{
		{index: 1, tokens: 50, orders: []llm.ExtractedOrder{{OrderRef: "200", AccountNum: "AC-LATE", CustomerRef: "PO-77", Products: []llm.ProductLine{
			{ProductCode: "A", Quantity: 1},
			{ProductCode: "B", Quantity: 2},
		}}}},
		{index: 0, tokens: 40, orders: []llm.ExtractedOrder{{OrderRef: "100", AccountNum: "AC-EARLY", DeliveryAddress: "1 Dock Road", Products: []llm.ProductLine{
			{ProductCode: "A", Quantity: 1}, // duplicate of chunk 1's line
			{ProductCode: "A", Quantity: 3}, // same code, different quantity: kept
		}}}},
	}
	merged, tokens, err := mergeChunkResults(results)
	require.NoError(t, err)
	assert.Equal(t, 90, tokens)
	require.Len(t, merged, 1)
	assert.Equal(t, "100", merged[0].OrderRef, "reference comes from the lowest-index chunk")
	assert.Equal(t, "AC-EARLY", merged[0].AccountNum, "header fields come from the lowest-index chunk too")
	assert.Equal(t, "1 Dock Road", merged[0].DeliveryAddress)
	assert.Equal(t, "PO-77", merged[0].CustomerRef, "a later chunk still fills fields the first one missed")
	assert.Len(t, merged[0].Products, 3)
}

func TestMergeChunkResultsAllFailed(t *testing.T) {
	failure := common.NewAppError("X", "boom", common.ErrCompletion)
	_, _, err := mergeChunkResults([]chunkResult{{index: 0, err: failure}})
	require.Error(t, err)
}

type fakeValidator struct{}

func (fakeValidator) ValidateBatch(_ context.Context, codes []string) ([]validator.Result, validator.Summary, error) {
	out := make([]validator.Result, len(codes))
	sum := validator.Summary{Total: len(codes)}
	for i, c := range codes {
		switch c {
		case "MHL101":
			out[i] = validator.Result{Input: c, IsValid: true, Corrected: "MHL10", WasCorrected: true, Confidence: 1.0, Description: "Heavy Duty Pallet"}
			sum.Valid++
			sum.Corrected++
		case "BAD":
			out[i] = validator.Result{Input: c, IsValid: false, Message: "Product code not found", Description: "Product code not found"}
			sum.Invalid++
		default:
			out[i] = validator.Result{Input: c, IsValid: true, Corrected: c, Confidence: 1.0, Description: "Catalog item " + c}
			sum.Valid++
		}
	}
	return out, sum, nil
}

func TestExtractEnrichesProductCodes(t *testing.T) {
	comp := &fakeCompletion{queue: []scripted{{result: goodResult("1",
		llm.ProductLine{ProductCode: "MHL101", Quantity: 2},
		llm.ProductLine{ProductCode: "BAD", Quantity: 1},
	)}}}
	o := newTestOrchestrator(t, &fakeDocs{doc: singlePageDoc("text")}, comp, WithCodeValidator(fakeValidator{}))

	res := o.Extract(context.Background(), "order.pdf", []byte("doc"))
	require.True(t, res.Success)
	require.Len(t, res.Products, 2)

	corrected := res.Products[0]
	assert.Equal(t, "MHL10", corrected.ProductCode)
	assert.Equal(t, "MHL101", corrected.OriginalCode)
	assert.True(t, corrected.WasCorrected)
	assert.True(t, corrected.IsValidated)
	assert.Equal(t, "Heavy Duty Pallet", corrected.Description, "catalog description must reach the line")

	invalid := res.Products[1]
	assert.Equal(t, "BAD", invalid.ProductCode)
	assert.False(t, invalid.IsValidated)
	assert.NotEmpty(t, res.Warnings)
}

func TestAuditResult(t *testing.T) {
	clean := &Result{Success: true, OrderRef: "12345", Products: []ProductLine{
		{ProductCode: "A1", Quantity: 2, IsValidated: true},
		{ProductCode: "B2", Quantity: 1, IsValidated: true},
		{ProductCode: "C3", Quantity: 3, IsValidated: true},
	}}
	assert.True(t, AuditResult(clean).Clean)

	dirty := &Result{Success: true, Products: []ProductLine{{ProductCode: "A1", Quantity: 0}}}
	a := AuditResult(dirty)
	assert.False(t, a.Clean)
	assert.NotEmpty(t, a.Issues)
	assert.NotEmpty(t, a.Suggestions)
}
