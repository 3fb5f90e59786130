package core

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/newpennine/orderextract/constants"
	"github.com/newpennine/orderextract/internal/cache"
	"github.com/newpennine/orderextract/internal/common"
	"github.com/newpennine/orderextract/internal/document"
	"github.com/newpennine/orderextract/internal/llm"
	"github.com/newpennine/orderextract/internal/monitor"
	"github.com/newpennine/orderextract/internal/ratelimit"
	"github.com/newpennine/orderextract/internal/textprep"
	"github.com/newpennine/orderextract/internal/validator"
)

// DocumentParser turns raw bytes into positioned page text.
type DocumentParser interface {
	Extract(raw []byte) (*document.ExtractedDocument, error)
}

// SessionService is the legacy assistant-session tier.
type SessionService interface {
	Extract(ctx context.Context, filename string, raw []byte) ([]llm.ExtractedOrder, error)
}

// CodeValidator enriches extracted product codes against the catalog.
type CodeValidator interface {
	ValidateBatch(ctx context.Context, codes []string) ([]validator.Result, validator.Summary, error)
}

// Config bounds one extraction run.
type Config struct {
	MaxRequestTokens     int
	MaxResponseTokens    int
	FallbackModel        string
	MinProductsMultiPage int
	ChunkConcurrency     int
	RequestTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRequestTokens <= 0 {
		c.MaxRequestTokens = 1500
	}
	if c.MaxResponseTokens <= 0 {
		c.MaxResponseTokens = 1000
	}
	if c.MinProductsMultiPage <= 0 {
		c.MinProductsMultiPage = 5
	}
	if c.ChunkConcurrency <= 0 {
		c.ChunkConcurrency = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return c
}

// Orchestrator walks the strategy tiers for a document. Extract never returns
// an error; every failure mode collapses into a Result with Success=false.
type Orchestrator struct {
	docs        DocumentParser
	completions llm.CompletionService
	sessions    SessionService
	limiter     *ratelimit.Limiter
	results     *cache.Cache[*Result]
	codes       CodeValidator
	mon         *monitor.Monitor
	cfg         Config
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSessionService enables the legacy session tier.
func WithSessionService(s SessionService) Option {
	return func(o *Orchestrator) { o.sessions = s }
}

// WithCodeValidator enables catalog validation of extracted codes.
func WithCodeValidator(v CodeValidator) Option {
	return func(o *Orchestrator) { o.codes = v }
}

func NewOrchestrator(
	docs DocumentParser,
	completions llm.CompletionService,
	limiter *ratelimit.Limiter,
	results *cache.Cache[*Result],
	mon *monitor.Monitor,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		docs:        docs,
		completions: completions,
		limiter:     limiter,
		results:     results,
		mon:         mon,
		cfg:         cfg.withDefaults(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Extract runs the full tier sequence for one document.
func (o *Orchestrator) Extract(ctx context.Context, filename string, raw []byte) *Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	hash := cache.HashBytes(raw)
	o.logger.Info("extract.start", "filename", filename, "bytes", len(raw), "hash", hash[:12])

	if cached, ok := o.results.Get(hash); ok {
		res := cached.clone()
		res.Method = constants.MethodCache
		res.CacheHit = true
		res.Duration = time.Since(start)
		o.observe(res, "")
		o.logger.Info("extract.cache_hit", "filename", filename, "order_ref", res.OrderRef)
		return res
	}

	doc, err := o.docs.Extract(raw)
	if err != nil {
		return o.fail(start, 0, "document parse: "+err.Error(), nil)
	}
	var warnings []string
	if v := document.Validate(doc.Text); !v.IsValid {
		warnings = append(warnings, v.MissingElements...)
	}
	opt := textprep.Optimize(doc, o.cfg.MaxRequestTokens)
	variant := o.mon.SelectVariant()

	var res *Result
	var lastErr error
	for _, tier := range constants.TierOrder {
		if ctx.Err() != nil {
			lastErr = common.NewAppError("TIMEOUT", "extraction deadline exceeded", common.ErrTimeout)
			break
		}
		attemptStart := time.Now()
		var attempt *Result
		var attemptErr error

		switch tier {
		case constants.MethodPrimary:
			attempt, attemptErr = o.runCompletion(ctx, opt.Text, variant.Model, variant.Prompt, constants.MethodPrimary)
		case constants.MethodChunked:
			if doc.PageCount <= 1 && opt.EstimatedTokens <= o.cfg.MaxRequestTokens {
				continue
			}
			attempt, attemptErr = o.runChunked(ctx, doc, variant)
		case constants.MethodFallbackModel:
			if o.cfg.FallbackModel == "" {
				continue
			}
			attempt, attemptErr = o.runCompletion(ctx, opt.Text, o.cfg.FallbackModel, "", constants.MethodFallbackModel)
		case constants.MethodLegacySession:
			if o.sessions == nil {
				continue
			}
			attempt, attemptErr = o.runSession(ctx, filename, raw)
		}

		if attemptErr != nil {
			lastErr = attemptErr
			o.observeAttempt(tier, false, time.Since(attemptStart), 0, 0, "", attemptErr.Error(), variant.Name)
			if errors.Is(attemptErr, common.ErrTimeout) {
				break
			}
			o.logger.Warn("extract.tier_failed", "tier", string(tier), "error", attemptErr)
			continue
		}
		o.observeAttempt(tier, true, time.Since(attemptStart), attempt.TokensUsed, len(attempt.Products), attempt.Model, "", variant.Name)

		// Quality gate: a multi-page document yielding a thin product list
		// means the completion only saw part of it. Escalate to chunking.
		if tier == constants.MethodPrimary && doc.PageCount > 1 && len(attempt.Products) < o.cfg.MinProductsMultiPage {
			o.logger.Warn("extract.quality_gate",
				"products", len(attempt.Products),
				"pages", doc.PageCount,
				"min_required", o.cfg.MinProductsMultiPage,
			)
			warnings = append(warnings, "quality gate: escalated to chunked extraction")
			continue
		}

		res = attempt
		break
	}

	if res == nil {
		msg := "all extraction strategies failed"
		if lastErr != nil {
			msg = lastErr.Error()
		}
		return o.fail(start, doc.PageCount, msg, warnings)
	}

	res.PageCount = doc.PageCount
	res.Warnings = append(warnings, res.Warnings...)
	res.Duration = time.Since(start)
	o.enrich(ctx, res)
	o.results.Set(hash, res.clone(), res.ApproxSize())

	o.logger.Info("extract.ok",
		"filename", filename,
		"method", string(res.Method),
		"order_ref", res.OrderRef,
		"products", len(res.Products),
		"tokens", res.TokensUsed,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res
}

func (o *Orchestrator) fail(start time.Time, pages int, msg string, warnings []string) *Result {
	res := &Result{
		Method:    constants.MethodFailed,
		PageCount: pages,
		Duration:  time.Since(start),
		Warnings:  warnings,
		Error:     msg,
	}
	o.observe(res, "")
	o.logger.Error("extract.failed", "error", msg, "elapsed_ms", res.Duration.Milliseconds())
	return res
}

// runCompletion drives one completion tier with rate-limit admission and
// bounded retries.
func (o *Orchestrator) runCompletion(ctx context.Context, text, model, sysPrompt string, method constants.ExtractionMethod) (*Result, error) {
	out, err := o.complete(ctx, text, model, sysPrompt)
	if err != nil {
		return nil, err
	}
	return o.buildResult(out.Orders, method, out.Model, out.TokensUsed)
}

// complete is the single retry loop shared by every completion call. The
// final failed attempt returns immediately; backing off with no attempt left
// to spend it on would just delay the failure.
func (o *Orchestrator) complete(ctx context.Context, text, model, sysPrompt string) (llm.ExtractResult, error) {
	var lastErr error
	for attempt := 0; attempt <= o.limiter.MaxRetries(); attempt++ {
		if err := o.limiter.Acquire(ctx); err != nil {
			return llm.ExtractResult{}, err
		}
		out, err := o.completions.ExtractOrders(ctx, llm.ExtractRequest{
			Text:              text,
			Model:             model,
			SystemPrompt:      sysPrompt,
			MaxResponseTokens: o.cfg.MaxResponseTokens,
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !common.IsRetryable(err) {
			return llm.ExtractResult{}, err
		}
		if attempt == o.limiter.MaxRetries() {
			break
		}
		if rlErr := o.limiter.ReportRateLimited(ctx, ratelimit.ParseRetryAfter(err.Error()), attempt); rlErr != nil {
			return llm.ExtractResult{}, rlErr
		}
	}
	return llm.ExtractResult{}, common.NewAppError("RETRIES_EXHAUSTED", "completion retries exhausted", lastErr)
}

type chunkResult struct {
	index  int
	orders []llm.ExtractedOrder
	tokens int
	model  string
	err    error
}

// runChunked fans the document out in token-bounded chunks and merges the
// partial product lists. A deadline expiry during the fan-out fails the whole
// tier; a subset of chunks is not a result.
func (o *Orchestrator) runChunked(ctx context.Context, doc *document.ExtractedDocument, variant monitor.Variant) (*Result, error) {
	chunks := textprep.Chunk(doc, o.cfg.MaxRequestTokens)
	if len(chunks) == 0 {
		return nil, common.NewAppError("NO_CHUNKS", "document produced no chunks", common.ErrEmptyResult)
	}
	o.logger.Info("extract.chunked.start", "chunks", len(chunks), "concurrency", o.cfg.ChunkConcurrency)

	results := make([]chunkResult, len(chunks))
	sem := make(chan struct{}, o.cfg.ChunkConcurrency)
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out, err := o.complete(ctx, text, variant.Model, variant.Prompt)
			results[i] = chunkResult{index: i, orders: out.Orders, tokens: out.TokensUsed, model: out.Model, err: err}
		}(i, chunk)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, common.NewAppError("CHUNK_TIMEOUT", "deadline expired during chunked extraction", common.ErrTimeout)
	}

	merged, tokens, err := mergeChunkResults(results)
	if err != nil {
		return nil, err
	}
	model := ""
	for _, cr := range results {
		if cr.err == nil && cr.model != "" {
			model = cr.model
			break
		}
	}
	return o.buildResult(merged, constants.MethodChunked, model, tokens)
}

// mergeChunkResults combines partial chunk outputs. The order reference and
// header fields come from the first chunk (by index) that reported them;
// product lines deduplicate on the (code, quantity) pair so overlapping
// chunks do not double-count.
func mergeChunkResults(results []chunkResult) ([]llm.ExtractedOrder, int, error) {
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	var merged llm.ExtractedOrder
	var tokens int
	seen := map[string]struct{}{}
	var firstErr error
	succeeded := 0

	for _, cr := range results {
		if cr.err != nil {
			if firstErr == nil {
				firstErr = cr.err
			}
			continue
		}
		succeeded++
		tokens += cr.tokens
		for _, ord := range cr.orders {
			if merged.OrderRef == "" {
				merged.OrderRef = ord.OrderRef
			}
			if merged.AccountNum == "" {
				merged.AccountNum = ord.AccountNum
			}
			if merged.DeliveryAddress == "" {
				merged.DeliveryAddress = ord.DeliveryAddress
			}
			if merged.InvoiceTo == "" {
				merged.InvoiceTo = ord.InvoiceTo
			}
			if merged.CustomerRef == "" {
				merged.CustomerRef = ord.CustomerRef
			}
			for _, p := range ord.Products {
				key := p.ProductCode + "|" + strconv.Itoa(p.Quantity)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				merged.Products = append(merged.Products, p)
			}
		}
	}
	if succeeded == 0 {
		return nil, 0, common.NewAppError("ALL_CHUNKS_FAILED", "every chunk failed", firstErr)
	}
	return []llm.ExtractedOrder{merged}, tokens, nil
}

func (o *Orchestrator) runSession(ctx context.Context, filename string, raw []byte) (*Result, error) {
	orders, err := o.sessions.Extract(ctx, filename, raw)
	if err != nil {
		return nil, err
	}
	return o.buildResult(orders, constants.MethodLegacySession, "", 0)
}

// buildResult flattens extracted orders into a Result. Transport charge lines
// and lines without a positive quantity are dropped; an empty product list is
// an error so the next tier runs.
func (o *Orchestrator) buildResult(orders []llm.ExtractedOrder, method constants.ExtractionMethod, model string, tokens int) (*Result, error) {
	res := &Result{
		Success:    true,
		Method:     method,
		Model:      model,
		TokensUsed: tokens,
	}
	for _, ord := range orders {
		if res.OrderRef == "" && ord.OrderRef != "" {
			res.OrderRef = llm.NormalizeOrderRef(ord.OrderRef)
		}
		if res.AccountNum == "" {
			res.AccountNum = ord.AccountNum
		}
		if res.DeliveryAddress == "" {
			res.DeliveryAddress = ord.DeliveryAddress
		}
		if res.InvoiceTo == "" {
			res.InvoiceTo = ord.InvoiceTo
		}
		if res.CustomerRef == "" {
			res.CustomerRef = ord.CustomerRef
		}
		for _, p := range ord.Products {
			if constants.IsTransportCode(p.ProductCode) {
				continue
			}
			if p.Quantity <= 0 {
				res.Warnings = append(res.Warnings, p.ProductCode+": dropped line without a positive quantity")
				continue
			}
			res.Products = append(res.Products, ProductLine{
				ProductCode: p.ProductCode,
				Description: p.Description,
				Quantity:    p.Quantity,
				UnitPrice:   p.UnitPrice,
			})
		}
	}
	if len(res.Products) == 0 {
		return nil, common.NewAppError("EMPTY_RESULT", "no product lines extracted", common.ErrEmptyResult)
	}
	return res, nil
}

// enrich validates product codes against the catalog. Validation problems
// downgrade lines, never the whole result.
func (o *Orchestrator) enrich(ctx context.Context, res *Result) {
	if o.codes == nil || len(res.Products) == 0 {
		return
	}
	codes := make([]string, len(res.Products))
	for i, p := range res.Products {
		codes[i] = p.ProductCode
	}
	vres, sum, err := o.codes.ValidateBatch(ctx, codes)
	if err != nil {
		o.logger.Warn("extract.validate.failed", "error", err)
		res.Warnings = append(res.Warnings, "product validation unavailable")
		return
	}
	for i := range res.Products {
		v := vres[i]
		p := &res.Products[i]
		p.IsValidated = v.IsValid
		p.Confidence = v.Confidence
		if v.Description != "" {
			p.Description = v.Description
		}
		if v.IsValid {
			if v.WasCorrected {
				p.OriginalCode = p.ProductCode
				p.WasCorrected = true
			}
			p.ProductCode = v.Corrected
		} else if v.Message != "" {
			res.Warnings = append(res.Warnings, p.ProductCode+": "+v.Message)
		}
	}
	if sum.Invalid > 0 {
		o.logger.Warn("extract.validate.invalid_codes", "invalid", sum.Invalid, "total", sum.Total)
	}
}

func (o *Orchestrator) observe(res *Result, variant string) {
	o.mon.Observe(monitor.Record{
		Method:        res.Method,
		Success:       res.Success || res.CacheHit,
		Duration:      res.Duration,
		TokensUsed:    res.TokensUsed,
		ProductCount:  len(res.Products),
		CacheHit:      res.CacheHit,
		Model:         res.Model,
		FailureReason: res.Error,
		Variant:       variant,
	})
}

func (o *Orchestrator) observeAttempt(method constants.ExtractionMethod, success bool, d time.Duration, tokens, products int, model, reason, variant string) {
	o.mon.Observe(monitor.Record{
		Method:        method,
		Success:       success,
		Duration:      d,
		TokensUsed:    tokens,
		ProductCount:  products,
		Model:         model,
		FailureReason: reason,
		Variant:       variant,
	})
}
