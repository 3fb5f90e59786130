// Package validator checks extracted product codes against the reference
// catalog and proposes corrections for near misses.
package validator

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/newpennine/orderextract/constants"
	"github.com/newpennine/orderextract/internal/common"
	"github.com/newpennine/orderextract/internal/repository"
)

// Result is the validation outcome for a single input code. Description is
// the catalog description of the resolved code, or "Product code not found"
// when the code resolved to nothing.
type Result struct {
	Input        string   `json:"input"`
	Normalized   string   `json:"normalized"`
	IsValid      bool     `json:"is_valid"`
	Corrected    string   `json:"corrected,omitempty"`
	WasCorrected bool     `json:"was_corrected"`
	Confidence   float64  `json:"confidence"`
	Description  string   `json:"description,omitempty"`
	Suggestions  []string `json:"suggestions,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// Summary aggregates a batch validation run.
type Summary struct {
	Total     int `json:"total"`
	Valid     int `json:"valid"`
	Corrected int `json:"corrected"`
	Invalid   int `json:"invalid"`
}

type cachedResult struct {
	result   Result
	cachedAt time.Time
}

type candidate struct {
	code  string
	score float64
}

// Validator validates product codes against a wholesale-loaded catalog
// snapshot. The snapshot refreshes in the background when stale; a refresh
// failure degrades to the previous snapshot rather than failing lookups.
type Validator struct {
	source    repository.CatalogSource
	cfg       common.ValidatorConfig
	catalog   common.CatalogConfig
	logger    *slog.Logger
	overrides map[string]string

	mu         sync.RWMutex
	codes      map[string]string // code -> description
	loadedAt   time.Time
	refreshing bool

	resultCache *lru.Cache[string, cachedResult]

	now func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithOverrides adds correction overrides on top of the built-in table.
func WithOverrides(m map[string]string) Option {
	return func(v *Validator) {
		for k, val := range m {
			v.overrides[strings.ToUpper(k)] = strings.ToUpper(val)
		}
	}
}

// New creates a Validator backed by the given catalog source.
func New(source repository.CatalogSource, catalogCfg common.CatalogConfig, cfg common.ValidatorConfig, logger *slog.Logger, opts ...Option) (*Validator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	rc, err := lru.New[string, cachedResult](cacheSize)
	if err != nil {
		return nil, common.WrapError(err, "create validation cache")
	}
	v := &Validator{
		source:      source,
		cfg:         cfg,
		catalog:     catalogCfg,
		logger:      logger,
		overrides:   map[string]string{},
		codes:       map[string]string{},
		resultCache: rc,
		now:         time.Now,
	}
	for k, val := range constants.CodeOverrides {
		v.overrides[k] = val
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

var nonCodeChars = regexp.MustCompile(`[^A-Za-z0-9-]`)

// Normalize maps a raw code to its canonical form: trimmed, uppercased, with
// characters outside [A-Za-z0-9-] removed. Idempotent.
func Normalize(code string) string {
	return strings.ToUpper(nonCodeChars.ReplaceAllString(strings.TrimSpace(code), ""))
}

// Validate checks one code. It never returns an error for an unknown code;
// infrastructure failures surface as an invalid result carrying a message.
func (v *Validator) Validate(ctx context.Context, code string) Result {
	norm := Normalize(code)
	if norm == "" {
		return Result{Input: code, Normalized: norm, IsValid: false, Description: "Product code not found", Message: "Product code not found"}
	}

	// The override table answers first so curated corrections keep working
	// during a catalog outage. The description is best effort.
	if target, ok := v.overrides[norm]; ok {
		r := Result{Input: code, Normalized: norm, IsValid: true, Corrected: target, WasCorrected: true, Confidence: 1.0}
		r.Description, _ = v.Description(target)
		return r
	}

	if cached, ok := v.resultCache.Get(norm); ok {
		if v.cfg.CacheTTL <= 0 || v.now().Sub(cached.cachedAt) < v.cfg.CacheTTL {
			r := cached.result
			r.Input = code
			return r
		}
		v.resultCache.Remove(norm)
	}

	if err := v.ensureCatalog(ctx); err != nil {
		v.logger.Error("validator.catalog.unavailable", "error", err)
		return Result{Input: code, Normalized: norm, IsValid: false, Description: "System unavailable", Message: "System unavailable"}
	}

	r := v.lookup(norm)
	r.Input = code
	v.resultCache.Add(norm, cachedResult{result: r, cachedAt: v.now()})
	return r
}

// ValidateBatch validates up to MaxBatchSize codes and returns per-code
// results with a summary. Oversized batches are rejected.
func (v *Validator) ValidateBatch(ctx context.Context, codes []string) ([]Result, Summary, error) {
	max := v.cfg.MaxBatchSize
	if max <= 0 {
		max = 100
	}
	if len(codes) > max {
		return nil, Summary{}, common.NewAppError("BATCH_TOO_LARGE", "too many codes in batch", common.ErrInvalidInput)
	}
	results := make([]Result, 0, len(codes))
	var sum Summary
	for _, c := range codes {
		r := v.Validate(ctx, c)
		results = append(results, r)
		sum.Total++
		switch {
		case r.IsValid && r.WasCorrected:
			sum.Corrected++
			sum.Valid++
		case r.IsValid:
			sum.Valid++
		default:
			sum.Invalid++
		}
	}
	return results, sum, nil
}

// lookup resolves a normalized code against the current snapshot. Overrides
// are resolved earlier in Validate, before any catalog access.
func (v *Validator) lookup(norm string) Result {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if desc, ok := v.codes[norm]; ok {
		return Result{Normalized: norm, IsValid: true, Corrected: norm, Confidence: 1.0, Description: desc}
	}

	cands := v.nearest(norm)
	if len(cands) > 0 && cands[0].score >= v.threshold() {
		suggestions := make([]string, 0, len(cands))
		for _, c := range cands {
			suggestions = append(suggestions, c.code)
		}
		return Result{
			Normalized:   norm,
			IsValid:      true,
			Corrected:    cands[0].code,
			WasCorrected: true,
			Confidence:   cands[0].score,
			Description:  v.codes[cands[0].code],
			Suggestions:  suggestions,
		}
	}
	return Result{Normalized: norm, IsValid: false, Description: "Product code not found", Message: "Product code not found"}
}

func (v *Validator) threshold() float64 {
	if v.cfg.SimilarityThreshold > 0 {
		return v.cfg.SimilarityThreshold
	}
	return 0.85
}

// nearest returns up to five catalog codes at or above the similarity
// threshold, best first. Caller holds at least a read lock.
func (v *Validator) nearest(norm string) []candidate {
	var cands []candidate
	for code := range v.codes {
		score := Similarity(norm, code)
		if score >= v.threshold() {
			cands = append(cands, candidate{code: code, score: score})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].code < cands[j].code
	})
	if len(cands) > 5 {
		cands = cands[:5]
	}
	return cands
}

// ensureCatalog loads the snapshot on first use and refreshes it once it
// exceeds the staleness TTL. Only one goroutine refreshes at a time; while a
// stale snapshot exists, lookups keep serving it.
func (v *Validator) ensureCatalog(ctx context.Context) error {
	v.mu.RLock()
	loaded := len(v.codes) > 0
	stale := loaded && v.catalog.StalenessTTL > 0 && v.now().Sub(v.loadedAt) > v.catalog.StalenessTTL
	refreshing := v.refreshing
	v.mu.RUnlock()

	if loaded && !stale {
		return nil
	}
	if loaded && stale {
		if !refreshing {
			v.mu.Lock()
			if !v.refreshing {
				v.refreshing = true
				go v.refreshAsync(context.WithoutCancel(ctx))
			}
			v.mu.Unlock()
		}
		return nil
	}
	return v.refresh(ctx)
}

func (v *Validator) refreshAsync(ctx context.Context) {
	if err := v.refresh(ctx); err != nil {
		v.logger.Warn("validator.catalog.refresh.failed", "error", err)
	}
	v.mu.Lock()
	v.refreshing = false
	v.mu.Unlock()
}

// refresh replaces the snapshot wholesale. On failure the previous snapshot
// stays in place.
func (v *Validator) refresh(ctx context.Context) error {
	pageSize := v.catalog.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	start := v.now()
	fresh := make(map[string]string)
	offset := 0
	for {
		rows, err := v.source.FetchPage(ctx, offset, pageSize)
		if err != nil {
			return common.NewAppError("CATALOG_REFRESH", "load catalog page", err)
		}
		for _, r := range rows {
			fresh[Normalize(r.Code)] = r.Description
		}
		if len(rows) < pageSize {
			break
		}
		offset += pageSize
	}
	if len(fresh) == 0 {
		return common.NewAppError("CATALOG_EMPTY", "catalog returned no codes", common.ErrCatalogUnavailable)
	}

	v.mu.Lock()
	v.codes = fresh
	v.loadedAt = v.now()
	v.mu.Unlock()
	v.resultCache.Purge()

	v.logger.Info("validator.catalog.loaded",
		"codes", len(fresh),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// CatalogSize reports the number of codes in the current snapshot.
func (v *Validator) CatalogSize() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.codes)
}

// Description returns the catalog description for a normalized code.
func (v *Validator) Description(code string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d, ok := v.codes[Normalize(code)]
	return d, ok
}
