// Package app wires the extraction pipeline from configuration for the
// command-line entrypoints.
package app

import (
	"context"
	"log/slog"
	"os"

	"github.com/newpennine/orderextract/internal/cache"
	"github.com/newpennine/orderextract/internal/common"
	"github.com/newpennine/orderextract/internal/core"
	"github.com/newpennine/orderextract/internal/document"
	"github.com/newpennine/orderextract/internal/llm/openai"
	"github.com/newpennine/orderextract/internal/monitor"
	"github.com/newpennine/orderextract/internal/ratelimit"
	"github.com/newpennine/orderextract/internal/repository"
	"github.com/newpennine/orderextract/internal/session"
	"github.com/newpennine/orderextract/internal/validator"
)

// Pipeline bundles the orchestrator with the supporting services the
// entrypoints report on.
type Pipeline struct {
	Orchestrator *core.Orchestrator
	Monitor      *monitor.Monitor
	Results      *cache.Cache[*core.Result]

	cleanups []func()
}

// Close releases pipeline resources in reverse wiring order.
func (p *Pipeline) Close() {
	for i := len(p.cleanups) - 1; i >= 0; i-- {
		p.cleanups[i]()
	}
}

// Options tweaks optional pipeline pieces.
type Options struct {
	SkipValidation bool
}

// Build wires the full pipeline. The catalog validator engages when a catalog
// DSN is configured; the session tier engages when OPENAI_ASSISTANT_ID is set.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts Options) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{Monitor: monitor.New(logger)}
	p.Monitor.SetThresholds(monitor.Thresholds{
		CriticalSuccessRate: cfg.Monitor.CriticalSuccessRate,
		MinSuccessRate:      cfg.Monitor.MinSuccessRate,
		MaxP95Latency:       cfg.Monitor.MaxP95Latency,
		MaxTokensPerItem:    cfg.Monitor.MaxTokensPerItem,
		MinCacheHitRate:     cfg.Monitor.MinCacheHitRate,
		BurstWindow:         cfg.Monitor.BurstWindow,
		BurstFailures:       cfg.Monitor.BurstFailures,
	})
	if cfg.LLM.ExperimentModel != "" && cfg.LLM.ExperimentModel != cfg.LLM.Model {
		split := cfg.LLM.ExperimentSplit
		if split <= 0 || split >= 1 {
			split = 0.5
		}
		p.Monitor.SetVariants([]monitor.Variant{
			{Name: "control", Weight: 1 - split},
			{Name: "model:" + cfg.LLM.ExperimentModel, Weight: split, Model: cfg.LLM.ExperimentModel},
		})
	}

	docs := document.NewExtractor(document.Config{MaxPages: cfg.Document.MaxPages}, logger)

	completions := openai.NewClient(openai.Config{
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		Temperature:       cfg.LLM.Temperature,
		Timeout:           cfg.LLM.Timeout,
		MaxResponseTokens: cfg.LLM.MaxResponseTokens,
	}, logger)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		MinInterval:       cfg.RateLimit.MinInterval,
		Backoff: ratelimit.RetryPolicy{
			MaxAttempts: cfg.RateLimit.MaxRetries,
			BaseDelay:   cfg.RateLimit.BackoffBase,
			Multiplier:  cfg.RateLimit.BackoffMultiplier,
			CapDelay:    cfg.RateLimit.BackoffCap,
		},
	}, logger)

	p.Results = cache.New[*core.Result](cache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		MaxSizeBytes:  cfg.Cache.MaxSizeBytes,
		TTL:           cfg.Cache.TTL,
		SweepInterval: cfg.Cache.SweepInterval,
	}, logger)
	p.cleanups = append(p.cleanups, p.Results.Close)

	var coreOpts []core.Option
	if !opts.SkipValidation && cfg.Catalog.DSN != "" {
		source, closeCatalog, err := repository.Open(ctx, cfg.Catalog, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.cleanups = append(p.cleanups, closeCatalog)
		v, err := validator.New(source, cfg.Catalog, cfg.Validator, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		coreOpts = append(coreOpts, core.WithCodeValidator(v))
	}
	if assistantID := os.Getenv("OPENAI_ASSISTANT_ID"); assistantID != "" {
		api := session.NewClient(session.ClientConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			AssistantID: assistantID,
			Timeout:     cfg.LLM.Timeout,
		}, logger)
		coreOpts = append(coreOpts, core.WithSessionService(session.NewExtractor(api, limiter, session.Config{}, logger)))
	}

	p.Orchestrator = core.NewOrchestrator(docs, completions, limiter, p.Results, p.Monitor, core.Config{
		MaxRequestTokens:     cfg.LLM.MaxRequestTokens,
		MaxResponseTokens:    cfg.LLM.MaxResponseTokens,
		FallbackModel:        cfg.LLM.FallbackModel,
		MinProductsMultiPage: cfg.Orchestrator.MinProductsMultiPage,
		ChunkConcurrency:     cfg.Orchestrator.ChunkConcurrency,
		RequestTimeout:       cfg.Orchestrator.RequestTimeout,
	}, logger, coreOpts...)
	return p, nil
}
