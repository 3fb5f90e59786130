// Package session implements the last-resort extraction path: the document is
// attached to an assistant thread and the reply is polled for, rather than
// returned inline as with chat completions. Slower and costlier, so it only
// runs after the completion tiers are exhausted.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/newpennine/orderextract/internal/common"
	"github.com/newpennine/orderextract/internal/llm"
	"github.com/newpennine/orderextract/internal/ratelimit"
)

// API is the assistant-session surface the extractor drives. Implementations
// talk to a hosted assistants endpoint; tests stub it.
type API interface {
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID, content, fileID string) error
	CreateRun(ctx context.Context, threadID string) (string, error)
	RunStatus(ctx context.Context, threadID, runID string) (string, error)
	LatestMessage(ctx context.Context, threadID string) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	DeleteFile(ctx context.Context, fileID string) error
}

// Run states reported by the assistants endpoint.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusExpired    = "expired"
)

// Config bounds the poll loop.
type Config struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 2 * time.Minute
	}
	return c
}

// Extractor runs one document through an assistant session.
type Extractor struct {
	api     API
	limiter *ratelimit.Limiter
	cfg     Config
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewExtractor(api API, limiter *ratelimit.Limiter, cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		api:     api,
		limiter: limiter,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Extract uploads the document, runs the assistant, and polls until the run
// settles. The uploaded file and the thread are deleted on every path.
func (e *Extractor) Extract(ctx context.Context, filename string, raw []byte) ([]llm.ExtractedOrder, error) {
	start := time.Now()
	e.logger.Info("session.extract.start", "filename", filename, "bytes", len(raw))

	if err := e.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	fileID, err := e.api.UploadFile(ctx, filename, raw)
	if err != nil {
		return nil, common.NewAppError("SESSION_UPLOAD", "upload document", err)
	}
	defer e.cleanupFile(fileID)

	threadID, err := e.api.CreateThread(ctx)
	if err != nil {
		return nil, common.NewAppError("SESSION_THREAD", "create session", err)
	}
	defer e.cleanupThread(threadID)

	if err := e.api.AddMessage(ctx, threadID, llm.BuildSystemPrompt(), fileID); err != nil {
		return nil, common.NewAppError("SESSION_MESSAGE", "post message", err)
	}
	if err := e.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	runID, err := e.api.CreateRun(ctx, threadID)
	if err != nil {
		return nil, common.NewAppError("SESSION_RUN", "start run", err)
	}

	if err := e.poll(ctx, threadID, runID); err != nil {
		return nil, err
	}

	content, err := e.api.LatestMessage(ctx, threadID)
	if err != nil {
		return nil, common.NewAppError("SESSION_REPLY", "read reply", err)
	}
	orders, err := llm.ParseOrders([]byte(llm.StripMarkdownFence(content)))
	if err != nil {
		return nil, common.NewAppError("SESSION_PARSE", "parse reply", err)
	}
	orders = FilterMajorityRef(orders)

	e.logger.Info("session.extract.ok",
		"filename", filename,
		"orders", len(orders),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return orders, nil
}

// poll waits for the run to settle, backing off on rate-limit errors. Every
// status check passes through the limiter; polling counts against the same
// request ceiling as the extraction calls.
func (e *Extractor) poll(ctx context.Context, threadID, runID string) error {
	deadline := time.Now().Add(e.cfg.PollTimeout)
	attempt := 0
	for {
		if time.Now().After(deadline) {
			return common.NewAppError("SESSION_TIMEOUT", "run did not settle in time", common.ErrTimeout)
		}
		if err := e.limiter.Acquire(ctx); err != nil {
			return err
		}
		status, err := e.api.RunStatus(ctx, threadID, runID)
		if err != nil {
			if common.IsRateLimitMessage(err.Error()) {
				if rlErr := e.limiter.ReportRateLimited(ctx, ratelimit.ParseRetryAfter(err.Error()), attempt); rlErr != nil {
					return rlErr
				}
				attempt++
				continue
			}
			return common.NewAppError("SESSION_POLL", "poll run status", err)
		}
		switch status {
		case StatusCompleted:
			return nil
		case StatusFailed, StatusCancelled, StatusExpired:
			return common.NewAppError("SESSION_RUN_FAILED", "run ended with status "+status, common.ErrCompletion)
		}
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (e *Extractor) cleanupFile(fileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.api.DeleteFile(ctx, fileID); err != nil {
		e.logger.Warn("session.cleanup.file", "file_id", fileID, "error", err)
	}
}

func (e *Extractor) cleanupThread(threadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.api.DeleteThread(ctx, threadID); err != nil {
		e.logger.Warn("session.cleanup.thread", "thread_id", threadID, "error", err)
	}
}

// FilterMajorityRef keeps the order reference that owns the most product
// lines and merges its orders into one. Ties go to the first reference seen.
// Assistant replies sometimes hallucinate extra references for a single
// document; the real one dominates by line count.
func FilterMajorityRef(orders []llm.ExtractedOrder) []llm.ExtractedOrder {
	if len(orders) <= 1 {
		return orders
	}
	counts := map[string]int{}
	firstSeen := []string{}
	for _, o := range orders {
		if _, ok := counts[o.OrderRef]; !ok {
			firstSeen = append(firstSeen, o.OrderRef)
		}
		counts[o.OrderRef] += len(o.Products)
	}
	best := firstSeen[0]
	for _, ref := range firstSeen {
		if counts[ref] > counts[best] {
			best = ref
		}
	}
	merged := llm.ExtractedOrder{OrderRef: best}
	for _, o := range orders {
		if o.OrderRef != best {
			continue
		}
		if merged.AccountNum == "" {
			merged.AccountNum = o.AccountNum
		}
		if merged.DeliveryAddress == "" {
			merged.DeliveryAddress = o.DeliveryAddress
		}
		if merged.InvoiceTo == "" {
			merged.InvoiceTo = o.InvoiceTo
		}
		if merged.CustomerRef == "" {
			merged.CustomerRef = o.CustomerRef
		}
		merged.Products = append(merged.Products, o.Products...)
	}
	return []llm.ExtractedOrder{merged}
}
