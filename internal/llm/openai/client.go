package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/newpennine/orderextract/internal/common"
	"github.com/newpennine/orderextract/internal/llm"
)

// ExtractOrders implements llm.CompletionService using text-only
// chat/completions with a JSON response format.
func (c *Client) ExtractOrders(ctx context.Context, req llm.ExtractRequest) (llm.ExtractResult, error) {
	rid := uuid.New().String()
	start := time.Now()
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	maxTokens := req.MaxResponseTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxResponseTokens
	}

	c.logger.Info("llm.extract.start",
		"req_id", rid,
		"model", model,
		"temp", c.cfg.Temperature,
		"text_len", len(req.Text),
		"max_tokens", maxTokens,
	)

	sysPrompt := req.SystemPrompt
	if sysPrompt == "" {
		sysPrompt = llm.BuildSystemPrompt()
	}
	schema := llm.BuildOrderJSONSchema()
	body := map[string]any{
		"model":           model,
		"temperature":     c.cfg.Temperature,
		"max_tokens":      maxTokens,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": sysPrompt},
			{"role": "user", "content": llm.BuildUserPrompt(req.Text)},
			{"role": "system", "content": "JSON Schema:\n" + llm.MustJSON(schema)},
		},
	}
	if req.Seed != nil {
		body["seed"] = *req.Seed
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.logger.Error("llm.extract.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ExtractResult{}, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.extract.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ExtractResult{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.extract.no_choices",
			"req_id", rid,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ExtractResult{}, common.NewAppError("NO_CHOICES", "no choices in completion response", common.ErrCompletion)
	}

	content := llm.StripMarkdownFence(cc.Choices[0].Message.Content)
	rawContent := []byte(content)

	// Strict pass first; the lenient parse recovers envelope and alias drift.
	if err := llm.ValidateJSONAgainstSchema(schema, rawContent); err != nil {
		c.logger.Warn("llm.extract.schema_mismatch",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
	orders, err := llm.ParseOrders(rawContent)
	if err != nil {
		c.logger.Error("llm.extract.parse_failed",
			"req_id", rid, "error", err, "content_len", len(content),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ExtractResult{}, common.NewAppError("PARSE_FAILED", "parse completion content", err)
	}

	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"orders", len(orders),
		"tokens_used", cc.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return llm.ExtractResult{
		Orders:     orders,
		TokensUsed: cc.Usage.TotalTokens,
		Model:      model,
		RawJSON:    rawContent,
	}, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Warn("openai response body close error", "error", err)
		}
	}(resp.Body)

	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("openai status %d: %s", resp.StatusCode, buf.String())
		if resp.StatusCode == http.StatusTooManyRequests || common.IsRateLimitMessage(msg) {
			return nil, common.NewAppError("RATE_LIMITED", msg, common.ErrRateLimited)
		}
		if resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusForbidden {
			return nil, common.NewAppError("QUOTA", msg, common.ErrQuotaExceeded)
		}
		return nil, common.NewAppError("COMPLETION_HTTP", msg, common.ErrCompletion)
	}
	return buf.Bytes(), nil
}
