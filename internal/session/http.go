package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/newpennine/orderextract/internal/common"
)

// ClientConfig for the hosted assistants endpoint.
type ClientConfig struct {
	APIKey      string
	BaseURL     string // default https://api.openai.com/v1
	AssistantID string
	Timeout     time.Duration
}

// Client implements API over the assistants v2 HTTP surface.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (c *Client) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", "assistants"); err != nil {
		return "", err
	}
	fw, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/files"), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	raw, err := c.send(req)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode file response: %w", err)
	}
	return out.ID, nil
}

func (c *Client) CreateThread(ctx context.Context) (string, error) {
	raw, err := c.postJSON(ctx, "/threads", map[string]any{})
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode thread response: %w", err)
	}
	return out.ID, nil
}

func (c *Client) AddMessage(ctx context.Context, threadID, content, fileID string) error {
	body := map[string]any{
		"role":    "user",
		"content": content,
	}
	if fileID != "" {
		body["attachments"] = []map[string]any{
			{"file_id": fileID, "tools": []map[string]any{{"type": "file_search"}}},
		}
	}
	_, err := c.postJSON(ctx, "/threads/"+threadID+"/messages", body)
	return err
}

func (c *Client) CreateRun(ctx context.Context, threadID string) (string, error) {
	raw, err := c.postJSON(ctx, "/threads/"+threadID+"/runs", map[string]any{
		"assistant_id": c.cfg.AssistantID,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode run response: %w", err)
	}
	return out.ID, nil
}

func (c *Client) RunStatus(ctx context.Context, threadID, runID string) (string, error) {
	raw, err := c.getJSON(ctx, "/threads/"+threadID+"/runs/"+runID)
	if err != nil {
		return "", err
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode run status: %w", err)
	}
	return out.Status, nil
}

func (c *Client) LatestMessage(ctx context.Context, threadID string) (string, error) {
	raw, err := c.getJSON(ctx, "/threads/"+threadID+"/messages?limit=1&order=desc")
	if err != nil {
		return "", err
	}
	var out struct {
		Data []struct {
			Content []struct {
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode messages: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Content) == 0 {
		return "", common.NewAppError("SESSION_EMPTY", "no reply in session", common.ErrEmptyResult)
	}
	return out.Data[0].Content[0].Text.Value, nil
}

func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.delete(ctx, "/threads/"+threadID)
}

func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	return c.delete(ctx, "/files/"+fileID)
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) postJSON(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req)
}

func (c *Client) getJSON(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint(path), nil)
	if err != nil {
		return err
	}
	_, err = c.send(req)
	return err
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session http error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Warn("session response body close error", "error", err)
		}
	}(resp.Body)

	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("session status %d: %s", resp.StatusCode, buf.String())
		if resp.StatusCode == http.StatusTooManyRequests || common.IsRateLimitMessage(msg) {
			return nil, common.NewAppError("RATE_LIMITED", msg, common.ErrRateLimited)
		}
		return nil, common.NewAppError("SESSION_HTTP", msg, common.ErrCompletion)
	}
	return buf.Bytes(), nil
}
