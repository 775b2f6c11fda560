package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxResponseSize bounds analyzer response bodies.
const maxResponseSize = 1 * 1024 * 1024

// Client talks to the analyzer sidecar, which exposes the redaction,
// classification and media description endpoints. One client serves all
// three interfaces.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates an analyzer client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type textRequest struct {
	Text string `json:"text"`
}

type redactResponse struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type describeRequest struct {
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
}

type describeResponse struct {
	Description string `json:"description"`
}

// Redact asks the analyzer to strip PII. On any failure the original text
// passes through so the conversation continues.
func (c *Client) Redact(ctx context.Context, text string) string {
	var out redactResponse
	if err := c.post(ctx, "/redact", textRequest{Text: text}, &out); err != nil {
		c.logger.Error("redaction failed, passing text through", "error", err)
		return text
	}
	return out.Text
}

// Classify labels the text. Failures degrade to the unknown label.
func (c *Client) Classify(ctx context.Context, text string) (string, float64) {
	var out classifyResponse
	if err := c.post(ctx, "/classify", textRequest{Text: text}, &out); err != nil {
		c.logger.Error("classification failed", "error", err)
		return UnknownLabel, 0
	}
	return out.Label, out.Confidence
}

// Describe analyzes an uploaded media payload. Failures degrade to a
// placeholder observation.
func (c *Client) Describe(ctx context.Context, payload []byte, kind string) string {
	var out describeResponse
	if err := c.post(ctx, "/describe", describeRequest{Kind: kind, Payload: payload}, &out); err != nil {
		c.logger.Error("media description failed", "kind", kind, "error", err)
		return DescribeFailed
	}
	return out.Description
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("analyzer returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
