// Package gateway obtains chat completions from upstream providers,
// rotating primary credentials on failure and falling back to a secondary
// provider before degrading. Callers always get a reply string back; provider
// trouble never interrupts a conversation.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/timesink-labs/timesink/internal/domain"
)

// maxResponseSize bounds provider response bodies.
const maxResponseSize = 4 * 1024 * 1024

// DegradedReply is returned when every provider tier has failed. It reads
// like a flaky phone connection so the conversation survives the outage.
const DegradedReply = "I am having trouble connecting. Can you say that again?"

// primaryTemperature matches the primary provider's tuning for in-character
// replies.
const primaryTemperature = 0.7

// Config holds provider endpoints and timeouts. The primary timeout is kept
// short so a bad credential rotates quickly; the fallback gets longer since
// it is the single remaining attempt.
type Config struct {
	PrimaryBaseURL  string
	PrimaryModel    string
	PrimaryTimeout  time.Duration
	FallbackBaseURL string
	FallbackModel   string
	FallbackKey     string
	FallbackTimeout time.Duration
	// Referer and Title are sent to the fallback provider, which uses them
	// for app attribution.
	Referer string
	Title   string
}

// Gateway is the resilient completion client.
type Gateway struct {
	pool   *Pool
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a gateway over the given credential pool. The injected
// http.Client carries no timeout of its own; each attempt sets a per-call
// deadline from Config.
func New(pool *Pool, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		pool:   pool,
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
	}
}

// attemptResult classifies one provider attempt. Rotation is driven by these
// explicit values; there is no retry hidden in error handling.
type attemptResult int

const (
	attemptOK attemptResult = iota
	attemptRateLimited
	attemptFailed
)

// message is the wire shape of one transcript turn.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete walks the primary pool once (each credential attempted at most
// once per call), fails over to the secondary provider on exhaustion, and
// degrades to a fixed reply if that also fails. It never returns an error.
func (g *Gateway) Complete(ctx context.Context, transcript []domain.Turn) string {
	msgs := toMessages(transcript)

	for attempt := 0; attempt < g.pool.Len(); attempt++ {
		cred, ok := g.pool.Current()
		if !ok {
			break
		}

		reply, res := g.tryPrimary(ctx, cred, msgs)
		switch res {
		case attemptOK:
			return reply
		case attemptRateLimited:
			g.logger.Warn("primary credential rate limited, rotating", "key_index", cred.Index)
			g.pool.Advance(cred)
		case attemptFailed:
			g.logger.Error("primary attempt failed, rotating", "key_index", cred.Index)
			g.pool.Advance(cred)
		}
	}

	if g.cfg.FallbackKey == "" {
		g.logger.Error("primary pool exhausted and no fallback key configured")
		return DegradedReply
	}

	g.logger.Warn("primary pool exhausted, switching to fallback provider")
	reply, err := g.tryFallback(ctx, msgs)
	if err != nil {
		g.logger.Error("fallback provider failed", "error", err)
		return DegradedReply
	}
	return reply
}

func (g *Gateway) tryPrimary(ctx context.Context, cred Credential, msgs []message) (string, attemptResult) {
	temp := primaryTemperature
	body := chatRequest{
		Model:       g.cfg.PrimaryModel,
		Messages:    msgs,
		Temperature: &temp,
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.PrimaryTimeout)
	defer cancel()

	status, content, err := g.post(callCtx, g.cfg.PrimaryBaseURL+"/chat/completions", cred.Key, nil, body)
	if err != nil {
		g.logger.Error("primary request error", "key_index", cred.Index, "error", err)
		return "", attemptFailed
	}
	if status == http.StatusTooManyRequests {
		return "", attemptRateLimited
	}
	if status < 200 || status >= 300 {
		g.logger.Error("primary non-2xx response", "key_index", cred.Index, "status", status)
		return "", attemptFailed
	}
	return content, attemptOK
}

func (g *Gateway) tryFallback(ctx context.Context, msgs []message) (string, error) {
	body := chatRequest{
		Model:    g.cfg.FallbackModel,
		Messages: msgs,
	}

	extra := map[string]string{}
	if g.cfg.Referer != "" {
		extra["HTTP-Referer"] = g.cfg.Referer
	}
	if g.cfg.Title != "" {
		extra["X-Title"] = g.cfg.Title
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.FallbackTimeout)
	defer cancel()

	status, content, err := g.post(callCtx, g.cfg.FallbackBaseURL+"/chat/completions", g.cfg.FallbackKey, extra, body)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("fallback returned status %d", status)
	}
	return content, nil
}

// post issues one completion request and extracts the reply content.
// A non-2xx status is returned without error so callers can classify it.
func (g *Gateway) post(ctx context.Context, url, key string, extraHeaders map[string]string, body chatRequest) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, "", nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, "", fmt.Errorf("read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return 0, "", fmt.Errorf("response contained no choices")
	}

	return resp.StatusCode, parsed.Choices[0].Message.Content, nil
}

func toMessages(transcript []domain.Turn) []message {
	msgs := make([]message, 0, len(transcript))
	for _, t := range transcript {
		msgs = append(msgs, message{Role: t.Role, Content: t.Content})
	}
	return msgs
}
