package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timesink-labs/timesink/internal/domain"
)

func testConfig(primaryURL, fallbackURL, fallbackKey string) Config {
	return Config{
		PrimaryBaseURL:  primaryURL,
		PrimaryModel:    "test-primary",
		PrimaryTimeout:  2 * time.Second,
		FallbackBaseURL: fallbackURL,
		FallbackModel:   "test-fallback",
		FallbackKey:     fallbackKey,
		FallbackTimeout: 2 * time.Second,
	}
}

func completionBody(content string) string {
	return `{"choices":[{"message":{"content":` + jsonString(content) + `}}]}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func sampleTranscript() []domain.Turn {
	return []domain.Turn{
		{Role: domain.RoleSystem, Content: "be grandma"},
		{Role: domain.RoleUser, Content: "hello"},
	}
}

func TestCompleteSuccessFirstCredential(t *testing.T) {
	var gotAuth string
	var gotModel string
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel = req.Model
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		_, _ = w.Write([]byte(completionBody("hello beta")))
	}))
	defer primary.Close()

	pool := NewPool([]string{"key-0", "key-1"})
	g := New(pool, testConfig(primary.URL, "", ""), nil)

	reply := g.Complete(context.Background(), sampleTranscript())
	if reply != "hello beta" {
		t.Fatalf("expected primary reply, got %q", reply)
	}
	if gotAuth != "Bearer key-0" {
		t.Fatalf("expected first credential, got %q", gotAuth)
	}
	if gotModel != "test-primary" {
		t.Fatalf("expected primary model, got %q", gotModel)
	}
	if pool.Index() != 0 {
		t.Fatalf("success must not advance the cursor, index = %d", pool.Index())
	}
}

func TestCompleteRotatesOnRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(completionBody("second key works")))
	}))
	defer primary.Close()

	pool := NewPool([]string{"key-0", "key-1"})
	g := New(pool, testConfig(primary.URL, "", ""), nil)

	reply := g.Complete(context.Background(), sampleTranscript())
	if reply != "second key works" {
		t.Fatalf("expected reply from rotated credential, got %q", reply)
	}
	if pool.Index() != 1 {
		t.Fatalf("expected cursor on index 1, got %d", pool.Index())
	}
}

func TestCompleteAllRateLimitedFailsOverToFallback(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer primary.Close()

	var fallbackAuth string
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(completionBody("fallback reply")))
	}))
	defer fallback.Close()

	pool := NewPool([]string{"key-0", "key-1"})
	g := New(pool, testConfig(primary.URL, fallback.URL, "fb-key"), nil)

	reply := g.Complete(context.Background(), sampleTranscript())
	if reply != "fallback reply" {
		t.Fatalf("expected fallback reply, got %q", reply)
	}
	if fallbackAuth != "Bearer fb-key" {
		t.Fatalf("expected fallback key, got %q", fallbackAuth)
	}
	// Two credentials, two rate limits: the cursor advanced exactly twice
	// and wrapped back to 0.
	if pool.Index() != 0 {
		t.Fatalf("expected cursor wrapped to 0, got %d", pool.Index())
	}
}

func TestCompleteGenericFailureAlsoRotates(t *testing.T) {
	var calls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(completionBody("recovered")))
	}))
	defer primary.Close()

	pool := NewPool([]string{"key-0", "key-1"})
	g := New(pool, testConfig(primary.URL, "", ""), nil)

	if reply := g.Complete(context.Background(), sampleTranscript()); reply != "recovered" {
		t.Fatalf("expected recovery on second credential, got %q", reply)
	}
}

func TestCompleteMalformedResponseRotates(t *testing.T) {
	var calls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"choices":[]}`))
			return
		}
		_, _ = w.Write([]byte(completionBody("ok now")))
	}))
	defer primary.Close()

	pool := NewPool([]string{"key-0", "key-1"})
	g := New(pool, testConfig(primary.URL, "", ""), nil)

	if reply := g.Complete(context.Background(), sampleTranscript()); reply != "ok now" {
		t.Fatalf("expected rotation past malformed response, got %q", reply)
	}
}

func TestCompleteEmptyPoolNoFallbackDegrades(t *testing.T) {
	pool := NewPool(nil)
	g := New(pool, testConfig("http://127.0.0.1:0", "", ""), nil)

	if reply := g.Complete(context.Background(), sampleTranscript()); reply != DegradedReply {
		t.Fatalf("expected degraded reply, got %q", reply)
	}
}

func TestCompleteFallbackFailureDegrades(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer fallback.Close()

	pool := NewPool([]string{"key-0"})
	g := New(pool, testConfig(primary.URL, fallback.URL, "fb-key"), nil)

	if reply := g.Complete(context.Background(), sampleTranscript()); reply != DegradedReply {
		t.Fatalf("expected degraded reply, got %q", reply)
	}
}

func TestCompleteFallbackSendsAttributionHeaders(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer primary.Close()

	var referer, title string
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("HTTP-Referer")
		title = r.Header.Get("X-Title")
		_, _ = w.Write([]byte(completionBody("ok")))
	}))
	defer fallback.Close()

	cfg := testConfig(primary.URL, fallback.URL, "fb-key")
	cfg.Referer = "https://honeypot.example"
	cfg.Title = "Honeypot"

	g := New(NewPool([]string{"key-0"}), cfg, nil)
	_ = g.Complete(context.Background(), sampleTranscript())

	if referer != "https://honeypot.example" || title != "Honeypot" {
		t.Fatalf("expected attribution headers, got referer=%q title=%q", referer, title)
	}
}
