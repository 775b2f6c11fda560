package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/timesink-labs/timesink/internal/analysis"
	"github.com/timesink-labs/timesink/internal/domain"
	"github.com/timesink-labs/timesink/internal/orchestrator"
	"github.com/timesink-labs/timesink/internal/store"
	"github.com/timesink-labs/timesink/internal/trap"
)

type echoGateway struct{}

func (echoGateway) Complete(_ context.Context, transcript []domain.Turn) string {
	return "reply to: " + transcript[len(transcript)-1].Content
}

type proofDetector struct {
	file string
}

func (d proofDetector) Check(_ context.Context, message string, _ *domain.Session) (*trap.Bait, bool) {
	if !strings.Contains(message, "screenshot") {
		return nil, false
	}
	return &trap.Bait{
		Directive:   domain.Turn{Role: domain.RoleSystem, Content: "link is '/proof/" + d.file + "'", Ephemeral: true},
		Record:      domain.TrapRecord{File: d.file, Reason: "fake_proof", CreatedAt: time.Now()},
		ArtifactURL: "/proof/" + d.file,
	}, true
}

func newTestServer(t *testing.T, staticDir string) (*httptest.Server, store.Repository) {
	t.Helper()

	repo := store.NewMemory(100)
	orch := orchestrator.New(orchestrator.Deps{
		Repo:       repo,
		Gateway:    echoGateway{},
		Redactor:   analysis.Disabled{},
		Classifier: analysis.Disabled{},
		Describer:  analysis.Disabled{},
		Detector:   proofDetector{file: "proof_deadbeef.png"},
	}, orchestrator.Config{}, nil)

	r := chi.NewRouter()
	NewHandler(orch, staticDir).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestChatEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())

	resp := postJSON(t, srv.URL+"/chat", map[string]string{
		"session_id": "s1",
		"message":    "hello there",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Response string `json:"response"`
	}
	decodeBody(t, resp, &body)
	if body.Response != "reply to: hello there" {
		t.Fatalf("unexpected reply %q", body.Response)
	}
}

func TestChatEndpointRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"session_id": `},
		{"missing session id", `{"message": "hi"}`},
		{"missing message", `{"session_id": "s1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("post failed: %v", err)
			}
			defer func() {
				_ = resp.Body.Close()
			}()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestMediaEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())

	// Seed the session; media for unseen sessions is a 404.
	resp := postJSON(t, srv.URL+"/chat", map[string]string{"session_id": "s1", "message": "hi"})
	_ = resp.Body.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "voice.ogg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("not really audio")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/media?session_id=s1", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("media post failed: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	var body struct {
		Description string `json:"description"`
	}
	decodeBody(t, res, &body)
	if body.Description != analysis.DescribeFailed {
		t.Fatalf("unexpected description %q", body.Description)
	}
}

func TestMediaEndpointUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "pic.png")
	_, _ = fw.Write([]byte("bytes"))
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/media?session_id=ghost", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("media post failed: %v", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestProofEndpointServesAndAttributes(t *testing.T) {
	staticDir := t.TempDir()
	srv, repo := newTestServer(t, staticDir)

	// Arm the trap so the artifact has an owner.
	resp := postJSON(t, srv.URL+"/chat", map[string]string{"session_id": "s1", "message": "send screenshot"})
	_ = resp.Body.Close()

	artifact := filepath.Join(staticDir, "proof_deadbeef.png")
	if err := os.WriteFile(artifact, []byte("png bytes"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/proof/proof_deadbeef.png", nil)
	req.Header.Set("User-Agent", "curl/8.0")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("proof get failed: %v", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	sess, err := repo.GetSession(context.Background(), "s1")
	if err != nil || sess == nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if len(sess.Accesses) != 1 {
		t.Fatalf("expected one access entry, got %d", len(sess.Accesses))
	}
	if sess.Accesses[0].UserAgent != "curl/8.0" {
		t.Fatalf("user agent not recorded: %+v", sess.Accesses[0])
	}
}

func TestProofEndpointRejectsNonArtifactNames(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())

	for _, name := range []string{"..%2F..%2Fetc%2Fpasswd", "notproof.png", "proof_XYZ.png"} {
		res, err := http.Get(srv.URL + "/proof/" + name)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		_ = res.Body.Close()
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("name %q: expected 404, got %d", name, res.StatusCode)
		}
	}
}

func TestReportEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())

	resp := postJSON(t, srv.URL+"/chat", map[string]string{"session_id": "s1", "message": "hello sir"})
	_ = resp.Body.Close()

	res, err := http.Get(srv.URL + "/report/s1")
	if err != nil {
		t.Fatalf("report get failed: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	var rep orchestrator.Report
	decodeBody(t, res, &rep)
	if rep.SessionID != "s1" || rep.PersonaUsed != "Uncle Sharma" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(rep.ChatTranscript) != 3 {
		t.Fatalf("expected 3 transcript turns, got %d", len(rep.ChatTranscript))
	}

	missing, err := http.Get(srv.URL + "/report/ghost")
	if err != nil {
		t.Fatalf("report get failed: %v", err)
	}
	_ = missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unseen session, got %d", missing.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())

	res, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("status get failed: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	var body map[string]string
	decodeBody(t, res, &body)
	if body["status"] != "Scam Honeypot Active" {
		t.Fatalf("unexpected status payload: %v", body)
	}
}
