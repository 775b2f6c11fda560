// Package api provides HTTP handlers for the honeypot service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/timesink-labs/timesink/internal/orchestrator"
)

// maxMediaSize bounds uploaded media payloads.
const maxMediaSize = 16 * 1024 * 1024

// artifactPattern whitelists servable artifact filenames; anything else is
// treated as not found, which also kills path traversal.
var artifactPattern = regexp.MustCompile(`^proof_[a-f0-9]{8}\.png$`)

// Handler serves the chat, media, proof and report endpoints.
type Handler struct {
	orch      *orchestrator.Orchestrator
	staticDir string
}

// NewHandler creates a Handler.
func NewHandler(orch *orchestrator.Orchestrator, staticDir string) *Handler {
	return &Handler{orch: orch, staticDir: staticDir}
}

// RegisterRoutes attaches all honeypot routes to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.Chat)
	r.Post("/media", h.Media)
	r.Get("/proof/{filename}", h.Proof)
	r.Get("/report/{sessionID}", h.ReportHandler)
	r.Get("/", h.Status)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// Chat is the main conversation endpoint. Unknown session ids create a new
// session; provider trouble degrades inside the orchestrator, so the only
// errors surfaced here are bad input and store failures.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Message == "" {
		Error(w, http.StatusBadRequest, "session_id and message are required")
		return
	}

	reply, err := h.orch.HandleMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		slog.Error("chat transition failed", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	JSON(w, http.StatusOK, chatResponse{Response: reply})
}

type mediaResponse struct {
	Description string `json:"description"`
}

// Media accepts an uploaded file for an existing session, has it described
// by the external analyzer, and injects the observation into the transcript.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = r.FormValue("session_id")
	}
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(file, maxMediaSize))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read file")
		return
	}

	kind := mediaKind(header.Header.Get("Content-Type"))

	description, err := h.orch.HandleMedia(r.Context(), sessionID, payload, kind)
	if err != nil {
		if errors.Is(err, orchestrator.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("media handling failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to process media")
		return
	}

	JSON(w, http.StatusOK, mediaResponse{Description: description})
}

// Proof serves a trap artifact, attributing the fetch to the owning session
// before the bytes go out.
func (h *Handler) Proof(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if !artifactPattern.MatchString(filename) {
		Error(w, http.StatusNotFound, "file not found")
		return
	}

	ip := ipFromRequest(r)
	userAgent := r.Header.Get("User-Agent")

	attributed, err := h.orch.RecordArtifactAccess(r.Context(), filename, ip, userAgent)
	if err != nil {
		slog.Error("failed to record artifact access", "file", filename, "error", err)
	} else if !attributed {
		slog.Warn("artifact fetched without owning session", "file", filename, "ip", ip)
	}

	path := filepath.Join(h.staticDir, filename)
	if _, err := os.Stat(path); err != nil {
		Error(w, http.StatusNotFound, "file not found")
		return
	}
	http.ServeFile(w, r, path)
}

// ReportHandler returns the extracted-evidence report for a session.
func (h *Handler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	report, err := h.orch.BuildReport(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("report build failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	JSON(w, http.StatusOK, report)
}

// Status is a simple readiness payload at the root.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status": "Scam Honeypot Active",
		"mode":   "Offensive",
	})
}

// mediaKind maps a declared content type to the analyzer's media kinds.
func mediaKind(contentType string) string {
	switch {
	case strings.Contains(contentType, "audio"):
		return "audio"
	case strings.Contains(contentType, "image"):
		return "image"
	default:
		return "unknown"
	}
}

// ipFromRequest returns a normalized remote IP. chi's RealIP middleware has
// already folded X-Forwarded-For into RemoteAddr.
func ipFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
