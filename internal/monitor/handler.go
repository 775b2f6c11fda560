package monitor

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// Handler upgrades operator connections and parks them on the hub until
// they disconnect.
type Handler struct {
	hub *Hub
}

// NewHandler creates the watch endpoint handler.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP accepts a WebSocket and subscribes it to the requested session
// (?session_id=...; empty watches everything). The connection is read only
// to detect closure; watchers receive events, they do not send.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	slog.Info("watch connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept watch websocket", "error", err)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "watch ended")
	}()

	h.hub.Register(sessionID, ws)
	defer h.hub.Unregister(sessionID, ws)

	// Block until the client goes away.
	ctx := r.Context()
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}
