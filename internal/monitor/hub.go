// Package monitor streams live conversation events to operator dashboards
// over WebSocket.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event is one conversation update pushed to watchers.
type Event struct {
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	Persona   string    `json:"persona,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Trap      string    `json:"trap,omitempty"`
}

// writeTimeout bounds one push to a watcher connection.
const writeTimeout = 5 * time.Second

// Hub tracks operator WebSocket connections per watched session id.
// Publishing is best effort: a dead or slow watcher is dropped, never
// allowed to stall a chat transition.
type Hub struct {
	mu       sync.RWMutex
	watchers map[string]map[*websocket.Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{watchers: make(map[string]map[*websocket.Conn]struct{})}
}

// Register adds a watcher connection for a session id. An empty session id
// subscribes to all sessions.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.watchers[sessionID]; !ok {
		h.watchers[sessionID] = make(map[*websocket.Conn]struct{})
	}
	h.watchers[sessionID][conn] = struct{}{}
	slog.Info("watcher registered", "session_id", sessionID)
}

// Unregister removes a watcher connection.
func (h *Hub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.watchers[sessionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.watchers, sessionID)
		}
		slog.Info("watcher unregistered", "session_id", sessionID)
	}
}

// Publish pushes an event to watchers of its session and to wildcard
// watchers. Connections that fail to accept the write are closed and
// forgotten.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal monitor event", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*websocket.Conn, 0)
	for _, key := range []string{ev.SessionID, ""} {
		for conn := range h.watchers[key] {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			slog.Debug("dropping unresponsive watcher", "session_id", ev.SessionID, "error", err)
			_ = conn.Close(websocket.StatusNormalClosure, "write failed")
			h.drop(conn)
		}
	}
}

// WatcherCount reports how many connections watch the given session id.
func (h *Hub) WatcherCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[sessionID])
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sid, conns := range h.watchers {
		if _, ok := conns[conn]; ok {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(h.watchers, sid)
			}
		}
	}
}
