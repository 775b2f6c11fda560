// Package evidence records completed conversation exchanges as per-session
// NDJSON files for later reporting. Writes happen on a background goroutine
// so a slow disk never delays a reply.
package evidence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config controls evidence logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one logged conversation entry.
type Event struct {
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	Persona   string    `json:"persona,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Label     string    `json:"label,omitempty"`
}

// Logger appends events to <dir>/<session_id>.ndjson.
type Logger struct {
	cfg    Config
	logger *slog.Logger

	queue chan Event
	done  chan struct{}
	once  sync.Once
}

// New creates the evidence logger. When disabled, Log is a no-op.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Logger{cfg: cfg, logger: logger}
	if !cfg.Enabled {
		return l, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence directory: %w", err)
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
		l.cfg.QueueSize = 1000
	}

	l.queue = make(chan Event, l.cfg.QueueSize)
	l.done = make(chan struct{})
	go l.run()

	return l, nil
}

// Log enqueues an event. If the queue is full the event is dropped with a
// warning; evidence logging must never block a chat transition.
func (l *Logger) Log(ev Event) {
	if !l.cfg.Enabled {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("evidence queue full, dropping event", "session_id", ev.SessionID)
	}
}

// Close drains the queue and stops the writer.
func (l *Logger) Close() error {
	if !l.cfg.Enabled {
		return nil
	}
	l.once.Do(func() {
		close(l.queue)
		<-l.done
	})
	return nil
}

func (l *Logger) run() {
	defer close(l.done)
	for ev := range l.queue {
		if err := l.write(ev); err != nil {
			l.logger.Error("failed to write evidence event", "session_id", ev.SessionID, "error", err)
		}
	}
}

func (l *Logger) write(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	path := filepath.Join(l.cfg.Dir, sanitizeFilename(ev.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open evidence file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append evidence line: %w", err)
	}
	return nil
}

// sanitizeFilename keeps session-id-derived filenames inside the evidence
// directory.
func sanitizeFilename(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}
