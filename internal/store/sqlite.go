package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/timesink-labs/timesink/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository on SQLite, for deployments that want
// reports to survive a restart. Transcript, traps and access log are stored
// as JSON columns; sessions are small and always read whole.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath with WAL enabled.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		persona TEXT NOT NULL,
		payment_handle TEXT,
		transcript_json TEXT NOT NULL,
		traps_json TEXT NOT NULL,
		accesses_json TEXT NOT NULL,
		classification_label TEXT,
		classification_confidence REAL,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON sessions(last_seen_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id. Returns (nil, nil) when unseen.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT session_id, persona, payment_handle, transcript_json, traps_json,
		       accesses_json, classification_label, classification_confidence,
		       created_at, last_seen_at
		FROM sessions WHERE session_id = ?`

	return scanSession(s.db.QueryRowContext(ctx, query, id))
}

// UpsertSession creates or replaces a session record.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *domain.Session) error {
	transcript, err := json.Marshal(sess.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	traps, err := json.Marshal(sess.Traps)
	if err != nil {
		return fmt.Errorf("marshal traps: %w", err)
	}
	accesses, err := json.Marshal(sess.Accesses)
	if err != nil {
		return fmt.Errorf("marshal accesses: %w", err)
	}

	var label interface{}
	var confidence interface{}
	if sess.Classification != nil {
		label = sess.Classification.Label
		confidence = sess.Classification.Confidence
	}

	var handle interface{}
	if sess.PaymentHandle != "" {
		handle = sess.PaymentHandle
	}

	query := `
	INSERT INTO sessions (session_id, persona, payment_handle, transcript_json,
		traps_json, accesses_json, classification_label, classification_confidence,
		created_at, last_seen_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		payment_handle = excluded.payment_handle,
		transcript_json = excluded.transcript_json,
		traps_json = excluded.traps_json,
		accesses_json = excluded.accesses_json,
		classification_label = excluded.classification_label,
		classification_confidence = excluded.classification_confidence,
		last_seen_at = excluded.last_seen_at`

	_, err = s.db.ExecContext(ctx, query,
		sess.ID, sess.Persona, handle, string(transcript), string(traps),
		string(accesses), label, confidence,
		sess.CreatedAt.Unix(), sess.LastSeenAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// FindSessionByArtifact scans stored trap records for the filename. The
// JSON LIKE filter narrows candidates; ownership is confirmed on the
// decoded record to avoid substring false positives.
func (s *SQLiteStore) FindSessionByArtifact(ctx context.Context, filename string) (*domain.Session, error) {
	query := `
		SELECT session_id, persona, payment_handle, transcript_json, traps_json,
		       accesses_json, classification_label, classification_confidence,
		       created_at, last_seen_at
		FROM sessions WHERE traps_json LIKE ?`

	rows, err := s.db.QueryContext(ctx, query, "%"+filename+"%")
	if err != nil {
		return nil, fmt.Errorf("query sessions by artifact: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		if sess.OwnsArtifact(filename) {
			return sess, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return nil, nil
}

// DeleteExpired removes sessions idle longer than ttl.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return removed, nil
}

// Len returns the number of stored sessions.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var handle, label sql.NullString
	var confidence sql.NullFloat64
	var transcript, traps, accesses string
	var createdAt, lastSeenAt int64

	err := row.Scan(
		&sess.ID, &sess.Persona, &handle, &transcript, &traps,
		&accesses, &label, &confidence, &createdAt, &lastSeenAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.PaymentHandle = handle.String
	if err := json.Unmarshal([]byte(transcript), &sess.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if err := json.Unmarshal([]byte(traps), &sess.Traps); err != nil {
		return nil, fmt.Errorf("decode traps: %w", err)
	}
	if err := json.Unmarshal([]byte(accesses), &sess.Accesses); err != nil {
		return nil, fmt.Errorf("decode accesses: %w", err)
	}
	if label.Valid {
		sess.Classification = &domain.Classification{
			Label:      label.String,
			Confidence: confidence.Float64,
		}
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.LastSeenAt = time.Unix(lastSeenAt, 0)

	return &sess, nil
}
