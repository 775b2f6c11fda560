// Package store provides session persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/timesink-labs/timesink/internal/domain"
)

// Repository defines the interface for persisting honeypot sessions.
// Implementations hand out copies; callers mutate and write back under the
// session's keyed lock.
type Repository interface {
	// GetSession retrieves a session by id. Returns (nil, nil) when unseen.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// UpsertSession creates or replaces a session record.
	UpsertSession(ctx context.Context, sess *domain.Session) error

	// FindSessionByArtifact returns the session whose trap records reference
	// the given artifact filename, or (nil, nil) if none does.
	FindSessionByArtifact(ctx context.Context, filename string) (*domain.Session, error)

	// DeleteExpired removes sessions idle longer than ttl and reports how
	// many were removed.
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// Len returns the number of stored sessions.
	Len(ctx context.Context) (int, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
