package store

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/timesink-labs/timesink/internal/domain"
)

// MemoryStore is the default Repository: an in-process LRU with a hard
// capacity. Sessions are evicted least-recently-used when the cap is hit
// and swept by the TTL worker when idle too long. State loss on restart is
// acceptable by design.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
}

type memoryEntry struct {
	id   string
	sess *domain.Session
}

// NewMemory creates a memory store holding at most capacity sessions.
func NewMemory(capacity int) *MemoryStore {
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// GetSession returns a copy of the stored session, marking it recently used.
func (m *MemoryStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	m.order.MoveToFront(el)
	return el.Value.(*memoryEntry).sess.Clone(), nil
}

// UpsertSession stores a copy of sess, evicting the least-recently-used
// session if the capacity is exceeded.
func (m *MemoryStore) UpsertSession(_ context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[sess.ID]; ok {
		el.Value.(*memoryEntry).sess = sess.Clone()
		m.order.MoveToFront(el)
		return nil
	}

	el := m.order.PushFront(&memoryEntry{id: sess.ID, sess: sess.Clone()})
	m.items[sess.ID] = el

	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*memoryEntry)
		m.order.Remove(oldest)
		delete(m.items, evicted.id)
		slog.Info("session evicted at capacity", "session_id", evicted.id, "capacity", m.capacity)
	}
	return nil
}

// FindSessionByArtifact linearly scans trap records for the filename.
func (m *MemoryStore) FindSessionByArtifact(_ context.Context, filename string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for el := m.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*memoryEntry)
		if e.sess.OwnsArtifact(filename) {
			return e.sess.Clone(), nil
		}
	}
	return nil, nil
}

// DeleteExpired removes sessions idle longer than ttl.
func (m *MemoryStore) DeleteExpired(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var removed int64
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*memoryEntry)
		if e.sess.Expired(ttl, now) {
			m.order.Remove(el)
			delete(m.items, e.id)
			removed++
		}
		el = next
	}
	return removed, nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.order.Len(), nil
}

// Ping always succeeds for the in-memory backend.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op for the in-memory backend.
func (m *MemoryStore) Close() error { return nil }
