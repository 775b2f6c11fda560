// Package domain contains core domain types for the honeypot service.
package domain

import (
	"time"
)

// Turn roles as sent to the completion providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single role-tagged message in a session transcript.
// Ephemeral marks synthetic one-shot directives injected by the trap
// detector, so a future cleanup pass can tell them apart from real history.
type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// TrapRecord describes a deployed trap artifact.
type TrapRecord struct {
	File      string    `json:"file"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// AccessEntry logs a visitor fetching a trap artifact.
type AccessEntry struct {
	IP        string    `json:"ip"`
	UserAgent string    `json:"ua"`
	Timestamp time.Time `json:"timestamp"`
}

// Classification is the last scam-type label assigned to a session.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Session holds the full per-conversation state. The persona is frozen at
// creation; the transcript is append-only apart from injected directives.
type Session struct {
	ID             string          `json:"session_id"`
	Persona        string          `json:"persona"`
	Transcript     []Turn          `json:"transcript"`
	PaymentHandle  string          `json:"payment_handle,omitempty"`
	Traps          []TrapRecord    `json:"traps"`
	Accesses       []AccessEntry   `json:"accesses"`
	Classification *Classification `json:"classification,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	LastSeenAt     time.Time       `json:"last_seen_at"`
}

// NewSession creates a session seeded with the persona's system directive.
func NewSession(id, persona, directive string, now time.Time) *Session {
	return &Session{
		ID:         id,
		Persona:    persona,
		Transcript: []Turn{{Role: RoleSystem, Content: directive}},
		CreatedAt:  now,
		LastSeenAt: now,
	}
}

// AppendTurn adds a turn to the transcript.
func (s *Session) AppendTurn(t Turn) {
	s.Transcript = append(s.Transcript, t)
}

// RecordTrap logs a deployed trap. Repeated triggers are recorded
// independently; each one wastes more of the visitor's time.
func (s *Session) RecordTrap(r TrapRecord) {
	s.Traps = append(s.Traps, r)
}

// RecordAccess logs an artifact fetch against this session.
func (s *Session) RecordAccess(e AccessEntry) {
	s.Accesses = append(s.Accesses, e)
}

// OwnsArtifact reports whether any of this session's traps reference the
// given artifact filename.
func (s *Session) OwnsArtifact(filename string) bool {
	for _, t := range s.Traps {
		if t.File == filename {
			return true
		}
	}
	return false
}

// Expired reports whether the session has been idle longer than ttl.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.LastSeenAt) > ttl
}

// Clone returns a deep copy so stores can hand out sessions without
// exposing their internal state to concurrent mutation.
func (s *Session) Clone() *Session {
	c := *s
	c.Transcript = append([]Turn(nil), s.Transcript...)
	c.Traps = append([]TrapRecord(nil), s.Traps...)
	c.Accesses = append([]AccessEntry(nil), s.Accesses...)
	if s.Classification != nil {
		cl := *s.Classification
		c.Classification = &cl
	}
	return &c
}
