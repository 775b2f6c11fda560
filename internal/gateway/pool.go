package gateway

import (
	"sync"
)

// Credential is one interchangeable provider secret. Index identifies it in
// logs without leaking the key.
type Credential struct {
	Key   string
	Index int
}

// Pool cycles through interchangeable credentials for the primary provider.
// The cursor is shared by every in-flight gateway call, so reads and
// advances go through one mutex.
type Pool struct {
	mu    sync.Mutex
	keys  []Credential
	index int
}

// NewPool builds a pool from raw keys, preserving order. Empty keys are
// skipped.
func NewPool(keys []string) *Pool {
	p := &Pool{}
	for _, k := range keys {
		if k == "" {
			continue
		}
		p.keys = append(p.keys, Credential{Key: k, Index: len(p.keys)})
	}
	return p
}

// Current returns the credential at the cursor. ok is false when the pool
// is empty.
func (p *Pool) Current() (Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return Credential{}, false
	}
	return p.keys[p.index], true
}

// Advance rotates the cursor past the given credential, but only if the
// cursor still points at it. Two sessions failing concurrently on the same
// credential therefore advance the cursor once, not twice — without this
// check a pair of racing 429s could skip a healthy key entirely.
func (p *Pool) Advance(after Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return
	}
	if p.index == after.Index {
		p.index = (p.index + 1) % len(p.keys)
	}
}

// Len returns the number of credentials in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Index returns the current cursor position.
func (p *Pool) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}
