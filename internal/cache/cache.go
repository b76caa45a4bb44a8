// Package cache implements the response cache that short-circuits
// repeat queries before they reach retrieval and the language model.
//
// The cache is best-effort by contract: a store failure is logged and
// treated as a miss, never surfaced to the query path.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Store is a key-value answer cache. Implementations must keep at most
// one live entry per key: Put replaces, never duplicates. Expired
// entries behave as misses and are overwritten by the next Put.
type Store interface {
	// Get returns the cached answer and whether it was found.
	Get(ctx context.Context, key string) (string, bool, error)

	// Put stores answer under key, replacing any previous entry.
	Put(ctx context.Context, key, answer string) error
}

// Key derives the cache key for a query within a session. The query is
// lowercased and whitespace-collapsed so trivially reworded repeats
// share an entry, while the session id keeps context-dependent answers
// from colliding across conversations.
func Key(query, session string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized + "|" + session))
	return hex.EncodeToString(sum[:])
}

// entry is a value with its expiry, used by the in-memory store.
type entry struct {
	answer    string
	expiresAt time.Time
}

// Memory is an in-process Store with TTL semantics matching the redis
// implementation. Used in tests and single-shot CLI runs.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration // 0 = entries never expire
	entries map[string]entry
	now     func() time.Time
}

// NewMemory creates an in-memory store with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the live entry for key, treating expired entries as misses.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.answer, true, nil
}

// Put replaces the entry for key.
func (m *Memory) Put(_ context.Context, key, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{answer: answer}
	if m.ttl > 0 {
		e.expiresAt = m.now().Add(m.ttl)
	}
	m.entries[key] = e
	return nil
}
