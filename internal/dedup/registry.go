// Package dedup implements the seen-page registry that keeps identical
// content from being processed twice.
//
// A page is keyed by the hash of its URL and carries the hash of its
// refined content. Re-crawling a URL whose content is unchanged is a
// skip; changed content is reprocessed and the registry entry updated,
// so a re-crawl picks up edits without storing duplicates.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"
)

// Registry tracks which (url, content) pairs have been fully processed.
//
// ShouldProcess and SeenContent are reads: they never mutate the
// registry, so an aborted task leaves no trace. Record is called only
// after the document has been committed downstream; it returns whether
// this caller won the write. A lost race means another worker committed
// the same content concurrently, and the caller should treat its copy
// as a duplicate.
//
// SeenContent answers the cross-URL question: is this exact content
// already recorded under any URL? Mirror pages are skipped on it, so
// identical text reached through two URLs yields one stored chunk set.
type Registry interface {
	ShouldProcess(ctx context.Context, pageURL, contentHash string) (bool, error)
	SeenContent(ctx context.Context, contentHash string) (bool, error)
	Record(ctx context.Context, pageURL, contentHash string) (bool, error)
}

// URLKey returns the registry key for a URL: the sha256 hex digest of
// the URL with its fragment stripped, so "page#a" and "page#b" share
// one entry.
func URLKey(pageURL string) string {
	if u, err := url.Parse(pageURL); err == nil {
		u.Fragment = ""
		pageURL = u.String()
	}
	pageURL = strings.TrimSuffix(pageURL, "/")
	sum := sha256.Sum256([]byte(pageURL))
	return hex.EncodeToString(sum[:])
}

// Memory is an in-process Registry for tests and one-shot crawls.
type Memory struct {
	mu      sync.Mutex
	seen    map[string]string // url key -> content hash
	content map[string]int    // content hash -> reference count
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		seen:    make(map[string]string),
		content: make(map[string]int),
	}
}

// ShouldProcess reports whether the URL is new or its content changed.
func (m *Memory) ShouldProcess(_ context.Context, pageURL, contentHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.seen[URLKey(pageURL)]
	return !ok || prev != contentHash, nil
}

// SeenContent reports whether any recorded URL carries this content.
func (m *Memory) SeenContent(_ context.Context, contentHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content[contentHash] > 0, nil
}

// Record stores the (url, content) pair. Returns false when another
// caller already recorded the identical content.
func (m *Memory) Record(_ context.Context, pageURL, contentHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := URLKey(pageURL)
	prev, had := m.seen[key]
	if had && prev == contentHash {
		return false, nil
	}
	if had {
		if m.content[prev] > 1 {
			m.content[prev]--
		} else {
			delete(m.content, prev)
		}
	}
	m.seen[key] = contentHash
	m.content[contentHash]++
	return true, nil
}

// Len reports the number of registered URLs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
