// Package cache provides exact-match caching of generated content, keyed by
// a fingerprint of the canonicalized request. Lookups never fail: backends
// that can error (Redis) degrade errors to misses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/vnmchuo/content-engine/internal/provider"
)

// Fingerprint canonicalizes a request into a deterministic cache key. Image
// prompts are tagged so an image request never collides with a text request
// for the same literal prompt.
func Fingerprint(c provider.Capability, prompt string) string {
	input := prompt
	if c == provider.CapabilityImage {
		input = "img:" + prompt
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Store is a fingerprint -> content mapping. One entry per fingerprint,
// last writer wins, no expiry.
type Store interface {
	Get(ctx context.Context, fingerprint string) (string, bool)
	Put(ctx context.Context, fingerprint string, content string)
	Clear(ctx context.Context)
}

// Cache fronts a Store with the enabled flag from configuration. Disabled,
// every lookup misses and writes are dropped.
type Cache struct {
	store   Store
	enabled bool
}

func New(store Store, enabled bool) *Cache {
	return &Cache{store: store, enabled: enabled}
}

func (c *Cache) Enabled() bool { return c.enabled }

func (c *Cache) Get(ctx context.Context, capability provider.Capability, prompt string) (string, bool) {
	if !c.enabled {
		return "", false
	}
	return c.store.Get(ctx, Fingerprint(capability, prompt))
}

func (c *Cache) Put(ctx context.Context, capability provider.Capability, prompt, content string) {
	if !c.enabled {
		return
	}
	c.store.Put(ctx, Fingerprint(capability, prompt), content)
}

// Clear empties the store. Administrative use only, never called
// automatically.
func (c *Cache) Clear(ctx context.Context) {
	if !c.enabled {
		return
	}
	c.store.Clear(ctx)
}

// MemoryStore is the in-process default backend.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, fingerprint string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.entries[fingerprint]
	return content, ok
}

func (s *MemoryStore) Put(_ context.Context, fingerprint, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[fingerprint] = content
}

func (s *MemoryStore) Clear(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]string)
}

// Len reports the number of cached entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
