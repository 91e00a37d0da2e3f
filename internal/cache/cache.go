// Package cache provides a completion cache in front of the text-generation
// provider. Identical prompts within the TTL are served from the cache
// instead of burning a provider call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Entry is one cached completion.
type Entry struct {
	Key      string    `json:"key"`
	Text     string    `json:"text"`
	CachedAt time.Time `json:"cached_at"`
	Hits     int64     `json:"hits"`
}

// Backend is the storage interface behind the cache.
type Backend interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Set(ctx context.Context, key, text string, ttl time.Duration) error
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// Stats tracks cache performance.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Cache keys completions by prompt hash.
type Cache struct {
	backend Backend
	ttl     time.Duration

	mu    sync.Mutex
	stats Stats
}

// New creates a cache over the given backend.
func New(backend Backend, ttl time.Duration) *Cache {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Cache{backend: backend, ttl: ttl}
}

// Key hashes a prompt into a cache key.
func Key(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached completion for a prompt, if present and fresh.
func (c *Cache) Get(ctx context.Context, prompt string) (string, bool) {
	entry, ok := c.backend.Get(ctx, Key(prompt))
	c.mu.Lock()
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()
	if !ok {
		return "", false
	}
	return entry.Text, true
}

// Put stores a completion for a prompt.
func (c *Cache) Put(ctx context.Context, prompt, text string) error {
	return c.backend.Set(ctx, Key(prompt), text, c.ttl)
}

// Stats returns a snapshot of hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// MemoryBackend is the in-process Backend.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]*memoryEntry)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) (*Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(b.entries, key)
		return nil, false
	}
	e.entry.Hits++
	cp := e.entry
	return &cp, true
}

func (b *MemoryBackend) Set(_ context.Context, key, text string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = &memoryEntry{
		entry:     Entry{Key: key, Text: text, CachedAt: time.Now()},
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

func (b *MemoryBackend) Clear(_ context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]*memoryEntry)
}
