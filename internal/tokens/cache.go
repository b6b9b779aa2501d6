// Package tokens keeps the agent's API keys and their rate limits in memory.
package tokens

import (
	"errors"
	"sync"
)

var (
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that the token store has not been loaded yet.
	// This can happen during startup when the DB isn't ready.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)

// Entry is one API key as stored in the database.
type Entry struct {
	RateLimit int
	Station   string
}

// Cache is safe for concurrent use. A nil map means "never loaded".
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewCache() *Cache { return &Cache{} }

// Replace swaps in a copy of m.
func (c *Cache) Replace(m map[string]Entry) {
	cp := make(map[string]Entry, len(m))
	for k, v := range m {
		cp[k] = v
	}
	c.mu.Lock()
	c.entries = cp
	c.mu.Unlock()
}

// Ready returns true if the cache has been initialized at least once.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries != nil
}

// Validate checks key against the cache.
func (c *Cache) Validate(key string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entries == nil {
		return ErrTokenStoreNotReady
	}
	if _, ok := c.entries[key]; !ok {
		return ErrInvalidAPIKey
	}
	return nil
}

// RateLimit returns the configured limit for key, or 0 (unlimited) when unknown.
func (c *Cache) RateLimit(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key].RateLimit
}

// Station returns the station label registered for key.
func (c *Cache) Station(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key].Station
}
