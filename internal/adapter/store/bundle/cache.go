package bundle

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.ngs.io/climate-compiler/internal/domain"
)

type cacheEntry struct {
	modTime time.Time
	size    int64
	bundle  *domain.Bundle
}

// Cache keeps decoded bundles in memory, reloading a file when its size or
// modification time changes. Cached bundles are shared and must be treated
// as read-only.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	load    func(path string) (*domain.Bundle, error)
}

// NewCache creates a cache backed by Read.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry), load: Read}
}

// Read returns the bundle at path from memory when the file is unchanged.
func (c *Cache) Read(path string) (*domain.Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		c.evict(path)
		return nil, fmt.Errorf("stat bundle: %w", err)
	}

	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		return e.bundle, nil
	}

	b, err := c.load(path)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[path] = cacheEntry{modTime: info.ModTime(), size: info.Size(), bundle: b}
	c.mu.Unlock()
	return b, nil
}

// size returns the number of cached bundles.
func (c *Cache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) evict(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}
