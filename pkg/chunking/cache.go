package chunking

import (
	"fmt"
	"sync"
)

// embeddingCache provides thread-safe caching for sentence embeddings during
// ingestion. Eviction is FIFO; capacity bounds memory while a long document
// streams through.
type embeddingCache struct {
	mu    sync.RWMutex
	items map[string][]float32
	order []string
	size  int
}

// newEmbeddingCache creates a new cache with the given capacity.
func newEmbeddingCache(size int) *embeddingCache {
	if size <= 0 {
		size = 1
	}
	return &embeddingCache{
		items: make(map[string][]float32, size),
		order: make([]string, 0, size),
		size:  size,
	}
}

// get retrieves an embedding from cache.
func (c *embeddingCache) get(key string) []float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.items[hashKey(key)]
}

// set stores an embedding in cache.
func (c *embeddingCache) set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hashed := hashKey(key)

	// Evict oldest if at capacity.
	if len(c.items) >= c.size && c.items[hashed] == nil {
		if len(c.order) > 0 {
			delete(c.items, c.order[0])
			c.order = c.order[1:]
		}
	}

	c.items[hashed] = value
	c.order = append(c.order, hashed)
}

// hashKey generates a cache key from text.
func hashKey(text string) string {
	const maxLen = 32
	if len(text) > maxLen {
		text = text[:maxLen]
	}
	return fmt.Sprintf("%x", text)
}
