// Package embedcache wraps the embedding client with a two-tier cache: an
// in-process LRU in front of an optional Redis tier. Query vectors repeat
// heavily across retrieval passes (HyDE and step-back both re-embed), so
// the cache cuts most duplicate upstream calls.
package embedcache

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hsn0918/bookrag/pkg/clients/embedding"
	"github.com/hsn0918/bookrag/pkg/logger"
	"github.com/hsn0918/bookrag/pkg/redis"
)

const DefaultSize = 512

// Cache implements embedding.Embedder with caching in front of an upstream
// client.
type Cache struct {
	upstream embedding.Embedder
	local    *lru.Cache[string, []float32]
	remote   *redis.CacheService // optional second tier
}

var _ embedding.Embedder = (*Cache)(nil)

// New builds the cache. remote may be nil, leaving only the local tier.
func New(upstream embedding.Embedder, size int, remote *redis.CacheService) (*Cache, error) {
	if upstream == nil {
		return nil, fmt.Errorf("embedcache: upstream embedder is required")
	}
	if size <= 0 {
		size = DefaultSize
	}
	local, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedcache: %w", err)
	}
	return &Cache{upstream: upstream, local: local, remote: remote}, nil
}

// Dimensions returns the upstream vector width.
func (c *Cache) Dimensions() int { return c.upstream.Dimensions() }

// Embed returns the vector for text, consulting the local then the remote
// tier before calling upstream. Cache failures are logged and ignored; the
// upstream call is the source of truth.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.local.Get(text); ok {
		return vec, nil
	}
	if c.remote != nil {
		vec, err := c.remote.GetEmbedding(ctx, text)
		if err != nil {
			logger.Get().Warn("redis embedding lookup failed", slog.Any("error", err))
		} else if len(vec) > 0 {
			c.local.Add(text, vec)
			return vec, nil
		}
	}

	vec, err := c.upstream.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.local.Add(text, vec)
	if c.remote != nil {
		if err := c.remote.CacheEmbedding(ctx, text, vec); err != nil {
			logger.Get().Warn("redis embedding store failed", slog.Any("error", err))
		}
	}
	return vec, nil
}

// EmbedBatch serves cached entries locally and forwards only the misses
// upstream, preserving input order.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if vec, ok := c.local.Get(t); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.upstream.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.local.Add(texts[i], vecs[j])
		if c.remote != nil {
			if err := c.remote.CacheEmbedding(ctx, texts[i], vecs[j]); err != nil {
				logger.Get().Warn("redis embedding store failed", slog.Any("error", err))
			}
		}
	}
	return out, nil
}
