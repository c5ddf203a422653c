package redis

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"
)

// CacheService stores embedding vectors keyed by a digest of their input
// text, so identical sentences across ingestion runs hit the cache.
type CacheService struct {
	client RedisClient
	ttl    time.Duration
}

const DefaultEmbeddingTTL = 24 * time.Hour

func NewCacheService(client RedisClient, ttl time.Duration) *CacheService {
	if ttl <= 0 {
		ttl = DefaultEmbeddingTTL
	}
	return &CacheService{
		client: client,
		ttl:    ttl,
	}
}

func (s *CacheService) CacheEmbedding(ctx context.Context, text string, embedding []float32) error {
	key := fmt.Sprintf("embedding:%s", hashText(text))
	return s.client.SetJSON(ctx, key, embedding, s.ttl)
}

// GetEmbedding returns the cached vector for text, or nil on a miss.
func (s *CacheService) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := fmt.Sprintf("embedding:%s", hashText(text))
	var embedding []float32
	if err := s.client.GetJSON(ctx, key, &embedding); err != nil {
		return nil, err
	}
	return embedding, nil
}

func hashText(text string) string {
	hash := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", hash)
}
