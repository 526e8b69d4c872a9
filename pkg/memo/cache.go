package memo

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/ximing/aimo/internal/observability"
)

// CachedEmbedder memoizes embeddings keyed by content hash. Unchanged
// content never hits the provider twice, which matters on the update path
// where only metadata changed.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps inner with an in-memory cache holding up to
// maxEntries embeddings.
func NewCachedEmbedder(inner Embedder, maxEntries int64) (*CachedEmbedder, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := contentHash(text)
	if v, ok := c.cache.Get(key); ok {
		if embedding, ok := v.([]float32); ok {
			observability.RecordEmbeddingCache(true)
			return embedding, nil
		}
	}
	observability.RecordEmbeddingCache(false)

	embedding, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, embedding, 1)
	return embedding, nil
}

// Close releases the cache's internal goroutines
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
