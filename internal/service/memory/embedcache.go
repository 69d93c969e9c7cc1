package memory

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// EmbedCache caches embedding vectors keyed by content hash. Identical fact
// text always produces the same vector, so a hash hit saves a provider call.
type EmbedCache struct {
	cache *ristretto.Cache
}

func NewEmbedCache() (*EmbedCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     32 << 20, // 32 MiB of float32 vectors
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &EmbedCache{cache: cache}, nil
}

func (c *EmbedCache) Get(contentHash string) ([]float32, bool) {
	v, ok := c.cache.Get(contentHash)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	return vec, ok
}

func (c *EmbedCache) Set(contentHash string, vec []float32) {
	c.cache.Set(contentHash, vec, int64(len(vec)*4))
}
