package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"palicanon/internal/port"
)

// CachedEmbedder memoizes embeddings by text. Each Retrieve embeds its query
// once; repeated questions across calls and interactive sessions hit the
// cache.
type CachedEmbedder struct {
	port.Embedder
	cache *lru.Cache[string, []float32]
}

func NewCachedEmbedder(embedder port.Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = 1024
	}
	c, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{Embedder: embedder, cache: c}
}

// Embed only sends texts that are not cached to the wrapped embedder.
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := e.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := e.Embedder.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missing))
	}
	for j, v := range vecs {
		out[missingIdx[j]] = v
		e.cache.Add(missing[j], v)
	}
	return out, nil
}
