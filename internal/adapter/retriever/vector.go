package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"palicanon/internal/domain"
	"palicanon/internal/port"
)

// termSeparator joins plan terms into the single text that gets embedded.
const termSeparator = " | "

// VectorScorer embeds plan terms and pulls the candidate pool from the index.
type VectorScorer struct {
	index    port.ChunkIndex
	embedder port.Embedder
}

func NewVectorScorer(index port.ChunkIndex, embedder port.Embedder) *VectorScorer {
	return &VectorScorer{
		index:    index,
		embedder: embedder,
	}
}

// EmbedTerms embeds the terms as one query vector.
func (v *VectorScorer) EmbedTerms(ctx context.Context, terms []string) ([]float32, error) {
	if v.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", domain.ErrEmbedderUnavailable)
	}

	embeddings, err := v.embedder.Embed(ctx, []string{strings.Join(terms, termSeparator)})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbedderUnavailable, err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: embedding returned empty result", domain.ErrEmbedderUnavailable)
	}
	return embeddings[0], nil
}

// Search returns up to fetchK chunks by cosine similarity. Index errors other
// than cancellation are reported as ErrIndexUnavailable.
func (v *VectorScorer) Search(ctx context.Context, query []float32, fetchK int, filter *domain.Filter) ([]domain.ScoredChunk, error) {
	if v.index == nil {
		return nil, fmt.Errorf("%w: no index configured", domain.ErrIndexUnavailable)
	}

	results, err := v.index.SearchByVector(ctx, query, fetchK, filter)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if errors.Is(err, domain.ErrIndexUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: vector search: %w", domain.ErrIndexUnavailable, err)
	}
	return results, nil
}
