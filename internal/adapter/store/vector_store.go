package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"go.etcd.io/bbolt"

	"palicanon/internal/domain"
)

var (
	bucketVectors = []byte("vectors")
)

type vectorEntry struct {
	vector []float32
	meta   domain.ChunkMetadata
}

type storedVector struct {
	Vector []float32            `json:"v"`
	Meta   domain.ChunkMetadata `json:"m"`
}

// loadVectors loads all vectors from BoltDB into memory.
func (s *BoltStore) loadVectors() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				s.logger.Warn("skipping corrupt vector", "chunk", string(k), "error", err)
				return nil
			}
			if s.dimension == 0 {
				s.dimension = len(stored.Vector)
			}
			if len(stored.Vector) != s.dimension {
				return fmt.Errorf("%w: chunk %s has %d, index has %d",
					domain.ErrDimensionMismatch, k, len(stored.Vector), s.dimension)
			}
			s.vectors[string(k)] = vectorEntry{vector: stored.Vector, meta: stored.Meta}
			return nil
		})
	})
}

// putVectorTx persists a chunk embedding. The caller adds the returned entry
// to the cache after commit.
func (s *BoltStore) putVectorTx(tx *bbolt.Tx, chunk domain.Chunk) (vectorEntry, error) {
	if s.dimension == 0 {
		s.dimension = len(chunk.Embedding)
	}
	if len(chunk.Embedding) != s.dimension {
		return vectorEntry{}, fmt.Errorf("%w: expected %d, got %d for chunk %s",
			domain.ErrDimensionMismatch, s.dimension, len(chunk.Embedding), chunk.ID)
	}

	data, err := json.Marshal(storedVector{Vector: chunk.Embedding, Meta: chunk.Meta})
	if err != nil {
		return vectorEntry{}, err
	}
	if err := tx.Bucket(bucketVectors).Put([]byte(chunk.ID), data); err != nil {
		return vectorEntry{}, err
	}
	return vectorEntry{vector: chunk.Embedding, meta: chunk.Meta}, nil
}

// SearchByVector returns up to fetchK chunks ordered by descending cosine
// similarity to query. Only chunks matching filter are considered. Equal
// scores are ordered by chunk ID.
func (s *BoltStore) SearchByVector(ctx context.Context, query []float32, fetchK int, filter *domain.Filter) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrIndexClosed
	}
	if fetchK <= 0 || len(s.vectors) == 0 {
		return nil, nil
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", domain.ErrDimensionMismatch, len(query), s.dimension)
	}

	type scored struct {
		id    string
		score float64
	}

	scores := make([]scored, 0, len(s.vectors))
	for id, entry := range s.vectors {
		if !filter.Matches(entry.meta) {
			continue
		}
		scores = append(scores, scored{id: id, score: cosineSimilarity(query, entry.vector)})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].id < scores[j].id
	})

	if fetchK > len(scores) {
		fetchK = len(scores)
	}

	results := make([]domain.ScoredChunk, 0, fetchK)
	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, sc := range scores[:fetchK] {
			chunk, ok, err := s.readChunk(tx, sc.id)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			results = append(results, domain.ScoredChunk{Chunk: chunk, Score: sc.score})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
	}

	return results, nil
}

// VectorCount returns the number of vectors in the store.
func (s *BoltStore) VectorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
