package port

import (
	"context"

	"palicanon/internal/domain"
)

// ChunkIndex is the read side of the index consumed by retrieval.
// Implementations must not be mutated by callers during a search.
type ChunkIndex interface {
	// SearchByVector returns up to fetchK chunks ordered by descending cosine
	// similarity. A non-nil filter is a hard constraint.
	SearchByVector(ctx context.Context, query []float32, fetchK int, filter *domain.Filter) ([]domain.ScoredChunk, error)

	// DocFreq returns the number of chunks containing term.
	DocFreq(term string) (int, error)

	GetStats() (domain.Stats, error)
}

// IndexStore is the write side used by ingestion.
type IndexStore interface {
	ChunkIndex

	GetDoc(id string) (domain.Document, error)

	ListDocs() ([]domain.Document, error)

	GetChunk(id string) (domain.Chunk, error)

	GetChunksByDoc(docID string) ([]domain.Chunk, error)

	DeleteDocument(docID string) error

	BatchIndex(files []IndexedFile) error

	UpdateStats(stats domain.Stats) error

	Close() error
}

type IndexedFile struct {
	Doc      domain.Document
	Chunks   []domain.Chunk
	Postings map[string]map[string]int
}
