package port

import "palicanon/internal/domain"

// Chunker splits one document into page-scoped chunks carrying citation
// metadata. Chunks are returned without embeddings.
type Chunker interface {
	Chunk(doc domain.Document, content string) ([]domain.Chunk, error)
}
