package port

import "palicanon/internal/domain"

// Packer turns ranked hits into a citation-bearing context block.
type Packer interface {
	Pack(query string, hits []domain.Hit, budget int) (domain.PackedContext, error)
}
