package port

import "palicanon/internal/domain"

// DiversitySelector picks at most k candidates trading relevance against redundancy.
type DiversitySelector interface {
	Select(candidates []domain.Candidate, k int) []domain.Candidate
}
