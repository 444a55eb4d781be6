package retriever

import (
	"math"

	"palicanon/internal/domain"
	"palicanon/internal/port"
)

// MMRSelector implements Maximal Marginal Relevance over ranked candidates.
// MMR(c) = λ * relevance(c) - (1-λ) * max_similarity(c, selected)
//
// Relevance is the biased score min-max normalized within the pool.
// Similarity is cosine between embeddings, or token Jaccard when either
// embedding is missing.
type MMRSelector struct {
	lambda float64
}

var _ port.DiversitySelector = (*MMRSelector)(nil)

// NewMMRSelector clamps lambda to [0, 1].
func NewMMRSelector(lambda float64) *MMRSelector {
	return &MMRSelector{lambda: math.Max(0, math.Min(1, lambda))}
}

// Select picks at most k candidates. Input is expected in rank order; ties
// in MMR go to the earlier candidate.
func (s *MMRSelector) Select(candidates []domain.Candidate, k int) []domain.Candidate {
	if len(candidates) == 0 || k <= 0 {
		return nil
	}

	remaining := make([]domain.Candidate, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.Chunk.ID]; ok {
			continue
		}
		seen[c.Chunk.ID] = struct{}{}
		remaining = append(remaining, c)
	}
	if k > len(remaining) {
		k = len(remaining)
	}

	lo, hi := remaining[0].BiasedScore, remaining[0].BiasedScore
	for _, c := range remaining {
		lo = math.Min(lo, c.BiasedScore)
		hi = math.Max(hi, c.BiasedScore)
	}
	relevance := func(c domain.Candidate) float64 {
		if hi == lo {
			return 1
		}
		return (c.BiasedScore - lo) / (hi - lo)
	}

	// maxSim[i] tracks the highest similarity of remaining[i] to anything selected.
	maxSim := make([]float64, len(remaining))
	selected := make([]domain.Candidate, 0, k)

	for len(selected) < k {
		bestIdx := -1
		bestMMR := math.Inf(-1)

		for i, c := range remaining {
			mmr := s.lambda*relevance(c) - (1-s.lambda)*maxSim[i]
			if mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}

		picked := remaining[bestIdx]
		selected = append(selected, picked)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		maxSim = append(maxSim[:bestIdx], maxSim[bestIdx+1:]...)

		for i, c := range remaining {
			if sim := similarity(c.Chunk, picked.Chunk); sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}

	return selected
}

func similarity(a, b domain.Chunk) float64 {
	if len(a.Embedding) > 0 && len(a.Embedding) == len(b.Embedding) {
		return cosineSimilarity(a.Embedding, b.Embedding)
	}
	return jaccardSimilarity(a.Tokens, b.Tokens)
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// jaccardSimilarity computes the Jaccard similarity between two token sets.
func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}

	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	intersection := 0
	for t := range setA {
		if _, exists := setB[t]; exists {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}
