package retriever

import (
	"sort"
	"strings"

	"palicanon/internal/domain"
)

// HybridRanker fuses vector similarity with a lightly weighted BM25 score.
//
//	fused = vector + lexicalWeight * bm25
type HybridRanker struct {
	lexical       *LexicalScorer
	lexicalWeight float64
}

func NewHybridRanker(lexical *LexicalScorer, lexicalWeight float64) *HybridRanker {
	if lexicalWeight < 0 {
		lexicalWeight = 0
	}
	return &HybridRanker{
		lexical:       lexical,
		lexicalWeight: lexicalWeight,
	}
}

// Fuse scores the pool. BiasedScore starts equal to FusedScore; apply
// BiasBy afterwards to boost matching candidates.
func (r *HybridRanker) Fuse(terms []string, pool []domain.ScoredChunk) ([]domain.Candidate, error) {
	var lexical []float64
	if r.lexical != nil && r.lexicalWeight > 0 {
		var err error
		lexical, err = r.lexical.ScorePool(terms, pool)
		if err != nil {
			return nil, err
		}
	}

	candidates := make([]domain.Candidate, len(pool))
	for i, sc := range pool {
		c := domain.Candidate{
			Chunk:       sc.Chunk,
			VectorScore: sc.Score,
		}
		if lexical != nil {
			c.LexicalScore = lexical[i]
		}
		c.FusedScore = c.VectorScore + r.lexicalWeight*c.LexicalScore
		c.BiasedScore = c.FusedScore
		candidates[i] = c
	}
	return candidates, nil
}

// FilterBy converts plan constraints into a hard index filter. Zero
// constraints yield a nil filter.
func FilterBy(c domain.Constraints) *domain.Filter {
	if c.IsZero() {
		return nil
	}
	return &domain.Filter{Basket: c.Basket, Nikaya: c.Nikaya}
}

// BiasBy adds basketBonus to candidates whose basket matches a non-empty
// basket constraint and nikayaBonus likewise for the nikaya. Nothing is
// removed.
func BiasBy(candidates []domain.Candidate, c domain.Constraints, basketBonus, nikayaBonus float64) {
	for i := range candidates {
		meta := candidates[i].Chunk.Meta
		bias := 0.0
		if c.Basket != domain.BasketNone && meta.Basket == c.Basket {
			bias += basketBonus
		}
		if c.Nikaya != domain.NikayaNone && meta.Nikaya == c.Nikaya {
			bias += nikayaBonus
		}
		candidates[i].BiasedScore = candidates[i].FusedScore + bias
	}
}

// Rank sorts candidates by biased score, breaking ties by source document,
// page, span and chunk id so equal inputs always give equal output.
func Rank(candidates []domain.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return rankLess(candidates[i], candidates[j])
	})
}

func rankLess(a, b domain.Candidate) bool {
	if a.BiasedScore != b.BiasedScore {
		return a.BiasedScore > b.BiasedScore
	}
	am, bm := a.Chunk.Meta, b.Chunk.Meta
	if c := strings.Compare(am.SourceDocument, bm.SourceDocument); c != 0 {
		return c < 0
	}
	if am.PageNumber != bm.PageNumber {
		return am.PageNumber < bm.PageNumber
	}
	if am.SpanID != bm.SpanID {
		return am.SpanID < bm.SpanID
	}
	return a.Chunk.ID < b.Chunk.ID
}

// mergePools unions two pools by chunk id, keeping the first occurrence.
func mergePools(a, b []domain.ScoredChunk) []domain.ScoredChunk {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]domain.ScoredChunk, 0, len(a)+len(b))
	for _, pool := range [][]domain.ScoredChunk{a, b} {
		for _, sc := range pool {
			if _, ok := seen[sc.Chunk.ID]; ok {
				continue
			}
			seen[sc.Chunk.ID] = struct{}{}
			merged = append(merged, sc)
		}
	}
	return merged
}
