package retriever

import (
	"fmt"
	"math"

	"palicanon/internal/domain"
	"palicanon/internal/port"
)

// LexicalScorer computes Okapi BM25 for chunks already pulled from the vector
// pool. Document frequencies and corpus stats come from the index.
type LexicalScorer struct {
	index     port.ChunkIndex
	tokenizer port.Tokenizer
	k1        float64
	b         float64
}

func NewLexicalScorer(index port.ChunkIndex, tokenizer port.Tokenizer, k1, b float64) *LexicalScorer {
	return &LexicalScorer{
		index:     index,
		tokenizer: tokenizer,
		k1:        k1,
		b:         b,
	}
}

// QueryTokens tokenizes every term and returns the distinct tokens in order.
func (s *LexicalScorer) QueryTokens(terms []string) []string {
	seen := make(map[string]struct{})
	var tokens []string
	for _, term := range terms {
		for _, tok := range s.tokenizer.Tokenize(term) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// ScorePool returns one BM25 score per pool entry, in pool order.
func (s *LexicalScorer) ScorePool(terms []string, pool []domain.ScoredChunk) ([]float64, error) {
	scores := make([]float64, len(pool))
	if len(pool) == 0 {
		return scores, nil
	}

	queryTokens := s.QueryTokens(terms)
	if len(queryTokens) == 0 {
		return scores, nil
	}

	stats, err := s.index.GetStats()
	if err != nil {
		return nil, fmt.Errorf("%w: stats: %w", domain.ErrIndexUnavailable, err)
	}
	if stats.TotalChunks == 0 {
		return scores, nil
	}

	idf := make(map[string]float64, len(queryTokens))
	N := float64(stats.TotalChunks)
	for _, term := range queryTokens {
		df, err := s.index.DocFreq(term)
		if err != nil {
			return nil, fmt.Errorf("%w: doc freq %q: %w", domain.ErrIndexUnavailable, term, err)
		}
		n := float64(df)
		idf[term] = math.Log((N-n+0.5)/(n+0.5) + 1)
	}

	for i, sc := range pool {
		scores[i] = ComputeBM25Score(queryTokens, sc.Chunk, stats, idf, s.k1, s.b)
	}
	return scores, nil
}

// ComputeBM25Score scores one chunk. Terms missing from idf get the idf of a
// term that occurs in exactly one chunk.
func ComputeBM25Score(queryTokens []string, chunk domain.Chunk, stats domain.Stats, idf map[string]float64, k1, b float64) float64 {
	chunkTF := make(map[string]int)
	for _, token := range chunk.Tokens {
		chunkTF[token]++
	}

	score := 0.0
	dl := float64(len(chunk.Tokens))
	avgDl := stats.AvgChunkLen
	if avgDl <= 0 {
		avgDl = 1
	}
	N := float64(stats.TotalChunks)

	for _, term := range queryTokens {
		tf, exists := chunkTF[term]
		if !exists {
			continue
		}

		termIDF, ok := idf[term]
		if !ok {
			termIDF = math.Log((N-1+0.5)/(1+0.5) + 1)
		}

		tfFloat := float64(tf)
		score += termIDF * (tfFloat * (k1 + 1)) / (tfFloat + k1*(1-b+b*dl/avgDl))
	}

	return score
}
