package retriever

import (
	"strings"

	"palicanon/internal/domain"
)

type passageKey struct {
	page int
	span string
}

// Deduplicate collapses candidates that carry the same passage (page number
// and span id) from different translations. The survivor is the candidate
// whose source document sorts first case-insensitively; it takes the
// position of the group's best-ranked member. Input order is otherwise kept.
func Deduplicate(candidates []domain.Candidate) []domain.Candidate {
	if len(candidates) == 0 {
		return nil
	}

	slot := make(map[passageKey]int, len(candidates))
	out := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		key := passageKey{page: c.Chunk.Meta.PageNumber, span: c.Chunk.Meta.SpanID}
		i, ok := slot[key]
		if !ok {
			slot[key] = len(out)
			out = append(out, c)
			continue
		}
		if sourceLess(c.Chunk.Meta.SourceDocument, out[i].Chunk.Meta.SourceDocument) {
			out[i] = c
		}
	}
	return out
}

func sourceLess(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}
