package usecase

import (
	"fmt"
	"strings"

	"palicanon/internal/domain"
	"palicanon/internal/port"
)

// NoPassagesMessage is returned in place of a context when too few passages
// were retrieved to support an answer.
const NoPassagesMessage = "I couldn't find passages for that in your index. Try reindexing or broadening the query."

// PackUseCase turns ranked hits into numbered, citable context blocks.
type PackUseCase struct {
	tokenizer port.Tokenizer
	minHits   int
}

var _ port.Packer = (*PackUseCase)(nil)

// NewPackUseCase creates a packer that refuses when fewer than minHits hits
// are given.
func NewPackUseCase(tokenizer port.Tokenizer, minHits int) *PackUseCase {
	return &PackUseCase{
		tokenizer: tokenizer,
		minHits:   minHits,
	}
}

// Pack keeps hits in rank order while they fit the token budget; a hit that
// would overflow is skipped and smaller later hits may still fit. A budget
// of zero or less means no limit.
func (u *PackUseCase) Pack(query string, hits []domain.Hit, budget int) (domain.PackedContext, error) {
	packed := domain.PackedContext{
		Query:        query,
		BudgetTokens: budget,
		Snippets:     []domain.Snippet{},
		Sources:      []string{},
	}

	if len(hits) == 0 || len(hits) < u.minHits {
		packed.Refused = true
		packed.Message = NoPassagesMessage
		return packed, nil
	}

	seen := make(map[string]struct{})
	for _, h := range hits {
		text := strings.Join(strings.Fields(h.Text), " ")
		tokens := u.tokenizer.CountTokens(text)
		if tokens == 0 {
			tokens = 1
		}
		if budget > 0 && packed.UsedTokens+tokens > budget {
			continue
		}

		packed.Snippets = append(packed.Snippets, domain.Snippet{
			Ref:    fmt.Sprintf("[%d] %s p.%d", len(packed.Snippets)+1, h.SourceDocument, h.PageNumber),
			Source: h.SourceDocument,
			Page:   h.PageNumber,
			SpanID: h.SpanID,
			Score:  h.Score,
			Text:   text,
		})
		packed.UsedTokens += tokens

		source := fmt.Sprintf("%s — p.%d", h.SourceDocument, h.PageNumber)
		if _, ok := seen[source]; !ok {
			seen[source] = struct{}{}
			packed.Sources = append(packed.Sources, source)
		}
	}

	if len(packed.Snippets) == 0 {
		packed.Refused = true
		packed.Message = fmt.Sprintf("no passage fits the %d token budget", budget)
	}
	return packed, nil
}

// Render formats a packed context as plain text: one block per snippet
// followed by the sources list.
func Render(packed domain.PackedContext) string {
	if packed.Refused {
		return packed.Message
	}

	var b strings.Builder
	for i, s := range packed.Snippets {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.Ref)
		b.WriteByte('\n')
		b.WriteString(s.Text)
	}
	b.WriteString("\n\nSources:")
	for _, src := range packed.Sources {
		b.WriteString("\n- ")
		b.WriteString(src)
	}
	b.WriteByte('\n')
	return b.String()
}
