package domain

import (
	"strings"
	"time"
)

// Basket is the top-level division of the canon (piṭaka).
type Basket string

const (
	BasketNone       Basket = ""
	BasketSutta      Basket = "sutta"
	BasketVinaya     Basket = "vinaya"
	BasketAbhidhamma Basket = "abhidhamma"
)

// Nikaya is the collection within the sutta basket.
type Nikaya string

const (
	NikayaNone Nikaya = ""
	NikayaDN   Nikaya = "DN"
	NikayaMN   Nikaya = "MN"
	NikayaSN   Nikaya = "SN"
	NikayaAN   Nikaya = "AN"
	NikayaKN   Nikaya = "KN"
)

// ParseBasket accepts the basket name in any case. The empty string maps to BasketNone.
func ParseBasket(s string) (Basket, error) {
	switch b := Basket(strings.ToLower(strings.TrimSpace(s))); b {
	case BasketNone, BasketSutta, BasketVinaya, BasketAbhidhamma:
		return b, nil
	}
	return BasketNone, &PlanError{Field: "basket", Value: s}
}

// ParseNikaya accepts the nikaya abbreviation in any case.
func ParseNikaya(s string) (Nikaya, error) {
	switch n := Nikaya(strings.ToUpper(strings.TrimSpace(s))); n {
	case NikayaNone, NikayaDN, NikayaMN, NikayaSN, NikayaAN, NikayaKN:
		return n, nil
	}
	return NikayaNone, &PlanError{Field: "nikaya", Value: s}
}

type Document struct {
	ID      string
	Path    string
	RelPath string
	ModTime time.Time
}

type ChunkMetadata struct {
	SourceDocument string   `json:"source_document"`
	PageNumber     int      `json:"page_number"`
	Basket         Basket   `json:"basket"`
	Nikaya         Nikaya   `json:"nikaya,omitempty"`
	SpanID         string   `json:"span_id"`
	RelPath        string   `json:"rel_path"`
	Citations      []string `json:"citations,omitempty"`
}

type Chunk struct {
	ID        string
	DocID     string
	Text      string
	Tokens    []string
	Embedding []float32
	Meta      ChunkMetadata
}

type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// Constraints are the basket/nikaya hints carried by a plan.
type Constraints struct {
	Basket Basket `json:"basket,omitempty"`
	Nikaya Nikaya `json:"nikaya,omitempty"`
}

func (c Constraints) IsZero() bool {
	return c.Basket == BasketNone && c.Nikaya == NikayaNone
}

// Filter is a hard equality constraint applied by the chunk index.
// A nil *Filter matches everything.
type Filter struct {
	Basket Basket
	Nikaya Nikaya
}

func (f *Filter) Matches(meta ChunkMetadata) bool {
	if f == nil {
		return true
	}
	if f.Basket != BasketNone && meta.Basket != f.Basket {
		return false
	}
	if f.Nikaya != NikayaNone && meta.Nikaya != f.Nikaya {
		return false
	}
	return true
}

// QueryPlan is the planner's output. It is not modified during retrieval.
type QueryPlan struct {
	Query            string      `json:"query,omitempty"`
	SearchTerms      []string    `json:"search_terms"`
	Constraints      Constraints `json:"constraints"`
	CanonicalTargets []string    `json:"canonical_targets,omitempty"`
}

// Validate rejects plans that cannot be searched. Constraints must already
// be in canonical form (see ParseBasket and ParseNikaya) because filters and
// bias compare them verbatim.
func (p QueryPlan) Validate() error {
	if len(nonBlank(p.SearchTerms)) == 0 && len(nonBlank(p.CanonicalTargets)) == 0 {
		return &PlanError{Field: "search_terms", Reason: "no search terms or canonical targets"}
	}
	b, err := ParseBasket(string(p.Constraints.Basket))
	if err != nil {
		return err
	}
	if b != p.Constraints.Basket {
		return &PlanError{Field: "basket", Value: string(p.Constraints.Basket), Reason: "not canonical, want " + string(b)}
	}
	n, err := ParseNikaya(string(p.Constraints.Nikaya))
	if err != nil {
		return err
	}
	if n != p.Constraints.Nikaya {
		return &PlanError{Field: "nikaya", Value: string(p.Constraints.Nikaya), Reason: "not canonical, want " + string(n)}
	}
	return nil
}

// Terms returns the terms used for embedding and lexical scoring: the search
// terms followed by any canonical target not already present.
func (p QueryPlan) Terms() []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, t := range append(nonBlank(p.SearchTerms), nonBlank(p.CanonicalTargets)...) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type Candidate struct {
	Chunk        Chunk
	VectorScore  float64
	LexicalScore float64
	FusedScore   float64
	BiasedScore  float64
}

type Hit struct {
	Text           string  `json:"text"`
	SourceDocument string  `json:"source_document"`
	PageNumber     int     `json:"page_number"`
	SpanID         string  `json:"span_id"`
	RelPath        string  `json:"rel_path"`
	Basket         Basket  `json:"basket"`
	Nikaya         Nikaya  `json:"nikaya,omitempty"`
	Rank           int     `json:"rank"`
	Score          float64 `json:"score"`
}

// Phase is a state of the broadening controller.
type Phase int

const (
	PhaseConstrained Phase = iota
	PhaseRelaxed
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseConstrained:
		return "constrained"
	case PhaseRelaxed:
		return "relaxed"
	case PhaseDone:
		return "done"
	}
	return "unknown"
}

// Result is what a retrieval call hands back to its caller.
type Result struct {
	Hits []Hit `json:"hits"`
	// Phase is the last search phase that ran before DONE.
	Phase     Phase `json:"-"`
	Broadened bool  `json:"broadened"`
}

// Empty reports that no relevant passage exists anywhere in the corpus.
func (r Result) Empty() bool {
	return len(r.Hits) == 0
}

type Posting struct {
	ChunkID string
	TF      int
}

type Stats struct {
	TotalDocs   int
	TotalChunks int
	AvgChunkLen float64
}

type Snippet struct {
	Ref    string  `json:"ref"`
	Source string  `json:"source"`
	Page   int     `json:"page"`
	SpanID string  `json:"span_id"`
	Score  float64 `json:"score"`
	Text   string  `json:"text"`
}

type PackedContext struct {
	Query        string    `json:"query"`
	BudgetTokens int       `json:"budget_tokens"`
	UsedTokens   int       `json:"used_tokens"`
	Snippets     []Snippet `json:"snippets"`
	Sources      []string  `json:"sources"`
	Refused      bool      `json:"refused,omitempty"`
	Message      string    `json:"message,omitempty"`
}
