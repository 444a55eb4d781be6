package retriever

import (
	"context"
	"log/slog"

	"palicanon/config"
	"palicanon/internal/domain"
	"palicanon/internal/port"
)

// Params are the ranking knobs of a Retriever.
type Params struct {
	TopK            int
	MinNeeded       int
	FetchMultiplier int
	MMRLambda       float64
	LexicalWeight   float64
	BasketBonus     float64
	NikayaBonus     float64
	K1              float64
	B               float64
}

func DefaultParams() Params {
	return ParamsFromConfig(config.DefaultConfig())
}

func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		TopK:            cfg.Retrieve.TopK,
		MinNeeded:       cfg.Retrieve.MinNeeded,
		FetchMultiplier: cfg.Retrieve.FetchMultiplier,
		MMRLambda:       cfg.Retrieve.MMRLambda,
		LexicalWeight:   cfg.Retrieve.LexicalWeight,
		BasketBonus:     cfg.Retrieve.BasketBonus,
		NikayaBonus:     cfg.Retrieve.NikayaBonus,
		K1:              cfg.Index.K1,
		B:               cfg.Index.B,
	}
}

// Retriever runs the two-phase search. Phase A applies the plan's
// constraints as a hard filter. When it returns fewer than MinNeeded hits,
// phase B searches the whole corpus and turns the constraints into a score
// bias instead.
type Retriever struct {
	vector   *VectorScorer
	ranker   *HybridRanker
	selector port.DiversitySelector
	params   Params
	logger   *slog.Logger
}

var _ port.Retriever = (*Retriever)(nil)

type Option func(*Retriever)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// WithSelector replaces the MMR selector.
func WithSelector(selector port.DiversitySelector) Option {
	return func(r *Retriever) {
		r.selector = selector
	}
}

func New(index port.ChunkIndex, embedder port.Embedder, tokenizer port.Tokenizer, params Params, opts ...Option) *Retriever {
	if params.TopK <= 0 {
		params.TopK = 8
	}
	if params.FetchMultiplier <= 0 {
		params.FetchMultiplier = 4
	}
	r := &Retriever{
		vector:   NewVectorScorer(index, embedder),
		ranker:   NewHybridRanker(NewLexicalScorer(index, tokenizer, params.K1, params.B), params.LexicalWeight),
		selector: NewMMRSelector(params.MMRLambda),
		params:   params,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve answers plan with at most k hits. k <= 0 uses the configured
// TopK. A malformed plan is rejected before the index is touched.
func (r *Retriever) Retrieve(ctx context.Context, plan domain.QueryPlan, k int) (domain.Result, error) {
	if err := plan.Validate(); err != nil {
		return domain.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Result{}, err
	}
	if k <= 0 {
		k = r.params.TopK
	}
	fetchK := k * r.params.FetchMultiplier

	terms := plan.Terms()
	query, err := r.vector.EmbedTerms(ctx, terms)
	if err != nil {
		return domain.Result{}, err
	}

	// Phase A
	poolA, err := r.vector.Search(ctx, query, fetchK, FilterBy(plan.Constraints))
	if err != nil {
		return domain.Result{}, err
	}
	hitsA, err := r.rankSelect(terms, poolA, domain.Constraints{}, k)
	if err != nil {
		return domain.Result{}, err
	}
	r.logger.Debug("constrained search",
		"basket", plan.Constraints.Basket,
		"nikaya", plan.Constraints.Nikaya,
		"pool", len(poolA),
		"hits", len(hitsA))

	if plan.Constraints.IsZero() || len(hitsA) >= r.params.MinNeeded {
		return domain.Result{Hits: toHits(hitsA), Phase: domain.PhaseConstrained}, nil
	}

	// Phase B
	poolB, err := r.vector.Search(ctx, query, fetchK, nil)
	if err != nil {
		return domain.Result{}, err
	}
	hitsB, err := r.rankSelect(terms, mergePools(poolA, poolB), plan.Constraints, k)
	if err != nil {
		return domain.Result{}, err
	}
	r.logger.Info("broadened search",
		"basket", plan.Constraints.Basket,
		"nikaya", plan.Constraints.Nikaya,
		"constrained_hits", len(hitsA),
		"hits", len(hitsB))

	// Broadening never loses hits.
	if len(hitsB) < len(hitsA) {
		return domain.Result{Hits: toHits(hitsA), Phase: domain.PhaseRelaxed, Broadened: true}, nil
	}
	return domain.Result{Hits: toHits(hitsB), Phase: domain.PhaseRelaxed, Broadened: true}, nil
}

// rankSelect fuses, biases, ranks, selects and deduplicates one pool.
func (r *Retriever) rankSelect(terms []string, pool []domain.ScoredChunk, bias domain.Constraints, k int) ([]domain.Candidate, error) {
	if len(pool) == 0 {
		return nil, nil
	}
	candidates, err := r.ranker.Fuse(terms, pool)
	if err != nil {
		return nil, err
	}
	BiasBy(candidates, bias, r.params.BasketBonus, r.params.NikayaBonus)
	Rank(candidates)
	return Deduplicate(r.selector.Select(candidates, k)), nil
}

func toHits(candidates []domain.Candidate) []domain.Hit {
	hits := make([]domain.Hit, len(candidates))
	for i, c := range candidates {
		meta := c.Chunk.Meta
		hits[i] = domain.Hit{
			Text:           c.Chunk.Text,
			SourceDocument: meta.SourceDocument,
			PageNumber:     meta.PageNumber,
			SpanID:         meta.SpanID,
			RelPath:        meta.RelPath,
			Basket:         meta.Basket,
			Nikaya:         meta.Nikaya,
			Rank:           i + 1,
			Score:          c.BiasedScore,
		}
	}
	return hits
}
