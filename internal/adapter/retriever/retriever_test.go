package retriever

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palicanon/internal/adapter/analyzer"
	"palicanon/internal/adapter/memstore"
	"palicanon/internal/domain"
	"palicanon/internal/port"
)

type fixedEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (e *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

func (e *fixedEmbedder) Dimension() int    { return len(e.vec) }
func (e *fixedEmbedder) ModelName() string { return "fixed" }

// recordingIndex wraps a ChunkIndex and records every vector search.
type recordingIndex struct {
	port.ChunkIndex
	err     error
	fetchKs []int
	filters []*domain.Filter
}

func (r *recordingIndex) SearchByVector(ctx context.Context, query []float32, fetchK int, filter *domain.Filter) ([]domain.ScoredChunk, error) {
	r.fetchKs = append(r.fetchKs, fetchK)
	r.filters = append(r.filters, filter)
	if r.err != nil {
		return nil, r.err
	}
	return r.ChunkIndex.SearchByVector(ctx, query, fetchK, filter)
}

var testTokenizer = analyzer.NewTokenizer(true)

func mkChunk(source string, page int, basket domain.Basket, nikaya domain.Nikaya, text string, emb ...float32) domain.Chunk {
	span := fmt.Sprintf("p%d_c1", page)
	return domain.Chunk{
		ID:        fmt.Sprintf("%s#%s", source, span),
		DocID:     source,
		Text:      text,
		Tokens:    testTokenizer.Tokenize(text),
		Embedding: emb,
		Meta: domain.ChunkMetadata{
			SourceDocument: source,
			PageNumber:     page,
			Basket:         basket,
			Nikaya:         nikaya,
			SpanID:         span,
			RelPath:        source,
		},
	}
}

func newTestRetriever(idx port.ChunkIndex, emb port.Embedder, mutate func(*Params)) *Retriever {
	params := DefaultParams()
	if mutate != nil {
		mutate(&params)
	}
	return New(idx, emb, testTokenizer, params)
}

// fireSermonIndex holds five SN 35.28 chunks and three vinaya chunks, all at
// the same similarity to the query.
func fireSermonIndex() *memstore.MemoryStore {
	st := memstore.NewMemoryStore()
	for page := 1; page <= 5; page++ {
		st.AddChunks(mkChunk("sn_bodhi.txt", page, domain.BasketSutta, domain.NikayaSN,
			"The all is burning. And what is the all that is burning?", 1, 0))
	}
	for page := 10; page <= 12; page++ {
		st.AddChunks(mkChunk("vinaya_horner.txt", page, domain.BasketVinaya, domain.NikayaNone,
			"A bhikkhu who accepts a robe from an unrelated nun commits an offence.", 1, 0))
	}
	return st
}

func fireSermonPlan() domain.QueryPlan {
	return domain.QueryPlan{
		Query:            "What does SN 35.28 say about burning?",
		SearchTerms:      []string{"What does SN 35.28 say about burning?", "SN 35.28"},
		Constraints:      domain.Constraints{Basket: domain.BasketSutta, Nikaya: domain.NikayaSN},
		CanonicalTargets: []string{"SN 35.28"},
	}
}

func TestRetrieve_ConstrainedPhaseSuffices(t *testing.T) {
	idx := &recordingIndex{ChunkIndex: fireSermonIndex()}
	r := newTestRetriever(idx, &fixedEmbedder{vec: []float32{1, 0}}, nil)

	res, err := r.Retrieve(context.Background(), fireSermonPlan(), 8)
	require.NoError(t, err)

	assert.False(t, res.Broadened)
	assert.Equal(t, domain.PhaseConstrained, res.Phase)
	require.Len(t, res.Hits, 5)
	for i, h := range res.Hits {
		assert.Equal(t, domain.NikayaSN, h.Nikaya)
		assert.Equal(t, i+1, h.Rank)
	}
	require.Len(t, idx.filters, 1)
	assert.Equal(t, &domain.Filter{Basket: domain.BasketSutta, Nikaya: domain.NikayaSN}, idx.filters[0])
	assert.Equal(t, []int{32}, idx.fetchKs)
}

func TestRetrieve_BiasRanksMatchingChunksFirst(t *testing.T) {
	r := newTestRetriever(fireSermonIndex(), &fixedEmbedder{vec: []float32{1, 0}}, func(p *Params) {
		p.MinNeeded = 6
	})

	res, err := r.Retrieve(context.Background(), fireSermonPlan(), 8)
	require.NoError(t, err)

	assert.True(t, res.Broadened)
	assert.Equal(t, domain.PhaseRelaxed, res.Phase)
	require.Len(t, res.Hits, 8)
	for _, h := range res.Hits[:5] {
		assert.Equal(t, domain.NikayaSN, h.Nikaya, "sutta hits outrank vinaya at equal similarity")
	}
	for _, h := range res.Hits[5:] {
		assert.Equal(t, domain.BasketVinaya, h.Basket)
	}
	assert.Greater(t, res.Hits[4].Score, res.Hits[5].Score)
}

func TestRetrieve_BroadensWhenConstrainedPhaseIsThin(t *testing.T) {
	st := memstore.NewMemoryStore()
	st.AddChunks(
		mkChunk("vinaya.txt", 1, domain.BasketVinaya, domain.NikayaNone, "Rules about robes for monks.", 1, 0),
		mkChunk("vinaya.txt", 2, domain.BasketVinaya, domain.NikayaNone, "Robes must be dyed before use.", 1, 0),
	)
	for page := 3; page <= 8; page++ {
		st.AddChunks(mkChunk("mn_bodhi.txt", page, domain.BasketSutta, domain.NikayaMN,
			"Robes, almsfood, lodging and medicine are the requisites.", 1, 0))
	}
	idx := &recordingIndex{ChunkIndex: st}
	r := newTestRetriever(idx, &fixedEmbedder{vec: []float32{1, 0}}, nil)

	plan := domain.QueryPlan{
		SearchTerms: []string{"rules about robes"},
		Constraints: domain.Constraints{Basket: domain.BasketVinaya},
	}
	res, err := r.Retrieve(context.Background(), plan, 8)
	require.NoError(t, err)

	assert.True(t, res.Broadened)
	assert.Equal(t, domain.PhaseRelaxed, res.Phase)
	require.Len(t, idx.filters, 2)
	assert.NotNil(t, idx.filters[0])
	assert.Nil(t, idx.filters[1], "second phase searches the whole corpus")

	require.Greater(t, len(res.Hits), 2, "broadening never loses hits")
	assert.Equal(t, domain.BasketVinaya, res.Hits[0].Basket)
	assert.Equal(t, domain.BasketVinaya, res.Hits[1].Basket)
	var sutta int
	for _, h := range res.Hits {
		if h.Basket == domain.BasketSutta {
			sutta++
		}
	}
	assert.Positive(t, sutta, "broadened results mix in other baskets")
}

func TestRetrieve_NoConstraintsSkipsBroadening(t *testing.T) {
	st := memstore.NewMemoryStore()
	st.AddChunks(mkChunk("dhp.txt", 1, domain.BasketSutta, domain.NikayaKN, "Mind precedes all things.", 1, 0))
	idx := &recordingIndex{ChunkIndex: st}
	r := newTestRetriever(idx, &fixedEmbedder{vec: []float32{1, 0}}, nil)

	res, err := r.Retrieve(context.Background(), domain.QueryPlan{SearchTerms: []string{"mind"}}, 8)
	require.NoError(t, err)

	assert.Len(t, res.Hits, 1)
	assert.False(t, res.Broadened)
	assert.Len(t, idx.fetchKs, 1)
}

func TestRetrieve_DeduplicatesTranslations(t *testing.T) {
	st := memstore.NewMemoryStore()
	st.AddChunks(
		mkChunk("nyanamoli.pdf", 12, domain.BasketSutta, domain.NikayaMN, "Bhikkhus, I shall teach you the root of all things.", 1, 0),
		mkChunk("bodhi.pdf", 12, domain.BasketSutta, domain.NikayaMN, "Bhikkhus, I shall teach you the root of all things.", 0.9, 0.1),
		mkChunk("bodhi.pdf", 13, domain.BasketSutta, domain.NikayaMN, "Earth as earth.", 0, 1),
	)
	r := newTestRetriever(st, &fixedEmbedder{vec: []float32{1, 0}}, nil)

	res, err := r.Retrieve(context.Background(), domain.QueryPlan{SearchTerms: []string{"root of all things"}}, 8)
	require.NoError(t, err)

	require.Len(t, res.Hits, 2)
	assert.Equal(t, "bodhi.pdf", res.Hits[0].SourceDocument)
	assert.Equal(t, 12, res.Hits[0].PageNumber)
	for _, h := range res.Hits {
		assert.NotEqual(t, "nyanamoli.pdf", h.SourceDocument)
	}
}

func TestRetrieve_MMRReducesRedundancy(t *testing.T) {
	st := memstore.NewMemoryStore()
	// 24 near-duplicates of one passage.
	for i := 0; i < 24; i++ {
		st.AddChunks(mkChunk("sn_bodhi.txt", i+1, domain.BasketSutta, domain.NikayaSN,
			"The eye is burning.", 1, 0.2, 0.01*float32(i), 0))
	}
	// 8 relevant passages pointing elsewhere.
	for j := 0; j < 8; j++ {
		st.AddChunks(mkChunk("sn_walshe.txt", 100+j, domain.BasketSutta, domain.NikayaSN,
			"The eye is burning.", 0.2, 1, 0, 0.1*float32(j+1)))
	}
	// 8 unrelated passages that never reach the pool.
	for j := 0; j < 8; j++ {
		st.AddChunks(mkChunk("vinaya.txt", 200+j, domain.BasketVinaya, domain.NikayaNone,
			"The eye is burning.", 0, 0, 1, 0))
	}
	idx := &recordingIndex{ChunkIndex: st}
	emb := &fixedEmbedder{vec: []float32{1, 1, 0, 0}}
	plan := domain.QueryPlan{SearchTerms: []string{"the eye is burning"}}

	diverse, err := newTestRetriever(idx, emb, nil).Retrieve(context.Background(), plan, 8)
	require.NoError(t, err)
	assert.Equal(t, []int{32}, idx.fetchKs)

	plain, err := newTestRetriever(st, emb, func(p *Params) { p.MMRLambda = 1 }).Retrieve(context.Background(), plan, 8)
	require.NoError(t, err)

	require.Len(t, diverse.Hits, 8)
	require.Len(t, plain.Hits, 8)

	for _, h := range plain.Hits {
		assert.Equal(t, "sn_bodhi.txt", h.SourceDocument, "pure relevance takes the near-duplicates")
	}
	var elsewhere int
	for _, h := range diverse.Hits {
		if h.SourceDocument == "sn_walshe.txt" {
			elsewhere++
		}
	}
	assert.Positive(t, elsewhere)

	vectors := func(hits []domain.Hit) [][]float32 {
		var out [][]float32
		for _, h := range hits {
			c, err := st.GetChunk(fmt.Sprintf("%s#%s", h.SourceDocument, h.SpanID))
			require.NoError(t, err)
			out = append(out, c.Embedding)
		}
		return out
	}
	meanSim := func(vs [][]float32) float64 {
		var sum float64
		var n int
		for i := range vs {
			for j := i + 1; j < len(vs); j++ {
				sum += cosineSimilarity(vs[i], vs[j])
				n++
			}
		}
		return sum / float64(n)
	}
	assert.Less(t, meanSim(vectors(diverse.Hits)), meanSim(vectors(plain.Hits)))
}

func TestRetrieve_Deterministic(t *testing.T) {
	st := fireSermonIndex()
	r := newTestRetriever(st, &fixedEmbedder{vec: []float32{1, 0}}, func(p *Params) { p.MinNeeded = 6 })

	first, err := r.Retrieve(context.Background(), fireSermonPlan(), 8)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), fireSermonPlan(), 8)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetrieve_BoundedByK(t *testing.T) {
	r := newTestRetriever(fireSermonIndex(), &fixedEmbedder{vec: []float32{1, 0}}, func(p *Params) { p.MinNeeded = 100 })

	for _, k := range []int{1, 3, 8, 20} {
		res, err := r.Retrieve(context.Background(), fireSermonPlan(), k)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res.Hits), k)
	}
}

func TestRetrieve_DefaultK(t *testing.T) {
	idx := &recordingIndex{ChunkIndex: fireSermonIndex()}
	r := newTestRetriever(idx, &fixedEmbedder{vec: []float32{1, 0}}, func(p *Params) { p.TopK = 3 })

	res, err := r.Retrieve(context.Background(), domain.QueryPlan{SearchTerms: []string{"burning"}}, 0)
	require.NoError(t, err)
	assert.Len(t, res.Hits, 3)
	assert.Equal(t, []int{12}, idx.fetchKs)
}

func TestRetrieve_EmptyCorpus(t *testing.T) {
	r := newTestRetriever(memstore.NewMemoryStore(), &fixedEmbedder{vec: []float32{1, 0}}, nil)

	res, err := r.Retrieve(context.Background(), fireSermonPlan(), 8)
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.True(t, res.Broadened)
}

func TestRetrieve_MalformedPlanNeverTouchesIndex(t *testing.T) {
	plans := []domain.QueryPlan{
		{},
		{SearchTerms: []string{"  "}},
		{SearchTerms: []string{"robes"}, Constraints: domain.Constraints{Basket: "sutra"}},
		{SearchTerms: []string{"robes"}, Constraints: domain.Constraints{Nikaya: "XN"}},
		{SearchTerms: []string{"robes"}, Constraints: domain.Constraints{Basket: "Sutta"}},
		{SearchTerms: []string{"robes"}, Constraints: domain.Constraints{Nikaya: "sn"}},
	}
	for _, plan := range plans {
		idx := &recordingIndex{ChunkIndex: fireSermonIndex()}
		emb := &fixedEmbedder{vec: []float32{1, 0}}
		_, err := newTestRetriever(idx, emb, nil).Retrieve(context.Background(), plan, 8)

		assert.ErrorIs(t, err, domain.ErrMalformedPlan)
		assert.Empty(t, idx.fetchKs)
		assert.Zero(t, emb.calls)
	}
}

// reverseSelector returns the k lowest-ranked candidates, worst first.
type reverseSelector struct {
	calls int
	k     int
	seen  []domain.Candidate
}

func (s *reverseSelector) Select(candidates []domain.Candidate, k int) []domain.Candidate {
	s.calls++
	s.k = k
	s.seen = append([]domain.Candidate(nil), candidates...)
	out := make([]domain.Candidate, 0, k)
	for i := len(candidates) - 1; i >= 0 && len(out) < k; i-- {
		out = append(out, candidates[i])
	}
	return out
}

func TestRetrieve_WithSelectorReplacesMMR(t *testing.T) {
	sel := &reverseSelector{}
	r := New(fireSermonIndex(), &fixedEmbedder{vec: []float32{1, 0}}, testTokenizer, DefaultParams(), WithSelector(sel))

	res, err := r.Retrieve(context.Background(), domain.QueryPlan{SearchTerms: []string{"burning"}}, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, sel.calls)
	assert.Equal(t, 3, sel.k)
	require.Len(t, sel.seen, 8)
	require.Len(t, res.Hits, 3)
	for i, h := range res.Hits {
		want := sel.seen[len(sel.seen)-1-i].Chunk.Meta
		assert.Equal(t, want.SourceDocument, h.SourceDocument)
		assert.Equal(t, want.PageNumber, h.PageNumber)
		assert.Equal(t, i+1, h.Rank)
	}
}

func TestRetrieve_IndexUnavailable(t *testing.T) {
	idx := &recordingIndex{ChunkIndex: fireSermonIndex(), err: errors.New("disk gone")}
	_, err := newTestRetriever(idx, &fixedEmbedder{vec: []float32{1, 0}}, nil).
		Retrieve(context.Background(), fireSermonPlan(), 8)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)

	st := fireSermonIndex()
	require.NoError(t, st.Close())
	_, err = newTestRetriever(st, &fixedEmbedder{vec: []float32{1, 0}}, nil).
		Retrieve(context.Background(), fireSermonPlan(), 8)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.ErrorIs(t, err, domain.ErrIndexClosed)
}

func TestRetrieve_EmbedderFailure(t *testing.T) {
	emb := &fixedEmbedder{err: errors.New("connection refused")}
	_, err := newTestRetriever(fireSermonIndex(), emb, nil).Retrieve(context.Background(), fireSermonPlan(), 8)
	assert.ErrorIs(t, err, domain.ErrEmbedderUnavailable)
}

func TestRetrieve_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestRetriever(fireSermonIndex(), &fixedEmbedder{vec: []float32{1, 0}}, nil).Retrieve(ctx, fireSermonPlan(), 8)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFilterBy(t *testing.T) {
	assert.Nil(t, FilterBy(domain.Constraints{}))
	assert.Equal(t, &domain.Filter{Basket: domain.BasketVinaya}, FilterBy(domain.Constraints{Basket: domain.BasketVinaya}))
}

func TestBiasBy(t *testing.T) {
	candidates := []domain.Candidate{
		{Chunk: domain.Chunk{ID: "sn", Meta: domain.ChunkMetadata{Basket: domain.BasketSutta, Nikaya: domain.NikayaSN}}, FusedScore: 0.5},
		{Chunk: domain.Chunk{ID: "mn", Meta: domain.ChunkMetadata{Basket: domain.BasketSutta, Nikaya: domain.NikayaMN}}, FusedScore: 0.5},
		{Chunk: domain.Chunk{ID: "vin", Meta: domain.ChunkMetadata{Basket: domain.BasketVinaya}}, FusedScore: 0.5},
	}

	BiasBy(candidates, domain.Constraints{Basket: domain.BasketSutta, Nikaya: domain.NikayaSN}, 0.1, 0.1)
	assert.InDelta(t, 0.7, candidates[0].BiasedScore, 1e-9)
	assert.InDelta(t, 0.6, candidates[1].BiasedScore, 1e-9)
	assert.InDelta(t, 0.5, candidates[2].BiasedScore, 1e-9)

	BiasBy(candidates, domain.Constraints{}, 0.1, 0.1)
	for _, c := range candidates {
		assert.InDelta(t, c.FusedScore, c.BiasedScore, 1e-9)
	}
}

func TestRank_TieBreak(t *testing.T) {
	mk := func(id, source string, page int, span string) domain.Candidate {
		return domain.Candidate{
			Chunk:       domain.Chunk{ID: id, Meta: domain.ChunkMetadata{SourceDocument: source, PageNumber: page, SpanID: span}},
			BiasedScore: 0.5,
		}
	}
	candidates := []domain.Candidate{
		mk("e", "b.pdf", 1, "p1_c1"),
		mk("d", "a.pdf", 2, "p2_c1"),
		mk("c", "a.pdf", 1, "p1_c2"),
		mk("b", "a.pdf", 1, "p1_c1"),
		mk("a", "a.pdf", 1, "p1_c1"),
		{Chunk: domain.Chunk{ID: "z", Meta: domain.ChunkMetadata{SourceDocument: "z.pdf"}}, BiasedScore: 0.9},
	}
	Rank(candidates)
	assert.Equal(t, []string{"z", "a", "b", "c", "d", "e"}, ids(candidates))
}

func TestDeduplicate(t *testing.T) {
	mk := func(source string, page int, span string, score float64) domain.Candidate {
		return domain.Candidate{
			Chunk:       domain.Chunk{ID: source + span, Meta: domain.ChunkMetadata{SourceDocument: source, PageNumber: page, SpanID: span}},
			BiasedScore: score,
		}
	}
	in := []domain.Candidate{
		mk("Nyanamoli.pdf", 3, "p3_c1", 0.9),
		mk("walshe.pdf", 4, "p4_c1", 0.8),
		mk("bodhi.pdf", 3, "p3_c1", 0.7),
		mk("anandajoti.pdf", 3, "p3_c2", 0.6),
		mk("Anandajoti.pdf", 4, "p4_c1", 0.5),
	}

	out := Deduplicate(in)
	require.Len(t, out, 3)
	assert.Equal(t, "bodhi.pdf", out[0].Chunk.Meta.SourceDocument, "survivor takes the group's best position")
	assert.Equal(t, "Anandajoti.pdf", out[1].Chunk.Meta.SourceDocument, "comparison ignores case")
	assert.Equal(t, "anandajoti.pdf", out[2].Chunk.Meta.SourceDocument)

	assert.Nil(t, Deduplicate(nil))
}
