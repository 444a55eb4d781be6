package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"palicanon/internal/domain"
)

type countingRetriever struct {
	calls int
	err   error
}

func (r *countingRetriever) Retrieve(ctx context.Context, plan domain.QueryPlan, k int) (domain.Result, error) {
	r.calls++
	if r.err != nil {
		return domain.Result{}, r.err
	}
	return domain.Result{Hits: []domain.Hit{{SourceDocument: "sn.pdf", PageNumber: 3, Rank: 1}}}, nil
}

func plan(terms ...string) domain.QueryPlan {
	return domain.QueryPlan{SearchTerms: terms}
}

func TestQueryCache_GetPut(t *testing.T) {
	c := NewQueryCache(10, time.Minute)

	if _, ok := c.Get(plan("fire"), 5); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put(plan("fire"), 5, domain.Result{Hits: []domain.Hit{{SpanID: "p1_c0"}}})

	got, ok := c.Get(plan("fire"), 5)
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got.Hits) != 1 || got.Hits[0].SpanID != "p1_c0" {
		t.Errorf("unexpected cached result: %+v", got)
	}

	if _, ok := c.Get(plan("fire"), 6); ok {
		t.Error("different k must miss")
	}
	other := plan("fire")
	other.Constraints.Nikaya = domain.NikayaSN
	if _, ok := c.Get(other, 5); ok {
		t.Error("different constraints must miss")
	}
}

func TestQueryCache_ReturnsCopies(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	c.Put(plan("x"), 1, domain.Result{Hits: []domain.Hit{{Text: "orig"}}})

	got, _ := c.Get(plan("x"), 1)
	got.Hits[0].Text = "mutated"

	again, _ := c.Get(plan("x"), 1)
	if again.Hits[0].Text != "orig" {
		t.Errorf("cache entry was mutated through a returned result")
	}
}

func TestQueryCache_TTL(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Put(plan("x"), 1, domain.Result{})
	now = now.Add(2 * time.Minute)

	if _, ok := c.Get(plan("x"), 1); ok {
		t.Error("expected expired entry to miss")
	}
	if c.Size() != 0 {
		t.Errorf("expected expired entry removed, size=%d", c.Size())
	}
}

func TestQueryCache_Invalidate(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	c.Put(plan("x"), 1, domain.Result{})
	c.Invalidate()
	if _, ok := c.Get(plan("x"), 1); ok {
		t.Error("expected miss after invalidate")
	}
}

func TestQueryCache_Eviction(t *testing.T) {
	c := NewQueryCache(2, time.Minute)
	c.Put(plan("a"), 1, domain.Result{})
	c.Put(plan("b"), 1, domain.Result{})
	c.Get(plan("a"), 1)
	c.Put(plan("c"), 1, domain.Result{})

	if _, ok := c.Get(plan("b"), 1); ok {
		t.Error("expected least recently used entry to be evicted")
	}
	if _, ok := c.Get(plan("a"), 1); !ok {
		t.Error("expected recently used entry to survive")
	}
}

func TestCachedRetriever(t *testing.T) {
	inner := &countingRetriever{}
	r := NewCachedRetriever(inner, NewQueryCache(10, time.Minute))

	for i := 0; i < 3; i++ {
		if _, err := r.Retrieve(context.Background(), plan("fire"), 4); err != nil {
			t.Fatal(err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 underlying call, got %d", inner.calls)
	}
}

func TestCachedRetriever_ErrorsNotCached(t *testing.T) {
	inner := &countingRetriever{err: domain.ErrIndexUnavailable}
	r := NewCachedRetriever(inner, NewQueryCache(10, time.Minute))

	for i := 0; i < 2; i++ {
		_, err := r.Retrieve(context.Background(), plan("fire"), 4)
		if !errors.Is(err, domain.ErrIndexUnavailable) {
			t.Fatalf("expected ErrIndexUnavailable, got %v", err)
		}
	}
	if inner.calls != 2 {
		t.Errorf("expected errors to bypass the cache, got %d calls", inner.calls)
	}
}

type stubEmbedder struct {
	calls [][]string
}

func (e *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls = append(e.calls, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (e *stubEmbedder) Dimension() int    { return 1 }
func (e *stubEmbedder) ModelName() string { return "stub" }

func TestCachedEmbedder(t *testing.T) {
	inner := &stubEmbedder{}
	e := NewCachedEmbedder(inner, 10)

	if _, err := e.Embed(context.Background(), []string{"a", "bb"}); err != nil {
		t.Fatal(err)
	}
	vecs, err := e.Embed(context.Background(), []string{"bb", "ccc"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 2 || vecs[1][0] != 3 {
		t.Errorf("unexpected vectors %v", vecs)
	}
	if len(inner.calls) != 2 || len(inner.calls[1]) != 1 || inner.calls[1][0] != "ccc" {
		t.Errorf("expected only uncached text to be embedded, calls=%v", inner.calls)
	}
	if e.ModelName() != "stub" {
		t.Errorf("expected wrapped model name")
	}
}
