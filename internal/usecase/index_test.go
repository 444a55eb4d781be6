package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"palicanon/internal/adapter/analyzer"
	"palicanon/internal/adapter/chunker"
	"palicanon/internal/adapter/embedding"
	"palicanon/internal/adapter/fs"
	"palicanon/internal/adapter/memstore"
	"palicanon/internal/adapter/retriever"
	"palicanon/internal/adapter/store"
	"palicanon/internal/domain"
	"palicanon/internal/port"
)

const fireSermon = "Bhikkhus, all is burning. And what is the all that is burning? " +
	"The eye is burning, forms are burning, eye-consciousness is burning.\f" +
	"Burning with the fire of lust, with the fire of hatred, with the fire of delusion."

const robeRules = "Should a bhikkhu keep an extra robe for more than ten days, it is to be forfeited. " +
	"A robe must be marked before use."

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newIndexer(st port.IndexStore, opts ...IndexOption) *IndexUseCase {
	tokenizer := analyzer.NewTokenizer(true)
	return NewIndexUseCase(
		st,
		fs.NewWalker([]string{"**/*.txt"}, nil),
		chunker.NewPageChunker(800, 120, tokenizer),
		embedding.NewHashEmbedder(64, tokenizer),
		opts...,
	)
}

func TestIndex_Incremental(t *testing.T) {
	root := writeCorpus(t, map[string]string{
		"sutta/sn/sn35_bodhi.txt": fireSermon,
		"vinaya/robes.txt":        robeRules,
	})
	st := memstore.NewMemoryStore()

	changes := 0
	var lastDone, lastTotal int
	indexer := newIndexer(st,
		WithOnChange(func() { changes++ }),
		WithProgress(func(done, total int) { lastDone, lastTotal = done, total }),
		WithBatchSize(1),
	)

	result, err := indexer.Index(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesIndexed != 2 || result.FilesSkipped != 0 {
		t.Errorf("expected 2 indexed, 0 skipped, got %+v", result)
	}
	if result.ChunksCreated < 3 {
		t.Errorf("expected at least one chunk per page, got %d", result.ChunksCreated)
	}
	if result.Stats.TotalDocs != 2 || result.Stats.TotalChunks != result.ChunksCreated {
		t.Errorf("unexpected stats %+v", result.Stats)
	}
	if changes != 1 {
		t.Errorf("expected one change notification, got %d", changes)
	}
	if lastDone != 2 || lastTotal != 2 {
		t.Errorf("expected final progress 2/2, got %d/%d", lastDone, lastTotal)
	}

	docs, err := st.ListDocs()
	if err != nil {
		t.Fatal(err)
	}
	for _, doc := range docs {
		chunks, err := st.GetChunksByDoc(doc.ID)
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range chunks {
			if len(c.Embedding) != 64 {
				t.Errorf("chunk %s has no embedding", c.ID)
			}
			switch doc.RelPath {
			case "sutta/sn/sn35_bodhi.txt":
				if c.Meta.Basket != domain.BasketSutta || c.Meta.Nikaya != domain.NikayaSN {
					t.Errorf("expected sutta/SN metadata, got %+v", c.Meta)
				}
			case "vinaya/robes.txt":
				if c.Meta.Basket != domain.BasketVinaya {
					t.Errorf("expected vinaya metadata, got %+v", c.Meta)
				}
			}
		}
	}

	// Unchanged corpus: nothing to do.
	result, err = indexer.Index(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesIndexed != 0 || result.FilesSkipped != 2 {
		t.Errorf("expected everything skipped, got %+v", result)
	}
	if changes != 1 {
		t.Errorf("expected no change notification for a no-op run, got %d", changes)
	}

	// Touch one file and remove the other.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(root, "sutta/sn/sn35_bodhi.txt"), future, future); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "vinaya/robes.txt")); err != nil {
		t.Fatal(err)
	}
	result, err = indexer.Index(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesIndexed != 1 || result.FilesDeleted != 1 {
		t.Errorf("expected 1 reindexed and 1 deleted, got %+v", result)
	}
	if result.Stats.TotalDocs != 1 {
		t.Errorf("expected 1 doc left, got %+v", result.Stats)
	}
}

type failingChunker struct {
	port.Chunker
	failOn string
}

func (c failingChunker) Chunk(doc domain.Document, content string) ([]domain.Chunk, error) {
	if strings.Contains(doc.RelPath, c.failOn) {
		return nil, errors.New("unreadable page")
	}
	return c.Chunker.Chunk(doc, content)
}

func TestIndex_CollectsFileErrors(t *testing.T) {
	root := writeCorpus(t, map[string]string{
		"sutta/sn/sn35.txt": fireSermon,
		"vinaya/robes.txt":  robeRules,
	})
	tokenizer := analyzer.NewTokenizer(true)
	indexer := NewIndexUseCase(
		memstore.NewMemoryStore(),
		fs.NewWalker(nil, nil),
		failingChunker{Chunker: chunker.NewPageChunker(800, 120, tokenizer), failOn: "vinaya"},
		embedding.NewHashEmbedder(32, tokenizer),
	)

	result, err := indexer.Index(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesIndexed != 1 {
		t.Errorf("expected the healthy file to be indexed, got %+v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "vinaya/robes.txt") {
		t.Errorf("expected one error naming the file, got %v", result.Errors)
	}
}

func TestIndex_Canceled(t *testing.T) {
	root := writeCorpus(t, map[string]string{"sutta/sn/sn35.txt": fireSermon})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newIndexer(memstore.NewMemoryStore()).Index(ctx, root); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type switchableEmbedder struct {
	port.Embedder
	down bool
}

func (e *switchableEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.down {
		return nil, errors.New("connection refused")
	}
	return e.Embedder.Embed(ctx, texts)
}

// indexThenPrune indexes both files, then touches the sutta and removes the
// vinaya file so the next run both deletes and re-embeds.
func indexThenPrune(t *testing.T, indexer *IndexUseCase) string {
	t.Helper()
	root := writeCorpus(t, map[string]string{
		"sutta/sn/sn35_bodhi.txt": fireSermon,
		"vinaya/robes.txt":        robeRules,
	})
	if _, err := indexer.Index(context.Background(), root); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(root, "sutta/sn/sn35_bodhi.txt"), future, future); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "vinaya/robes.txt")); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestIndex_FailureAfterDeletionRefreshesStats(t *testing.T) {
	tokenizer := analyzer.NewTokenizer(true)
	emb := &switchableEmbedder{Embedder: embedding.NewHashEmbedder(64, tokenizer)}
	st := memstore.NewMemoryStore()
	changes := 0
	indexer := NewIndexUseCase(
		st,
		fs.NewWalker(nil, nil),
		chunker.NewPageChunker(800, 120, tokenizer),
		emb,
		WithOnChange(func() { changes++ }),
	)
	root := indexThenPrune(t, indexer)

	emb.down = true
	if _, err := indexer.Index(context.Background(), root); err == nil {
		t.Fatal("expected the embedder failure to abort the run")
	}

	docs, err := st.ListDocs()
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected the removed file to be gone, got %d docs", len(docs))
	}
	stats, err := st.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocs != 1 {
		t.Errorf("expected stats to reflect the deletion, got %+v", stats)
	}
	if changes != 2 {
		t.Errorf("expected a change notification for the partial run, got %d", changes)
	}
}

func TestIndex_CanceledBeforeDeletionLeavesIndex(t *testing.T) {
	st := memstore.NewMemoryStore()
	changes := 0
	indexer := newIndexer(st, WithOnChange(func() { changes++ }))
	root := indexThenPrune(t, indexer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := indexer.Index(ctx, root); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	docs, err := st.ListDocs()
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Errorf("expected no deletions on a canceled run, got %d docs", len(docs))
	}
	stats, err := st.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocs != 2 {
		t.Errorf("expected stats untouched, got %+v", stats)
	}
	if changes != 1 {
		t.Errorf("expected only the initial change notification, got %d", changes)
	}
}

func TestIndex_BoltEndToEnd(t *testing.T) {
	root := writeCorpus(t, map[string]string{
		"sutta/sn/sn35_bodhi.txt": fireSermon,
		"vinaya/robes.txt":        robeRules,
	})
	st, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if _, err := newIndexer(st).Index(context.Background(), root); err != nil {
		t.Fatal(err)
	}

	stats, err := st.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocs != 2 || stats.TotalChunks == 0 || stats.AvgChunkLen == 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	tokenizer := analyzer.NewTokenizer(true)
	r := retriever.New(st, embedding.NewHashEmbedder(64, tokenizer), tokenizer, retriever.DefaultParams())
	res, err := r.Retrieve(context.Background(), domain.QueryPlan{SearchTerms: []string{"fire of lust"}}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Empty() {
		t.Fatal("expected hits")
	}
	if res.Hits[0].SourceDocument != "sn35_bodhi.txt" || res.Hits[0].PageNumber != 2 {
		t.Errorf("expected page 2 of the fire sermon first, got %+v", res.Hits[0])
	}
}
