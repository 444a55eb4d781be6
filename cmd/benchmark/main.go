package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"palicanon/config"
	"palicanon/internal/adapter/analyzer"
	"palicanon/internal/adapter/embedding"
	"palicanon/internal/adapter/store"
	"palicanon/internal/domain"
)

func main() {
	indexPath := flag.String("index", ".", "Path to indexed corpus directory")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results")
	basket := flag.String("basket", "", "Restrict the search to a basket")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -index ./canon -q \"query\"")
		fmt.Println("\nChecks:")
		fmt.Println("  1. Embedding infrastructure (model connection, stored vectors)")
		fmt.Println("  2. Semantic similarity of the raw vector search (no BM25, MMR or dedup)")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*indexPath)
	if err != nil {
		fail("Error loading config: %v", err)
	}

	var filter *domain.Filter
	if *basket != "" {
		b, err := domain.ParseBasket(*basket)
		if err != nil {
			fail("Error: %v", err)
		}
		filter = &domain.Filter{Basket: b}
	}

	st, err := store.Open(config.IndexDBPath(*indexPath))
	if err != nil {
		fail("Error opening index: %v", err)
	}
	defer st.Close()

	if st.VectorCount() == 0 {
		fail("No embeddings - run 'palicanon index' first")
	}

	embedder, err := embedding.New(cfg.Embedding, analyzer.NewTokenizer(cfg.Index.Stemming))
	if err != nil {
		fail("Embedder init failed: %v", err)
	}

	fmt.Println("VECTOR SEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Embeddings indexed: %d\n", st.VectorCount())
	fmt.Printf("Model: %s (%s)\n", embedder.ModelName(), cfg.Embedding.Provider)
	fmt.Printf("Dimension: %d (index %d)\n", embedder.Dimension(), st.Dimension())
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	ctx := context.Background()
	queryVec, err := embedder.Embed(ctx, []string{*query})
	if err != nil {
		fail("Embedding error: %v", err)
	}
	fmt.Printf("Query embedded: %d dimensions\n\n", len(queryVec[0]))

	results, err := st.SearchByVector(ctx, queryVec[0], *topK, filter)
	if err != nil {
		fail("Search error: %v", err)
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}

	fmt.Printf("Top %d vector matches:\n\n", len(results))

	totalScore := 0.0
	for i, r := range results {
		preview := strings.Join(strings.Fields(r.Chunk.Text), " ")
		if runes := []rune(preview); len(runes) > 150 {
			preview = string(runes[:150]) + "..."
		}

		totalScore += r.Score

		rating := "LOW"
		if r.Score > 0.7 {
			rating = "HIGH"
		} else if r.Score > 0.5 {
			rating = "GOOD"
		} else if r.Score > 0.3 {
			rating = "OK"
		}

		m := r.Chunk.Meta
		fmt.Printf("%d. [%s %.3f] %s p.%d (%s)\n", i+1, rating, r.Score, m.SourceDocument, m.PageNumber, m.Basket)
		fmt.Printf("   %s\n\n", preview)
	}

	avgScore := totalScore / float64(len(results))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", results[0].Score)

	if avgScore > 0.5 {
		fmt.Println("  Status: GOOD - vector search working well")
	} else if avgScore > 0.3 {
		fmt.Println("  Status: OK - results are somewhat related")
	} else {
		fmt.Println("  Status: POOR - may need a better embedding model or re-indexing")
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
