package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"palicanon/config"
	"palicanon/internal/adapter/analyzer"
	"palicanon/internal/adapter/cache"
	"palicanon/internal/adapter/embedding"
	"palicanon/internal/adapter/planner"
	"palicanon/internal/adapter/retriever"
	"palicanon/internal/adapter/store"
	"palicanon/internal/port"
	"palicanon/internal/usecase"
)

const embedCacheSize = 256

// engine bundles the components shared by the query-side commands.
type engine struct {
	store     *store.BoltStore
	tokenizer port.Tokenizer
	retrieve  *usecase.RetrieveUseCase
	cache     *cache.QueryCache
}

func (e *engine) Close() error {
	return e.store.Close()
}

// openEngine opens the index under the corpus root and wires planner,
// embedder and retriever from the loaded config.
func openEngine(useCache bool) (*engine, error) {
	cfg := GetConfig()
	root := GetRootDir()

	dbPath := config.IndexDBPath(root)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no index found at %s. Run 'palicanon index' first", dbPath)
	}

	st, err := store.Open(dbPath, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if rebuild, reason, err := st.NeedsRebuild(cfg); err != nil {
		logger.Warn("could not check index schema", "error", err)
	} else if rebuild {
		logger.Warn("index is stale, run 'palicanon index' to rebuild", "reason", reason)
	}

	tok := analyzer.NewTokenizer(cfg.Index.Stemming)
	emb, err := newEmbedder(cfg, tok)
	if err != nil {
		st.Close()
		return nil, err
	}

	aliases, err := planner.LoadAliases(resolvePath(cfg.Planner.AliasCSV), resolvePath(cfg.Planner.AliasYAML))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load aliases: %w", err)
	}
	pl := planner.New(aliases,
		planner.WithLogger(logger),
		planner.WithAliasLimit(cfg.Planner.AliasLimit))

	var r port.Retriever = retriever.New(st, emb, tok, retriever.ParamsFromConfig(cfg), retriever.WithLogger(logger))

	e := &engine{store: st, tokenizer: tok}
	if useCache && cfg.Retrieve.CacheSize > 0 {
		e.cache = cache.NewQueryCache(cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL)
		r = cache.NewCachedRetriever(r, e.cache)
	}
	e.retrieve = usecase.NewRetrieveUseCase(pl, r, logger)
	return e, nil
}

func newEmbedder(cfg *config.Config, tok port.Tokenizer) (port.Embedder, error) {
	emb, err := embedding.New(cfg.Embedding, tok)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return cache.NewCachedEmbedder(emb, embedCacheSize), nil
}

// resolvePath makes relative config paths relative to the corpus root.
func resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(GetRootDir(), p)
}
