package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"palicanon/config"
	"palicanon/internal/adapter/analyzer"
	"palicanon/internal/adapter/chunker"
	"palicanon/internal/adapter/fs"
	"palicanon/internal/adapter/store"
	"palicanon/internal/usecase"
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a corpus directory for retrieval",
	Long: `Index the text exports of a corpus directory. Each file is split into
page-scoped chunks, embedded and written with its BM25 postings.
The index is stored in .palicanon/index.db within the target directory.

Re-running index only processes files that changed since the last run.

Examples:
  palicanon index .           # Index current directory
  palicanon index ./canon     # Index specific directory`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	cfg := GetConfig()

	if err := config.EnsureDir(path); err != nil {
		return fmt.Errorf("failed to create .palicanon directory: %w", err)
	}

	dbPath := config.IndexDBPath(path)
	st, err := store.Open(dbPath, store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open index store: %w", err)
	}
	defer st.Close()

	migration, err := st.CheckMigration(cfg)
	if err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}
	if migration.NeedsRebuild {
		fmt.Printf("Index rebuild required: %s\n", migration.Reason)
		fmt.Println("Clearing existing index...")
		if err := st.Clear(); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	} else if migration.NeedsMigration {
		logger.Info("running schema migration", "reason", migration.Reason)
		if err := st.Migrate(cfg); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	tok := analyzer.NewTokenizer(cfg.Index.Stemming)
	emb, err := newEmbedder(cfg, tok)
	if err != nil {
		return err
	}

	walker := fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes)
	chk := chunker.NewPageChunker(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap, tok)

	fmt.Printf("Scanning %s...\n", path)
	fmt.Printf("Embedding with %s (%s)\n", cfg.Embedding.Provider, emb.ModelName())

	indexUC := usecase.NewIndexUseCase(st, walker, chk, emb,
		usecase.WithIndexLogger(logger),
		usecase.WithWorkers(cfg.Index.Workers),
		usecase.WithBatchSize(cfg.Embedding.BatchSize),
		usecase.WithProgress(newProgress()),
	)

	result, err := indexUC.Index(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	if err := st.Migrate(cfg); err != nil {
		return fmt.Errorf("failed to update schema info: %w", err)
	}

	fmt.Printf("\nIndexing complete in %s:\n", formatDuration(result.Duration))
	fmt.Printf("  Files indexed:  %d\n", result.FilesIndexed)
	fmt.Printf("  Files skipped:  %d (unchanged)\n", result.FilesSkipped)
	fmt.Printf("  Files deleted:  %d (removed)\n", result.FilesDeleted)
	fmt.Printf("  Chunks created: %d\n", result.ChunksCreated)
	fmt.Printf("  Total chunks:   %d (avg %.0f tokens)\n", result.Stats.TotalChunks, result.Stats.AvgChunkLen)

	if len(result.Errors) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	fmt.Printf("\nIndex stored at: %s\n", dbPath)
	return nil
}

// newProgress returns a progress callback that lazily creates a bar once
// the number of files to index is known.
func newProgress() func(done, total int) {
	var (
		mu    sync.Mutex
		bar   *progressbar.ProgressBar
		start time.Time
	)

	return func(done, total int) {
		mu.Lock()
		defer mu.Unlock()

		if bar == nil {
			start = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}

		bar.Set(done)

		if done > 0 {
			rate := float64(done) / time.Since(start).Seconds()
			if rate > 0 {
				eta := time.Duration(float64(total-done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] ETA: %s", formatDuration(eta)))
			}
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
