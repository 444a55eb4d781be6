package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"palicanon/internal/adapter/fs"
	"palicanon/internal/domain"
	"palicanon/internal/port"
)

// statsComputer is implemented by stores that can recompute corpus stats
// without a full scan through the IndexStore API.
type statsComputer interface {
	ComputeStats() (domain.Stats, error)
}

// IndexUseCase builds and refreshes the chunk index from a corpus directory.
type IndexUseCase struct {
	store     port.IndexStore
	walker    port.FileWalker
	chunker   port.Chunker
	embedder  port.Embedder
	workers   int
	batchSize int
	progress  func(done, total int)
	onChange  func()
	logger    *slog.Logger
}

type IndexOption func(*IndexUseCase)

func WithIndexLogger(logger *slog.Logger) IndexOption {
	return func(u *IndexUseCase) {
		u.logger = logger
	}
}

// WithWorkers sets how many files are read and chunked in parallel.
func WithWorkers(n int) IndexOption {
	return func(u *IndexUseCase) {
		if n > 0 {
			u.workers = n
		}
	}
}

// WithBatchSize sets how many files are written per store transaction and
// how many chunk texts go to the embedder per call.
func WithBatchSize(n int) IndexOption {
	return func(u *IndexUseCase) {
		if n > 0 {
			u.batchSize = n
		}
	}
}

// WithProgress registers a callback invoked as files are written.
func WithProgress(fn func(done, total int)) IndexOption {
	return func(u *IndexUseCase) {
		u.progress = fn
	}
}

// WithOnChange registers a callback invoked when the index content changed,
// e.g. to invalidate a query cache.
func WithOnChange(fn func()) IndexOption {
	return func(u *IndexUseCase) {
		u.onChange = fn
	}
}

func NewIndexUseCase(
	store port.IndexStore,
	walker port.FileWalker,
	chunker port.Chunker,
	embedder port.Embedder,
	opts ...IndexOption,
) *IndexUseCase {
	u := &IndexUseCase{
		store:     store,
		walker:    walker,
		chunker:   chunker,
		embedder:  embedder,
		workers:   4,
		batchSize: 32,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// IndexResult contains the results of an indexing operation.
type IndexResult struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesDeleted  int
	ChunksCreated int
	Stats         domain.Stats
	Duration      time.Duration
	Errors        []string
}

type chunkedFile struct {
	doc    domain.Document
	chunks []domain.Chunk
}

// Index walks root and brings the index up to date. Unchanged files (same
// or older mtime) are skipped, removed files are deleted. Per-file read and
// chunking failures are collected in the result; store and embedder
// failures abort.
func (u *IndexUseCase) Index(ctx context.Context, root string) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{}

	files, err := u.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	existingDocs, err := u.store.ListDocs()
	if err != nil {
		return nil, fmt.Errorf("failed to list existing docs: %w", err)
	}
	existing := make(map[string]domain.Document, len(existingDocs))
	for _, doc := range existingDocs {
		existing[doc.RelPath] = doc
	}

	seen := make(map[string]bool, len(files))
	var pending []port.FileInfo
	for _, file := range files {
		seen[file.RelPath] = true
		if doc, ok := existing[file.RelPath]; ok && doc.ModTime.Unix() >= file.ModTime {
			result.FilesSkipped++
			continue
		}
		pending = append(pending, file)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	changed := false
	for relPath, doc := range existing {
		if seen[relPath] {
			continue
		}
		if err := u.store.DeleteDocument(doc.ID); err != nil {
			return nil, u.abort(changed, fmt.Errorf("failed to delete %s: %w", relPath, err))
		}
		u.logger.Debug("removed document", "path", relPath)
		result.FilesDeleted++
		changed = true
	}

	chunked, errs := u.chunkFiles(ctx, pending)
	result.Errors = append(result.Errors, errs...)
	if err := ctx.Err(); err != nil {
		return nil, u.abort(changed, err)
	}

	for i := 0; i < len(chunked); i += u.batchSize {
		end := min(i+u.batchSize, len(chunked))
		batch, err := u.buildBatch(ctx, chunked[i:end])
		if err != nil {
			return nil, u.abort(changed, err)
		}
		if err := u.store.BatchIndex(batch); err != nil {
			return nil, u.abort(changed, fmt.Errorf("failed to write batch: %w", err))
		}
		for _, f := range batch {
			result.ChunksCreated += len(f.Chunks)
		}
		result.FilesIndexed += len(batch)
		changed = true
		if u.progress != nil {
			u.progress(end, len(chunked))
		}
	}

	stats, err := u.refreshStats()
	if err != nil {
		return nil, err
	}
	result.Stats = stats

	if changed && u.onChange != nil {
		u.onChange()
	}

	result.Duration = time.Since(start)
	u.logger.Info("index updated",
		"indexed", result.FilesIndexed,
		"skipped", result.FilesSkipped,
		"deleted", result.FilesDeleted,
		"chunks", result.ChunksCreated,
		"errors", len(result.Errors),
		"duration", result.Duration)
	return result, nil
}

func (u *IndexUseCase) refreshStats() (domain.Stats, error) {
	stats, err := u.computeStats()
	if err != nil {
		return domain.Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	if err := u.store.UpdateStats(stats); err != nil {
		return domain.Stats{}, fmt.Errorf("failed to update stats: %w", err)
	}
	return stats, nil
}

// abort returns err from a run that stopped part way. Deletions and batches
// already written stay, so stats are refreshed and listeners notified first.
func (u *IndexUseCase) abort(changed bool, err error) error {
	if !changed {
		return err
	}
	if _, serr := u.refreshStats(); serr != nil {
		u.logger.Warn("failed to refresh stats after aborted run", "error", serr)
	}
	if u.onChange != nil {
		u.onChange()
	}
	return err
}

// chunkFiles reads and chunks files in parallel, keeping input order.
func (u *IndexUseCase) chunkFiles(ctx context.Context, files []port.FileInfo) ([]chunkedFile, []string) {
	out := make([]*chunkedFile, len(files))
	var (
		mu   sync.Mutex
		errs []string
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.workers)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cf, err := u.chunkFile(file)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Sprintf("failed to index %s: %v", file.RelPath, err))
				mu.Unlock()
				return nil
			}
			out[i] = cf
			return nil
		})
	}
	_ = g.Wait()

	chunked := make([]chunkedFile, 0, len(out))
	for _, cf := range out {
		if cf != nil {
			chunked = append(chunked, *cf)
		}
	}
	return chunked, errs
}

func (u *IndexUseCase) chunkFile(file port.FileInfo) (*chunkedFile, error) {
	content, err := fs.ReadFile(file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	doc := domain.Document{
		ID:      generateDocID(file.RelPath),
		Path:    file.Path,
		RelPath: file.RelPath,
		ModTime: time.Unix(file.ModTime, 0),
	}

	chunks, err := u.chunker.Chunk(doc, content)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk content: %w", err)
	}
	return &chunkedFile{doc: doc, chunks: chunks}, nil
}

// buildBatch embeds every chunk of the batch and computes postings.
func (u *IndexUseCase) buildBatch(ctx context.Context, files []chunkedFile) ([]port.IndexedFile, error) {
	var texts []string
	for _, f := range files {
		for _, c := range f.chunks {
			texts = append(texts, c.Text)
		}
	}

	vectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += u.batchSize {
		end := min(i+u.batchSize, len(texts))
		embs, err := u.embedder.Embed(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks: %w", err)
		}
		if len(embs) != end-i {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(embs), end-i)
		}
		vectors = append(vectors, embs...)
	}

	batch := make([]port.IndexedFile, 0, len(files))
	next := 0
	for _, f := range files {
		postings := make(map[string]map[string]int)
		for i := range f.chunks {
			f.chunks[i].Embedding = vectors[next]
			next++

			for _, token := range f.chunks[i].Tokens {
				if postings[token] == nil {
					postings[token] = make(map[string]int)
				}
				postings[token][f.chunks[i].ID]++
			}
		}
		batch = append(batch, port.IndexedFile{
			Doc:      f.doc,
			Chunks:   f.chunks,
			Postings: postings,
		})
	}
	return batch, nil
}

func (u *IndexUseCase) computeStats() (domain.Stats, error) {
	if sc, ok := u.store.(statsComputer); ok {
		return sc.ComputeStats()
	}

	docs, err := u.store.ListDocs()
	if err != nil {
		return domain.Stats{}, err
	}
	stats := domain.Stats{TotalDocs: len(docs)}
	var totalLen int
	for _, doc := range docs {
		chunks, err := u.store.GetChunksByDoc(doc.ID)
		if err != nil {
			return domain.Stats{}, err
		}
		for _, c := range chunks {
			stats.TotalChunks++
			totalLen += len(c.Tokens)
		}
	}
	if stats.TotalChunks > 0 {
		stats.AvgChunkLen = float64(totalLen) / float64(stats.TotalChunks)
	}
	return stats, nil
}

// generateDocID derives a stable document id from the corpus-relative path.
func generateDocID(relPath string) string {
	hash := sha256.Sum256([]byte(relPath))
	return hex.EncodeToString(hash[:8])
}
