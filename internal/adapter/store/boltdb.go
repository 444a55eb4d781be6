package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"palicanon/internal/domain"
	"palicanon/internal/port"
)

var (
	bucketDocs      = []byte("docs")
	bucketChunks    = []byte("chunks")
	bucketBlobs     = []byte("blobs")
	bucketTerms     = []byte("terms")
	bucketStats     = []byte("stats")
	bucketDocChunks = []byte("doc_chunks")
	keyStats        = []byte("corpus_stats")

	allBuckets = [][]byte{bucketDocs, bucketChunks, bucketBlobs, bucketTerms, bucketStats, bucketDocChunks, bucketVectors}
)

var (
	_ port.IndexStore = (*BoltStore)(nil)
	_ port.ChunkIndex = (*BoltStore)(nil)
)

// BoltStore is the on-disk chunk index. Vectors are mirrored in memory for
// brute-force similarity search.
type BoltStore struct {
	db        *bbolt.DB
	dimension int
	fixedDim  int
	logger    *slog.Logger

	mu      sync.RWMutex
	closed  bool
	vectors map[string]vectorEntry
}

// Option configures a BoltStore.
type Option func(*BoltStore)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *BoltStore) {
		s.logger = logger
	}
}

// WithDimension fixes the embedding dimension. Zero accepts the dimension of
// the first stored vector.
func WithDimension(dim int) Option {
	return func(s *BoltStore) {
		s.dimension = dim
		s.fixedDim = dim
	}
}

// Open opens (creating if needed) the index at path. Errors wrap
// domain.ErrIndexUnavailable.
func Open(path string, opts ...Option) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrIndexUnavailable, path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
	}

	s := &BoltStore{
		db:      db,
		logger:  slog.Default(),
		vectors: make(map[string]vectorEntry),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadVectors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: load vectors: %w", domain.ErrIndexUnavailable, err)
	}
	s.logger.Debug("index opened", "path", path, "vectors", len(s.vectors), "dimension", s.dimension)

	return s, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

// Dimension returns the embedding dimension of stored vectors, or zero for
// an empty index opened without WithDimension.
func (s *BoltStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

type docMeta struct {
	Path    string `json:"path"`
	RelPath string `json:"rel_path"`
	ModTime int64  `json:"mod_time"`
}

type chunkMeta struct {
	DocID  string               `json:"doc_id"`
	Tokens []string             `json:"tokens"`
	Meta   domain.ChunkMetadata `json:"meta"`
}

// view runs fn in a read transaction unless the store is closed.
func (s *BoltStore) view(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.ErrIndexClosed
	}
	return s.db.View(fn)
}

// update runs fn in a write transaction holding the vector cache lock.
func (s *BoltStore) update(fn func(tx *bbolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrIndexClosed
	}
	return s.db.Update(fn)
}

func (s *BoltStore) GetDoc(id string) (domain.Document, error) {
	var doc domain.Document
	err := s.view(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
		}
		var meta docMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return err
		}
		doc = toDocument(id, meta)
		return nil
	})
	return doc, err
}

func (s *BoltStore) ListDocs() ([]domain.Document, error) {
	var docs []domain.Document
	err := s.view(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			var meta docMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			docs = append(docs, toDocument(string(k), meta))
			return nil
		})
	})
	return docs, err
}

func toDocument(id string, meta docMeta) domain.Document {
	return domain.Document{
		ID:      id,
		Path:    meta.Path,
		RelPath: meta.RelPath,
		ModTime: time.Unix(meta.ModTime, 0),
	}
}

func (s *BoltStore) GetChunk(id string) (domain.Chunk, error) {
	var chunk domain.Chunk
	err := s.view(func(tx *bbolt.Tx) error {
		c, ok, err := s.readChunk(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrChunkNotFound, id)
		}
		chunk = c
		return nil
	})
	return chunk, err
}

// readChunk assembles a chunk from its metadata, text blob and cached vector.
// Callers hold s.mu.
func (s *BoltStore) readChunk(tx *bbolt.Tx, id string) (domain.Chunk, bool, error) {
	data := tx.Bucket(bucketChunks).Get([]byte(id))
	if data == nil {
		return domain.Chunk{}, false, nil
	}
	var meta chunkMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.Chunk{}, false, fmt.Errorf("decode chunk %s: %w", id, err)
	}
	text := tx.Bucket(bucketBlobs).Get([]byte(id))
	return domain.Chunk{
		ID:        id,
		DocID:     meta.DocID,
		Text:      string(text),
		Tokens:    meta.Tokens,
		Embedding: s.vectors[id].vector,
		Meta:      meta.Meta,
	}, true, nil
}

func (s *BoltStore) GetChunksByDoc(docID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := s.view(func(tx *bbolt.Tx) error {
		ids, err := docChunkIDs(tx, docID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			c, ok, err := s.readChunk(tx, id)
			if err != nil {
				return err
			}
			if ok {
				chunks = append(chunks, c)
			}
		}
		return nil
	})
	return chunks, err
}

func docChunkIDs(tx *bbolt.Tx, docID string) ([]string, error) {
	data := tx.Bucket(bucketDocChunks).Get([]byte(docID))
	if data == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteDocument removes a document with its chunks, vectors and postings.
func (s *BoltStore) DeleteDocument(docID string) error {
	return s.update(func(tx *bbolt.Tx) error {
		return s.deleteDocTx(tx, docID)
	})
}

func (s *BoltStore) deleteDocTx(tx *bbolt.Tx, docID string) error {
	ids, err := docChunkIDs(tx, docID)
	if err != nil {
		return err
	}

	chunks := tx.Bucket(bucketChunks)
	blobs := tx.Bucket(bucketBlobs)
	vectors := tx.Bucket(bucketVectors)
	for _, id := range ids {
		if data := chunks.Get([]byte(id)); data != nil {
			var meta chunkMeta
			if err := json.Unmarshal(data, &meta); err == nil {
				if err := removePostings(tx, id, meta.Tokens); err != nil {
					return err
				}
			}
		}
		if err := chunks.Delete([]byte(id)); err != nil {
			return err
		}
		if err := blobs.Delete([]byte(id)); err != nil {
			return err
		}
		if err := vectors.Delete([]byte(id)); err != nil {
			return err
		}
		delete(s.vectors, id)
	}

	if err := tx.Bucket(bucketDocChunks).Delete([]byte(docID)); err != nil {
		return err
	}
	return tx.Bucket(bucketDocs).Delete([]byte(docID))
}

func removePostings(tx *bbolt.Tx, chunkID string, tokens []string) error {
	b := tx.Bucket(bucketTerms)
	seen := make(map[string]struct{}, len(tokens))
	for _, term := range tokens {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}

		postings, err := readPostings(b, term)
		if err != nil {
			return err
		}
		filtered := postings[:0]
		for _, p := range postings {
			if p.ChunkID != chunkID {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == 0 {
			if err := b.Delete([]byte(term)); err != nil {
				return err
			}
			continue
		}
		data, err := json.Marshal(filtered)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(term), data); err != nil {
			return err
		}
	}
	return nil
}

func readPostings(b *bbolt.Bucket, term string) ([]domain.Posting, error) {
	data := b.Get([]byte(term))
	if data == nil {
		return nil, nil
	}
	var postings []domain.Posting
	if err := json.Unmarshal(data, &postings); err != nil {
		return nil, fmt.Errorf("decode postings for %q: %w", term, err)
	}
	return postings, nil
}

func (s *BoltStore) GetPostings(term string) ([]domain.Posting, error) {
	var postings []domain.Posting
	err := s.view(func(tx *bbolt.Tx) error {
		var err error
		postings, err = readPostings(tx.Bucket(bucketTerms), term)
		return err
	})
	return postings, err
}

// DocFreq returns the number of chunks whose tokens contain term.
func (s *BoltStore) DocFreq(term string) (int, error) {
	postings, err := s.GetPostings(term)
	return len(postings), err
}

func (s *BoltStore) GetStats() (domain.Stats, error) {
	var stats domain.Stats
	err := s.view(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketStats).Get(keyStats)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &stats)
	})
	return stats, err
}

func (s *BoltStore) UpdateStats(stats domain.Stats) error {
	return s.update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketStats).Put(keyStats, data)
	})
}

// ComputeStats recomputes corpus statistics from the stored chunks.
func (s *BoltStore) ComputeStats() (domain.Stats, error) {
	var stats domain.Stats
	err := s.view(func(tx *bbolt.Tx) error {
		stats.TotalDocs = tx.Bucket(bucketDocs).Stats().KeyN
		var totalLen int
		err := tx.Bucket(bucketChunks).ForEach(func(k, v []byte) error {
			var meta chunkMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			stats.TotalChunks++
			totalLen += len(meta.Tokens)
			return nil
		})
		if err != nil {
			return err
		}
		if stats.TotalChunks > 0 {
			stats.AvgChunkLen = float64(totalLen) / float64(stats.TotalChunks)
		}
		return nil
	})
	return stats, err
}

// Close releases the database. Further calls return domain.ErrIndexClosed.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.vectors = nil
	return s.db.Close()
}

// BatchIndex writes files in one transaction, replacing any previous version
// of each document.
func (s *BoltStore) BatchIndex(files []port.IndexedFile) error {
	return s.update(func(tx *bbolt.Tx) error {
		docsBucket := tx.Bucket(bucketDocs)
		chunksBucket := tx.Bucket(bucketChunks)
		blobsBucket := tx.Bucket(bucketBlobs)
		docChunksBucket := tx.Bucket(bucketDocChunks)
		termsBucket := tx.Bucket(bucketTerms)

		allPostings := make(map[string][]domain.Posting)
		pending := make(map[string]vectorEntry)

		for _, file := range files {
			if err := s.deleteDocTx(tx, file.Doc.ID); err != nil {
				return err
			}

			data, err := json.Marshal(docMeta{
				Path:    file.Doc.Path,
				RelPath: file.Doc.RelPath,
				ModTime: file.Doc.ModTime.Unix(),
			})
			if err != nil {
				return err
			}
			if err := docsBucket.Put([]byte(file.Doc.ID), data); err != nil {
				return err
			}

			chunkIDs := make([]string, 0, len(file.Chunks))
			for _, chunk := range file.Chunks {
				data, err := json.Marshal(chunkMeta{
					DocID:  chunk.DocID,
					Tokens: chunk.Tokens,
					Meta:   chunk.Meta,
				})
				if err != nil {
					return err
				}
				if err := chunksBucket.Put([]byte(chunk.ID), data); err != nil {
					return err
				}
				if err := blobsBucket.Put([]byte(chunk.ID), []byte(chunk.Text)); err != nil {
					return err
				}
				if len(chunk.Embedding) > 0 {
					entry, err := s.putVectorTx(tx, chunk)
					if err != nil {
						return err
					}
					pending[chunk.ID] = entry
				}
				chunkIDs = append(chunkIDs, chunk.ID)
			}

			idsData, err := json.Marshal(chunkIDs)
			if err != nil {
				return err
			}
			if err := docChunksBucket.Put([]byte(file.Doc.ID), idsData); err != nil {
				return err
			}

			for term, chunkTFs := range file.Postings {
				for chunkID, tf := range chunkTFs {
					allPostings[term] = append(allPostings[term], domain.Posting{ChunkID: chunkID, TF: tf})
				}
			}
		}

		for term, newPostings := range allPostings {
			existing, err := readPostings(termsBucket, term)
			if err != nil {
				return err
			}
			data, err := json.Marshal(append(existing, newPostings...))
			if err != nil {
				return err
			}
			if err := termsBucket.Put([]byte(term), data); err != nil {
				return err
			}
		}

		// The cache only sees vectors once the transaction is certain to commit.
		for id, entry := range pending {
			s.vectors[id] = entry
		}
		return nil
	})
}

// Clear removes all indexed data, keeping schema information.
func (s *BoltStore) Clear() error {
	return s.update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketDocs, bucketChunks, bucketBlobs, bucketTerms, bucketDocChunks, bucketVectors} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		s.vectors = make(map[string]vectorEntry)
		s.dimension = s.fixedDim
		return tx.Bucket(bucketStats).Delete(keyStats)
	})
}
