package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"palicanon/internal/domain"
	"palicanon/internal/port"
)

var _ port.IndexStore = (*MemoryStore)(nil)

// MemoryStore is an IndexStore kept entirely in memory. It backs tests and
// evaluation runs over small corpora.
type MemoryStore struct {
	mu        sync.RWMutex
	closed    bool
	docs      map[string]domain.Document
	chunks    map[string]domain.Chunk
	docChunks map[string][]string
	postings  map[string][]domain.Posting
	stats     domain.Stats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]domain.Document),
		chunks:    make(map[string]domain.Chunk),
		docChunks: make(map[string][]string),
		postings:  make(map[string][]domain.Posting),
	}
}

// AddChunks indexes chunks under their DocID, computing postings from their
// tokens and refreshing stats.
func (s *MemoryStore) AddChunks(chunks ...domain.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if _, ok := s.docs[c.DocID]; !ok {
			s.docs[c.DocID] = domain.Document{ID: c.DocID, RelPath: c.Meta.RelPath}
		}
		s.putChunk(c)
		tf := make(map[string]int)
		for _, tok := range c.Tokens {
			tf[tok]++
		}
		for term, n := range tf {
			s.postings[term] = append(s.postings[term], domain.Posting{ChunkID: c.ID, TF: n})
		}
	}
	s.stats = s.computeStats()
}

func (s *MemoryStore) putChunk(c domain.Chunk) {
	s.chunks[c.ID] = c
	s.docChunks[c.DocID] = append(s.docChunks[c.DocID], c.ID)
}

func (s *MemoryStore) GetDoc(id string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return doc, nil
}

func (s *MemoryStore) ListDocs() ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *MemoryStore) GetChunk(id string) (domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunk, ok := s.chunks[id]
	if !ok {
		return domain.Chunk{}, fmt.Errorf("%w: %s", domain.ErrChunkNotFound, id)
	}
	return chunk, nil
}

func (s *MemoryStore) GetChunksByDoc(docID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.docChunks[docID]
	chunks := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := s.chunks[id]; ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

func (s *MemoryStore) DeleteDocument(docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteDoc(docID)
	s.stats = s.computeStats()
	return nil
}

func (s *MemoryStore) deleteDoc(docID string) {
	for _, id := range s.docChunks[docID] {
		for term, ps := range s.postings {
			filtered := ps[:0]
			for _, p := range ps {
				if p.ChunkID != id {
					filtered = append(filtered, p)
				}
			}
			if len(filtered) == 0 {
				delete(s.postings, term)
			} else {
				s.postings[term] = filtered
			}
		}
		delete(s.chunks, id)
	}
	delete(s.docChunks, docID)
	delete(s.docs, docID)
}

func (s *MemoryStore) BatchIndex(files []port.IndexedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrIndexClosed
	}
	for _, file := range files {
		s.deleteDoc(file.Doc.ID)
		s.docs[file.Doc.ID] = file.Doc
		for _, chunk := range file.Chunks {
			s.putChunk(chunk)
		}
		for term, chunkTFs := range file.Postings {
			for chunkID, tf := range chunkTFs {
				s.postings[term] = append(s.postings[term], domain.Posting{ChunkID: chunkID, TF: tf})
			}
		}
	}
	s.stats = s.computeStats()
	return nil
}

func (s *MemoryStore) computeStats() domain.Stats {
	stats := domain.Stats{TotalDocs: len(s.docs), TotalChunks: len(s.chunks)}
	var total int
	for _, c := range s.chunks {
		total += len(c.Tokens)
	}
	if stats.TotalChunks > 0 {
		stats.AvgChunkLen = float64(total) / float64(stats.TotalChunks)
	}
	return stats
}

func (s *MemoryStore) DocFreq(term string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, domain.ErrIndexClosed
	}
	return len(s.postings[term]), nil
}

func (s *MemoryStore) GetStats() (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.Stats{}, domain.ErrIndexClosed
	}
	return s.stats, nil
}

func (s *MemoryStore) UpdateStats(stats domain.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
	return nil
}

// SearchByVector ranks chunks by cosine similarity, breaking ties by chunk ID.
func (s *MemoryStore) SearchByVector(ctx context.Context, query []float32, fetchK int, filter *domain.Filter) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrIndexClosed
	}

	var results []domain.ScoredChunk
	for _, c := range s.chunks {
		if len(c.Embedding) == 0 || !filter.Matches(c.Meta) {
			continue
		}
		if len(c.Embedding) != len(query) {
			return nil, fmt.Errorf("%w: query has %d, chunk %s has %d",
				domain.ErrDimensionMismatch, len(query), c.ID, len(c.Embedding))
		}
		results = append(results, domain.ScoredChunk{Chunk: c, Score: cosine(query, c.Embedding)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if fetchK < len(results) {
		results = results[:max(fetchK, 0)]
	}
	return results, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
