package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palicanon/internal/domain"
	"palicanon/internal/port"
)

func TestMemoryStore_SearchAndFilter(t *testing.T) {
	s := NewMemoryStore()
	s.AddChunks(
		domain.Chunk{ID: "a", DocID: "d1", Tokens: []string{"burn"}, Embedding: []float32{1, 0}, Meta: domain.ChunkMetadata{Basket: domain.BasketSutta, Nikaya: domain.NikayaSN}},
		domain.Chunk{ID: "b", DocID: "d2", Tokens: []string{"burn", "rule"}, Embedding: []float32{0, 1}, Meta: domain.ChunkMetadata{Basket: domain.BasketVinaya}},
	)

	res, err := s.SearchByVector(context.Background(), []float32{1, 0.1}, 5, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].Chunk.ID)

	res, err = s.SearchByVector(context.Background(), []float32{1, 0.1}, 5, &domain.Filter{Basket: domain.BasketVinaya})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b", res[0].Chunk.ID)

	df, err := s.DocFreq("burn")
	require.NoError(t, err)
	assert.Equal(t, 2, df)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalChunks)
	assert.InDelta(t, 1.5, stats.AvgChunkLen, 1e-9)
}

func TestMemoryStore_BatchIndexReplaces(t *testing.T) {
	s := NewMemoryStore()
	file := port.IndexedFile{
		Doc:      domain.Document{ID: "d1"},
		Chunks:   []domain.Chunk{{ID: "a", DocID: "d1", Tokens: []string{"x"}}},
		Postings: map[string]map[string]int{"x": {"a": 1}},
	}
	require.NoError(t, s.BatchIndex([]port.IndexedFile{file}))

	file.Chunks = []domain.Chunk{{ID: "b", DocID: "d1", Tokens: []string{"y"}}}
	file.Postings = map[string]map[string]int{"y": {"b": 1}}
	require.NoError(t, s.BatchIndex([]port.IndexedFile{file}))

	_, err := s.GetChunk("a")
	assert.ErrorIs(t, err, domain.ErrChunkNotFound)
	df, _ := s.DocFreq("x")
	assert.Zero(t, df)
	chunks, err := s.GetChunksByDoc("d1")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	_, err := s.SearchByVector(context.Background(), []float32{1}, 1, nil)
	assert.ErrorIs(t, err, domain.ErrIndexClosed)
}
