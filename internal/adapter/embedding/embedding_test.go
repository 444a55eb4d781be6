package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palicanon/config"
	"palicanon/internal/adapter/analyzer"
)

func cos(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(128, analyzer.NewTokenizer(true))

	vecs, err := e.Embed(context.Background(), []string{
		"the eye is burning, forms are burning",
		"the eye is burning with the fire of lust",
		"rules for the robes of a monk",
		"",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 4)
	for _, v := range vecs {
		assert.Len(t, v, 128)
	}

	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	assert.Greater(t, cos(vecs[0], vecs[1]), cos(vecs[0], vecs[2]))

	again, err := e.Embed(context.Background(), []string{"the eye is burning, forms are burning"})
	require.NoError(t, err)
	assert.Equal(t, vecs[0], again[0], "embedding is deterministic")
}

func TestHashEmbedder_CanceledContext(t *testing.T) {
	e := NewHashEmbedder(16, analyzer.NewTokenizer(false))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	cfg := config.DefaultConfig().Embedding
	cfg.Provider = "hash"
	cfg.Dimension = 64
	e, err := New(cfg, analyzer.NewTokenizer(true))
	require.NoError(t, err)
	assert.Equal(t, 64, e.Dimension())
	assert.Equal(t, "hash", e.ModelName())

	cfg.Provider = "ollama"
	e, err = New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", e.ModelName())
	assert.Equal(t, 768, e.Dimension())

	cfg.Provider = "openai"
	cfg.APIKeyEnv = "PALICANON_TEST_MISSING_KEY"
	t.Setenv("PALICANON_TEST_MISSING_KEY", "")
	_, err = New(cfg, nil)
	assert.Error(t, err)

	cfg.Provider = "word2vec"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}
