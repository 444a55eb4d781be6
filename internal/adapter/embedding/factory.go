package embedding

import (
	"fmt"

	"palicanon/config"
	"palicanon/internal/port"
)

// New builds the embedder named by cfg.Provider.
func New(cfg config.EmbeddingConfig, tokenizer port.Tokenizer) (port.Embedder, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaEmbedder(cfg.Model, cfg.BaseURL, cfg.Dimension, cfg.BatchSize)
	case "openai":
		return NewOpenAICompatibleEmbedder(cfg.APIKeyEnv, cfg.Model, cfg.BaseURL, cfg.Dimension, cfg.BatchSize)
	case "hash":
		return NewHashEmbedder(cfg.Dimension, tokenizer), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
