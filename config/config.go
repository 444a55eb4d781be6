package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for palicanon.
type Config struct {
	Index     IndexConfig     `yaml:"index"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Planner   PlannerConfig   `yaml:"planner"`
	Pack      PackConfig      `yaml:"pack"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// IndexConfig holds ingestion configuration.
type IndexConfig struct {
	DataDir      string   `yaml:"data_dir"`
	Includes     []string `yaml:"includes"`
	Excludes     []string `yaml:"excludes"`
	Stemming     bool     `yaml:"stemming"`
	ChunkSize    int      `yaml:"chunk_size"`    // characters
	ChunkOverlap int      `yaml:"chunk_overlap"` // characters
	K1           float64  `yaml:"k1"`
	B            float64  `yaml:"b"`
	Workers      int      `yaml:"workers"`
}

// RetrieveConfig holds retrieval and ranking knobs.
type RetrieveConfig struct {
	TopK            int           `yaml:"top_k"`
	MinNeeded       int           `yaml:"min_needed"` // broaden when phase A yields fewer hits
	MinHits         int           `yaml:"min_hits"`   // pack refuses below this
	FetchMultiplier int           `yaml:"fetch_multiplier"`
	MMRLambda       float64       `yaml:"mmr_lambda"`
	LexicalWeight   float64       `yaml:"lexical_weight"`
	BasketBonus     float64       `yaml:"basket_bonus"`
	NikayaBonus     float64       `yaml:"nikaya_bonus"`
	CacheSize       int           `yaml:"cache_size"` // 0 disables the query cache
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "ollama", "openai", "hash"
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// PlannerConfig points at the canonical alias tables.
type PlannerConfig struct {
	AliasCSV   string `yaml:"alias_csv"`
	AliasYAML  string `yaml:"alias_yaml"`
	AliasLimit int    `yaml:"alias_limit"`
}

// PackConfig holds context packing configuration.
type PackConfig struct {
	TokenBudget int    `yaml:"token_budget"`
	Output      string `yaml:"output"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			DataDir:      ".",
			Includes:     []string{"**/*.txt", "**/*.md"},
			Excludes:     []string{"**/.palicanon/**", "**/.git/**", "**/ocr_cache/**"},
			Stemming:     true,
			ChunkSize:    800,
			ChunkOverlap: 120,
			K1:           1.2,
			B:            0.75,
			Workers:      4,
		},
		Retrieve: RetrieveConfig{
			TopK:            8,
			MinNeeded:       4,
			MinHits:         2,
			FetchMultiplier: 4,
			MMRLambda:       0.5,
			LexicalWeight:   0.05,
			BasketBonus:     0.10,
			NikayaBonus:     0.10,
			CacheSize:       128,
			CacheTTL:        5 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			BaseURL:   "http://localhost:11434/v1",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 768,
			BatchSize: 64,
		},
		Planner: PlannerConfig{
			AliasLimit: 3,
		},
		Pack: PackConfig{
			TokenBudget: 4000,
			Output:      "json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.applyEnv() // Defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a corpus directory (looks for palicanon.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "palicanon.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".palicanon", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envInts maps the environment knobs of the command-line tools onto config fields.
func (c *Config) envInts() map[string]*int {
	return map[string]*int{
		"TOP_K":          &c.Retrieve.TopK,
		"RAG_MIN_NEEDED": &c.Retrieve.MinNeeded,
		"RAG_MIN_HITS":   &c.Retrieve.MinHits,
		"CHUNK_SIZE":     &c.Index.ChunkSize,
		"CHUNK_OVERLAP":  &c.Index.ChunkOverlap,
	}
}

func (c *Config) applyEnv() error {
	for name, field := range c.envInts() {
		raw, ok := os.LookupEnv(name)
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, name, raw)
		}
		*field = v
	}
	if v := os.Getenv("PALI_EMBED_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("PALI_ALIAS_CSV"); v != "" {
		c.Planner.AliasCSV = v
	}
	return nil
}

// Validate checks numeric ranges. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	r := c.Retrieve
	check(r.TopK > 0 && r.TopK <= 100, "top_k out of range (1..100): %d", r.TopK)
	check(r.MinNeeded >= 0 && r.MinNeeded <= 100, "min_needed out of range (0..100): %d", r.MinNeeded)
	check(r.MinHits >= 0 && r.MinHits <= 100, "min_hits out of range (0..100): %d", r.MinHits)
	check(r.FetchMultiplier >= 2, "fetch_multiplier must be >= 2: %d", r.FetchMultiplier)
	check(r.MMRLambda >= 0 && r.MMRLambda <= 1, "mmr_lambda out of range [0,1]: %g", r.MMRLambda)
	check(r.LexicalWeight >= 0, "lexical_weight must be >= 0: %g", r.LexicalWeight)
	check(r.BasketBonus >= 0 && r.NikayaBonus >= 0, "bias bonuses must be >= 0")

	ix := c.Index
	check(ix.ChunkSize >= 100 && ix.ChunkSize <= 10000, "chunk_size out of range (100..10000): %d", ix.ChunkSize)
	check(ix.ChunkOverlap >= 0, "chunk_overlap must be >= 0: %d", ix.ChunkOverlap)
	check(ix.ChunkOverlap < ix.ChunkSize, "chunk_overlap must be < chunk_size (overlap=%d, size=%d)", ix.ChunkOverlap, ix.ChunkSize)

	check(c.Embedding.Dimension > 0, "embedding dimension must be > 0: %d", c.Embedding.Dimension)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IndexDBPath returns the path to the index database.
func IndexDBPath(dir string) string {
	return filepath.Join(dir, ".palicanon", "index.db")
}

// EnsureDir ensures the .palicanon directory exists.
func EnsureDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".palicanon"), 0755)
}
