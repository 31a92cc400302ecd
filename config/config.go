// Package config is the single source of truth for every tunable of the
// engine: ingestion, retrieval, pipeline retry bounds, model endpoints and
// cache lifetime.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// LLMProfile describes one pre-configured context profile of the chat model.
type LLMProfile struct {
	Model     string
	MaxTokens int64
}

// Config carries all knobs. Zero values are filled by Default; callers are
// expected to run Validate before wiring components.
type Config struct {
	// StorageRoot holds sessions/<id>/{docs,index} and library/{docs,index}.
	StorageRoot string

	// Ingestion.
	ChunkSize    int // tokens per chunk
	ChunkOverlap int // token overlap between chunks

	// Retrieval.
	RetrieveTopK  int // dense/sparse candidates per query
	RerankTopN    int // final chunks after reranking
	MaxRewrites   int // retry loops (0, 1, 2)
	MaxAltQueries int // rewritten queries per pass

	// Score fusion and self-evaluation.
	SimpleBM25Weight    float32 // BM25 share for simple queries
	DefaultBM25Weight   float32 // BM25 share for multi_hop/math/comparison
	ConfidenceThreshold float32 // rerank score for GOOD / confident
	UnsureThreshold     float32 // rerank score for UNSURE

	// Summarizer context budget, characters.
	SummaryBudget int

	// Query cache.
	CacheTTL time.Duration

	// Chat model. BaseURL points at any OpenAI-compatible endpoint.
	LLMBaseURL string
	LLMAPIKey  string
	LLMTemp    float64
	LLMFull    LLMProfile
	LLMSmall   LLMProfile

	// Embedding model.
	EmbedBaseURL   string
	EmbedAPIKey    string
	EmbedModel     string
	EmbedDimension int

	// Cross-encoder reranker endpoint.
	RerankEndpoint string
	RerankAPIKey   string
	RerankModel    string
}

// Default returns the stock configuration. The numeric values mirror what the
// retrieval quality was tuned against; change them here, not at call sites.
func Default() Config {
	return Config{
		StorageRoot: "storage",

		ChunkSize:    380,
		ChunkOverlap: 45,

		RetrieveTopK:  20,
		RerankTopN:    5,
		MaxRewrites:   2,
		MaxAltQueries: 3,

		SimpleBM25Weight:    0.6,
		DefaultBM25Weight:   0.2,
		ConfidenceThreshold: 0.7,
		UnsureThreshold:     0.4,

		SummaryBudget: 12000,

		CacheTTL: time.Hour,

		LLMBaseURL: envOr("PARAMANANDHA_LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMAPIKey:  os.Getenv("PARAMANANDHA_LLM_API_KEY"),
		LLMTemp:    0,
		LLMFull:    LLMProfile{Model: envOr("PARAMANANDHA_LLM_MODEL", "qwen2.5:7b"), MaxTokens: 8192},
		LLMSmall:   LLMProfile{Model: envOr("PARAMANANDHA_LLM_MODEL", "qwen2.5:7b"), MaxTokens: 2048},

		EmbedBaseURL:   envOr("PARAMANANDHA_EMBED_BASE_URL", "http://localhost:11434/v1"),
		EmbedAPIKey:    os.Getenv("PARAMANANDHA_EMBED_API_KEY"),
		EmbedModel:     envOr("PARAMANANDHA_EMBED_MODEL", "bge-base-en-v1.5"),
		EmbedDimension: 768,

		RerankEndpoint: envOr("PARAMANANDHA_RERANK_ENDPOINT", "http://localhost:8081/rerank"),
		RerankAPIKey:   os.Getenv("PARAMANANDHA_RERANK_API_KEY"),
		RerankModel:    envOr("PARAMANANDHA_RERANK_MODEL", "bge-reranker-v2-m3"),
	}
}

// BM25Weight returns the sparse share of the fused score for a query type.
// The dense share is 1 minus this value.
func (c Config) BM25Weight(queryType string) float32 {
	if queryType == "simple" {
		return c.SimpleBM25Weight
	}
	return c.DefaultBM25Weight
}

// SessionDir returns the storage directory of one session.
func (c Config) SessionDir(sessionID string) string {
	return filepath.Join(c.StorageRoot, "sessions", sessionID)
}

// LibraryDir returns the storage directory of the shared library.
func (c Config) LibraryDir() string {
	return filepath.Join(c.StorageRoot, "library")
}

// Validate checks every knob the engine depends on.
func (c Config) Validate() error {
	v := NewValidator()

	v.RequireNonEmpty("storageRoot", c.StorageRoot)
	v.RequirePositive("chunkSize", c.ChunkSize)
	v.ValidateRange("chunkOverlap", c.ChunkOverlap, 0, c.ChunkSize-1)
	v.RequirePositive("retrieveTopK", c.RetrieveTopK)
	v.RequirePositive("rerankTopN", c.RerankTopN)
	v.ValidateRange("maxRewrites", c.MaxRewrites, 0, 10)
	v.ValidateRange("maxAltQueries", c.MaxAltQueries, 1, 10)
	v.ValidateFloatRange("simpleBM25Weight", float64(c.SimpleBM25Weight), 0, 1)
	v.ValidateFloatRange("defaultBM25Weight", float64(c.DefaultBM25Weight), 0, 1)
	v.ValidateFloatRange("confidenceThreshold", float64(c.ConfidenceThreshold), 0, 1)
	v.ValidateFloatRange("unsureThreshold", float64(c.UnsureThreshold), 0, float64(c.ConfidenceThreshold))
	v.RequirePositive("summaryBudget", c.SummaryBudget)
	v.RequirePositive("embedDimension", c.EmbedDimension)
	v.RequireNonEmpty("llmFull.model", c.LLMFull.Model)
	v.RequireNonEmpty("llmSmall.model", c.LLMSmall.Model)

	return v.Error()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
