// Package openai implements embed.Embedder on any OpenAI-compatible
// embeddings endpoint.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/l88labs/paramanandha/config"
	"github.com/l88labs/paramanandha/embed"
	"github.com/l88labs/paramanandha/pkg/logging"
)

// queryPrefix is the BGE family instruction for retrieval queries. Documents
// are embedded without it.
const queryPrefix = "Represent this sentence for searching relevant passages: "

// Embedder calls an OpenAI-compatible embeddings API.
type Embedder struct {
	api       openai.Client
	model     string
	dimension int
	logger    *slog.Logger
}

// Option configures the embedder.
type Option func(*Embedder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Embedder) {
		e.logger = logger
	}
}

// New creates an embedder from the configured endpoint and model.
func New(cfg config.Config, opts ...Option) *Embedder {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.EmbedAPIKey),
	}
	if cfg.EmbedBaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.EmbedBaseURL))
	}

	e := &Embedder{
		api:       openai.NewClient(reqOpts...),
		model:     cfg.EmbedModel,
		dimension: cfg.EmbedDimension,
		logger:    logging.WithComponent("embedder.openai"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed implements embed.Embedder. Returned vectors are unit-normalized.
func (e *Embedder) Embed(ctx context.Context, texts []string, query bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := texts
	if query {
		inputs = make([]string, len(texts))
		for i, t := range texts {
			if strings.HasPrefix(t, queryPrefix) {
				inputs[i] = t
				continue
			}
			inputs[i] = queryPrefix + t
		}
	}

	resp, err := e.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: inputs,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(inputs))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		vectors[i] = embed.Normalize(v)
	}

	e.logger.Debug("embedded batch", "model", e.model, "texts", len(texts), "query", query)
	return vectors, nil
}

// Dimension implements embed.Embedder.
func (e *Embedder) Dimension() int {
	return e.dimension
}
