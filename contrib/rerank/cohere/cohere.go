// Package cohere implements rerank.Reranker against the Cohere ReRank wire
// format, which local cross-encoder servers (TEI, Infinity) also speak.
package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/l88labs/paramanandha/config"
	"github.com/l88labs/paramanandha/document"
	"github.com/l88labs/paramanandha/pkg/logging"
	"github.com/l88labs/paramanandha/rerank"
)

// Client calls a ReRank-compatible HTTP endpoint. When the endpoint is
// unreachable or returns garbage, the client degrades to fused-score order so
// a dead reranker slows answers down instead of killing them.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customises the reranker client.
type Option func(*Client)

// WithHTTPClient swaps the HTTP client (useful for timeouts or proxies).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a reranker client from the configured endpoint and model.
func New(cfg config.Config, opts ...Option) *Client {
	c := &Client{
		endpoint:   cfg.RerankEndpoint,
		apiKey:     cfg.RerankAPIKey,
		model:      cfg.RerankModel,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logging.WithComponent("rerank.cohere"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float32 `json:"score"`
	} `json:"results"`
}

// Rerank implements rerank.Reranker.
func (c *Client) Rerank(ctx context.Context, query string, chunks []document.Chunk, topN int) ([]document.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if c.endpoint == "" {
		return rerank.FusedOrder(chunks, topN), nil
	}

	docTexts := make([]string, len(chunks))
	for i, ch := range chunks {
		docTexts[i] = ch.Text
	}

	payload := rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: docTexts,
		TopN:      topN,
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fallback(chunks, topN, err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return c.fallback(chunks, topN, fmt.Errorf("rerank failed: status %d", resp.StatusCode)), nil
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return c.fallback(chunks, topN, err), nil
	}

	results := make([]document.Chunk, 0, len(rr.Results))
	for _, res := range rr.Results {
		if res.Index < 0 || res.Index >= len(chunks) {
			continue
		}
		ch := chunks[res.Index]
		ch.RerankScore = res.Score
		results = append(results, ch)
	}
	if len(results) == 0 {
		return c.fallback(chunks, topN, fmt.Errorf("rerank returned no results")), nil
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RerankScore > results[j].RerankScore
	})
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

func (c *Client) fallback(chunks []document.Chunk, topN int, cause error) []document.Chunk {
	c.logger.Warn("reranker unavailable, using fused-score order", "error", cause)
	return rerank.FusedOrder(chunks, topN)
}
