// Package rerank defines the cross-encoder interface used after score fusion.
// The reranker re-scores fused candidates against the original user query and
// keeps the top N; its top score drives the confidence verdict.
package rerank

import (
	"context"
	"sort"

	"github.com/l88labs/paramanandha/document"
)

// Reranker re-scores chunks against the query. Implementations return at most
// topN chunks sorted by RerankScore descending, with RerankScore set on every
// returned chunk.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []document.Chunk, topN int) ([]document.Chunk, error)
}

// Func adapts a function to the Reranker interface, for tests and stubs.
type Func func(ctx context.Context, query string, chunks []document.Chunk, topN int) ([]document.Chunk, error)

// Rerank implements Reranker.
func (f Func) Rerank(ctx context.Context, query string, chunks []document.Chunk, topN int) ([]document.Chunk, error) {
	return f(ctx, query, chunks, topN)
}

// TopScore returns the highest rerank score among chunks, or 0 when empty.
func TopScore(chunks []document.Chunk) float32 {
	var top float32
	for _, c := range chunks {
		if c.RerankScore > top {
			top = c.RerankScore
		}
	}
	return top
}

// FusedOrder sorts chunks by their fused retrieval score descending, copies
// the fused score into RerankScore and truncates to topN. It is the
// degradation path when no cross-encoder is reachable.
func FusedOrder(chunks []document.Chunk, topN int) []document.Chunk {
	out := make([]document.Chunk, len(chunks))
	copy(out, chunks)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	for i := range out {
		out[i].RerankScore = out[i].Score
	}
	return out
}
