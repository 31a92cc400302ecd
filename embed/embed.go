// Package embed defines the embedding interface used by ingestion and
// retrieval. Vectors returned by an Embedder are unit-normalized, so inner
// product equals cosine similarity everywhere downstream.
package embed

import (
	"context"
	"math"
)

// Embedder turns texts into dense vectors. When query is true the
// implementation may apply a model-specific query prefix; document embeddings
// are produced with query false.
type Embedder interface {
	Embed(ctx context.Context, texts []string, query bool) ([][]float32, error)
	Dimension() int
}

// Normalize scales v to unit L2 norm in place and returns it. Zero vectors
// are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
