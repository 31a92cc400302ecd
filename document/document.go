// Package document holds the central data model shared by ingestion,
// indexing, retrieval and generation: pages produced by the parser and the
// chunks that every index and the pipeline operate on.
package document

import "strings"

// Source tags where a chunk or document lives.
type Source string

const (
	// SourceSession marks content owned by a single session.
	SourceSession Source = "session"
	// SourceLibrary marks content in the shared, admin-curated library.
	SourceLibrary Source = "library"
)

// Page is one cleaned page of an ingested document, 1-indexed.
type Page struct {
	Text     string `json:"text"`
	Page     int    `json:"page"`
	Filename string `json:"filename"`
}

// Chunk is the unit of retrieval: an overlapping, token-bounded slice of a
// document. DocID+ChunkIdx is globally unique and is the deduplication key
// across retrieval sources. Score fields are transient and filled during
// retrieval; they are persisted as zero.
type Chunk struct {
	Text     string `json:"text"`
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
	Page     int    `json:"page"`
	ChunkIdx int    `json:"chunk_idx"`
	Source   Source `json:"source"`

	Score       float32 `json:"score,omitempty"`
	BM25Score   float32 `json:"bm25_score,omitempty"`
	RerankScore float32 `json:"rerank_score,omitempty"`
}

// Key identifies a chunk across indexes and rewritten queries.
type Key struct {
	DocID    string
	ChunkIdx int
}

// Key returns the deduplication key for the chunk.
func (c Chunk) Key() Key {
	return Key{DocID: c.DocID, ChunkIdx: c.ChunkIdx}
}

// Excerpt returns the first limit runes of the chunk text, for citations.
func (c Chunk) Excerpt(limit int) string {
	text := strings.TrimSpace(c.Text)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
