// Package index holds the two retrieval indexes of a corpus: an exact
// inner-product dense index and a BM25 sparse index. Both persist to flat
// files inside a corpus directory and are committed atomically, so a crash
// mid-write leaves the previous generation intact.
package index

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/l88labs/paramanandha/document"
	"github.com/l88labs/paramanandha/errors"
)

const (
	denseVectorsFile  = "index.dense"
	denseMetadataFile = "metadata.json"
)

// Dense is an exact inner-product index. Vectors are expected unit-normalized
// so inner product equals cosine similarity. Search is a linear scan, which
// is exact and fast enough for per-session corpora.
type Dense struct {
	dimension int
	vectors   [][]float32
	chunks    []document.Chunk
}

// NewDense creates an empty dense index for vectors of the given dimension.
func NewDense(dimension int) *Dense {
	return &Dense{dimension: dimension}
}

// Count returns the number of indexed vectors.
func (d *Dense) Count() int {
	return len(d.vectors)
}

// Chunks returns the indexed chunk metadata in insertion order.
func (d *Dense) Chunks() []document.Chunk {
	return d.chunks
}

// Add appends vectors with their chunk metadata. Vectors and chunks must be
// parallel slices.
func (d *Dense) Add(vectors [][]float32, chunks []document.Chunk) error {
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: %d vectors for %d chunks", errors.ErrInvalidInput, len(vectors), len(chunks))
	}
	for _, v := range vectors {
		if len(v) != d.dimension {
			return fmt.Errorf("%w: vector dimension %d, index dimension %d", errors.ErrInvalidInput, len(v), d.dimension)
		}
	}
	d.vectors = append(d.vectors, vectors...)
	d.chunks = append(d.chunks, chunks...)
	return nil
}

// Search returns the topK chunks by inner product with the query vector,
// highest first, with Score set on each returned chunk.
func (d *Dense) Search(query []float32, topK int) ([]document.Chunk, error) {
	if len(query) != d.dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", errors.ErrInvalidInput, len(query), d.dimension)
	}
	if len(d.vectors) == 0 || topK <= 0 {
		return nil, nil
	}

	type scored struct {
		idx   int
		score float32
	}
	results := make([]scored, len(d.vectors))
	for i, v := range d.vectors {
		var dot float32
		for j := range v {
			dot += v[j] * query[j]
		}
		results[i] = scored{idx: i, score: dot}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	out := make([]document.Chunk, len(results))
	for i, r := range results {
		ch := d.chunks[r.idx]
		ch.Score = r.score
		out[i] = ch
	}
	return out, nil
}

type denseSnapshot struct {
	Dimension int
	Vectors   [][]float32
}

// Save persists the index into dir atomically.
func (d *Dense) Save(dir string) error {
	st, err := newStager(dir)
	if err != nil {
		return err
	}
	if err := d.stage(st); err != nil {
		return err
	}
	return st.commit()
}

func (d *Dense) stage(st *stager) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(denseSnapshot{
		Dimension: d.dimension,
		Vectors:   d.vectors,
	}); err != nil {
		st.abort()
		return fmt.Errorf("encode dense vectors: %w", err)
	}
	if err := st.stage(denseVectorsFile, buf.Bytes()); err != nil {
		return err
	}

	meta, err := json.Marshal(d.chunks)
	if err != nil {
		st.abort()
		return fmt.Errorf("encode chunk metadata: %w", err)
	}
	return st.stage(denseMetadataFile, meta)
}

// LoadDense reads a dense index from dir. A missing index is not an error:
// it returns an empty index of the given dimension. A present but unreadable
// index returns ErrCorruptIndex.
func LoadDense(dir string, dimension int) (*Dense, error) {
	raw, err := os.ReadFile(filepath.Join(dir, denseVectorsFile))
	if os.IsNotExist(err) {
		return NewDense(dimension), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dense index: %w", err)
	}

	var snap denseSnapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: dense vectors: %v", errors.ErrCorruptIndex, err)
	}

	meta, err := os.ReadFile(filepath.Join(dir, denseMetadataFile))
	if err != nil {
		return nil, fmt.Errorf("%w: chunk metadata: %v", errors.ErrCorruptIndex, err)
	}
	var chunks []document.Chunk
	if err := json.Unmarshal(meta, &chunks); err != nil {
		return nil, fmt.Errorf("%w: chunk metadata: %v", errors.ErrCorruptIndex, err)
	}
	if len(chunks) != len(snap.Vectors) {
		return nil, fmt.Errorf("%w: %d chunks for %d vectors", errors.ErrCorruptIndex, len(chunks), len(snap.Vectors))
	}

	return &Dense{
		dimension: snap.Dimension,
		vectors:   snap.Vectors,
		chunks:    chunks,
	}, nil
}
