package pipeline

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"

	"github.com/l88labs/paramanandha/config"
	"github.com/l88labs/paramanandha/document"
	"github.com/l88labs/paramanandha/embed"
	"github.com/l88labs/paramanandha/errors"
	"github.com/l88labs/paramanandha/index"
	"github.com/l88labs/paramanandha/ingest"
	"github.com/l88labs/paramanandha/rerank"
	"github.com/l88labs/paramanandha/storage"
)

// retriever runs hybrid search over a session's corpus, or over the shared
// library in web mode, and reranks the survivors.
type retriever struct {
	cfg      config.Config
	embedder embed.Embedder
	reranker rerank.Reranker
	locks    *storage.Locks
	logger   *slog.Logger
}

// retrieve searches every rewritten query, deduplicates across queries and
// returns the reranked top chunks with the best rerank score. Web mode
// searches only the library's dense index; otherwise the session's dense and
// sparse indexes are searched and their scores fused.
func (r *retriever) retrieve(ctx context.Context, s *state) ([]document.Chunk, float32, error) {
	vectors, err := r.embedder.Embed(ctx, s.Queries, true)
	if err != nil {
		return nil, 0, err
	}

	weight := r.cfg.BM25Weight(s.QueryType)
	selected := make(map[string]struct{}, len(s.SelectedDocIDs))
	for _, id := range s.SelectedDocIDs {
		selected[id] = struct{}{}
	}

	var libraryDense *index.Dense
	var sessionDense *index.Dense
	var sessionSparse *index.Sparse
	if s.WebMode {
		libraryDense, _ = r.loadCorpus(ingest.LibraryKey, r.cfg.LibraryDir())
	} else {
		sessionDense, sessionSparse = r.loadCorpus(s.SessionID, r.cfg.SessionDir(s.SessionID))
	}

	seen := make(map[document.Key]struct{})
	var candidates []document.Chunk
	for qi, query := range s.Queries {
		var fused []document.Chunk
		if s.WebMode {
			fused, _ = libraryDense.Search(vectors[qi], r.cfg.RetrieveTopK)
		} else {
			var dense []document.Chunk
			if hits, err := sessionDense.Search(vectors[qi], r.cfg.RetrieveTopK); err == nil {
				dense = hits
			}
			sparse := sessionSparse.Search(query, r.cfg.RetrieveTopK)
			fused = fuse(dense, sparse, weight)
		}

		for _, ch := range fused {
			// A session chunk from an unselected document is out of scope;
			// library chunks always stay.
			if ch.Source == document.SourceSession {
				if _, ok := selected[ch.DocID]; !ok {
					continue
				}
			}
			key := ch.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			candidates = append(candidates, ch)
		}
	}

	if len(candidates) == 0 {
		return nil, 0, nil
	}

	top, err := r.reranker.Rerank(ctx, s.Query, candidates, r.cfg.RerankTopN)
	if err != nil {
		return nil, 0, err
	}
	return top, rerank.TopScore(top), nil
}

// fuse linearly combines dense and BM25 scores for one query, zero-filling
// the side that missed a chunk. When an entire side came back empty the
// other side carries the full weight.
func fuse(dense, sparse []document.Chunk, bm25Weight float32) []document.Chunk {
	denseWeight := 1 - bm25Weight
	if len(dense) == 0 && len(sparse) > 0 {
		denseWeight, bm25Weight = 0, 1
	} else if len(sparse) == 0 && len(dense) > 0 {
		denseWeight, bm25Weight = 1, 0
	}

	denseBy := make(map[document.Key]document.Chunk, len(dense))
	for _, ch := range dense {
		denseBy[ch.Key()] = ch
	}

	merged := make(map[document.Key]document.Chunk, len(dense)+len(sparse))
	for _, ch := range dense {
		ch.Score = denseWeight * ch.Score
		merged[ch.Key()] = ch
	}
	for _, ch := range sparse {
		if d, ok := denseBy[ch.Key()]; ok {
			d.BM25Score = ch.BM25Score
			d.Score = denseWeight*d.Score + bm25Weight*ch.BM25Score
			merged[ch.Key()] = d
			continue
		}
		ch.Score = bm25Weight * ch.BM25Score
		merged[ch.Key()] = ch
	}

	out := make([]document.Chunk, 0, len(merged))
	for _, ch := range merged {
		out = append(out, ch)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		// Stable tie-break so fusion order is deterministic.
		if out[i].DocID != out[j].DocID {
			return out[i].DocID < out[j].DocID
		}
		return out[i].ChunkIdx < out[j].ChunkIdx
	})
	return out
}

// loadCorpus reads a corpus's indexes under its read lock. Missing or
// corrupt indexes degrade to empty ones; the raw documents remain the data
// of record.
func (r *retriever) loadCorpus(lockKey, corpusDir string) (*index.Dense, *index.Sparse) {
	lock := r.locks.Get(lockKey)
	lock.RLock()
	defer lock.RUnlock()

	indexDir := storage.IndexDir(corpusDir)
	dense, err := index.LoadDense(indexDir, r.embedder.Dimension())
	if err != nil {
		if stderrors.Is(err, errors.ErrCorruptIndex) {
			r.logger.Warn("dense index corrupt, searching empty", "dir", indexDir, "error", err)
		}
		dense = index.NewDense(r.embedder.Dimension())
	}
	sparse, err := index.LoadSparse(indexDir)
	if err != nil {
		if stderrors.Is(err, errors.ErrCorruptIndex) {
			r.logger.Warn("bm25 index corrupt, searching empty", "dir", indexDir, "error", err)
		}
		sparse = index.NewSparse()
	}
	return dense, sparse
}
