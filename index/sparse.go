package index

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/l88labs/paramanandha/document"
	"github.com/l88labs/paramanandha/errors"
)

const (
	bm25StatsFile  = "bm25.json"
	bm25ChunksFile = "bm25_chunks.json"

	bm25K1 = 1.6
	bm25B  = 0.75
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"if": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {}, "no": {},
	"not": {}, "of": {}, "on": {}, "or": {}, "such": {}, "that": {},
	"the": {}, "their": {}, "then": {}, "there": {}, "these": {}, "they": {},
	"this": {}, "to": {}, "was": {}, "were": {}, "will": {}, "with": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "how": {},
}

// Tokenize lowercases text and splits it into index terms. Hyphens and
// underscores stay inside a term so identifiers like "self-attention" and
// "doc_id" survive. Stopwords and single-rune terms are dropped.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := strings.Trim(cur.String(), "-_")
		cur.Reset()
		if len([]rune(tok)) <= 1 {
			return
		}
		if _, stop := stopwords[tok]; stop {
			return
		}
		tokens = append(tokens, tok)
	}
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			cur.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// Sparse is a BM25 index over chunk text.
type Sparse struct {
	chunks    []document.Chunk
	termFreqs []map[string]int
	docLens   []int
	docFreq   map[string]int
	totalLen  int
}

// NewSparse creates an empty BM25 index.
func NewSparse() *Sparse {
	return &Sparse{docFreq: make(map[string]int)}
}

// Count returns the number of indexed chunks.
func (s *Sparse) Count() int {
	return len(s.chunks)
}

// Add indexes chunks by their text.
func (s *Sparse) Add(chunks []document.Chunk) {
	for _, ch := range chunks {
		tokens := Tokenize(ch.Text)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok := range tf {
			s.docFreq[tok]++
		}
		s.chunks = append(s.chunks, ch)
		s.termFreqs = append(s.termFreqs, tf)
		s.docLens = append(s.docLens, len(tokens))
		s.totalLen += len(tokens)
	}
}

// Search scores all chunks against the query and returns the topK with a
// positive score, highest first, BM25Score set on each.
func (s *Sparse) Search(query string, topK int) []document.Chunk {
	if len(s.chunks) == 0 || topK <= 0 {
		return nil
	}
	qTokens := Tokenize(query)
	if len(qTokens) == 0 {
		return nil
	}

	n := float64(len(s.chunks))
	avgLen := float64(s.totalLen) / n

	type scored struct {
		idx   int
		score float64
	}
	var results []scored
	for i, tf := range s.termFreqs {
		var score float64
		dl := float64(s.docLens[i])
		for _, tok := range qTokens {
			f := float64(tf[tok])
			if f == 0 {
				continue
			}
			df := float64(s.docFreq[tok])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			score += idf * (f * (bm25K1 + 1)) / (f + bm25K1*(1-bm25B+bm25B*dl/avgLen))
		}
		if score > 0 {
			results = append(results, scored{idx: i, score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	out := make([]document.Chunk, len(results))
	for i, r := range results {
		ch := s.chunks[r.idx]
		ch.BM25Score = float32(r.score)
		out[i] = ch
	}
	return out
}

type sparseStats struct {
	TermFreqs []map[string]int `json:"term_freqs"`
	DocLens   []int            `json:"doc_lens"`
	DocFreq   map[string]int   `json:"doc_freq"`
	TotalLen  int              `json:"total_len"`
}

// Save persists the index into dir atomically.
func (s *Sparse) Save(dir string) error {
	st, err := newStager(dir)
	if err != nil {
		return err
	}
	if err := s.stage(st); err != nil {
		return err
	}
	return st.commit()
}

func (s *Sparse) stage(st *stager) error {
	stats, err := json.Marshal(sparseStats{
		TermFreqs: s.termFreqs,
		DocLens:   s.docLens,
		DocFreq:   s.docFreq,
		TotalLen:  s.totalLen,
	})
	if err != nil {
		st.abort()
		return fmt.Errorf("encode bm25 stats: %w", err)
	}
	if err := st.stage(bm25StatsFile, stats); err != nil {
		return err
	}

	chunks, err := json.Marshal(s.chunks)
	if err != nil {
		st.abort()
		return fmt.Errorf("encode bm25 chunks: %w", err)
	}
	return st.stage(bm25ChunksFile, chunks)
}

// LoadSparse reads a BM25 index from dir. A missing index returns an empty
// one; a present but unreadable index returns ErrCorruptIndex.
func LoadSparse(dir string) (*Sparse, error) {
	raw, err := os.ReadFile(filepath.Join(dir, bm25StatsFile))
	if os.IsNotExist(err) {
		return NewSparse(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bm25 index: %w", err)
	}

	var stats sparseStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("%w: bm25 stats: %v", errors.ErrCorruptIndex, err)
	}

	chunksRaw, err := os.ReadFile(filepath.Join(dir, bm25ChunksFile))
	if err != nil {
		return nil, fmt.Errorf("%w: bm25 chunks: %v", errors.ErrCorruptIndex, err)
	}
	var chunks []document.Chunk
	if err := json.Unmarshal(chunksRaw, &chunks); err != nil {
		return nil, fmt.Errorf("%w: bm25 chunks: %v", errors.ErrCorruptIndex, err)
	}
	if len(chunks) != len(stats.TermFreqs) || len(chunks) != len(stats.DocLens) {
		return nil, fmt.Errorf("%w: bm25 stats and chunks disagree", errors.ErrCorruptIndex)
	}

	s := &Sparse{
		chunks:    chunks,
		termFreqs: stats.TermFreqs,
		docLens:   stats.DocLens,
		docFreq:   stats.DocFreq,
		totalLen:  stats.TotalLen,
	}
	if s.docFreq == nil {
		s.docFreq = make(map[string]int)
	}
	return s, nil
}
