// Package chunk splits cleaned pages into overlapping, token-bounded chunks.
// Splitting prefers natural boundaries in order: paragraph breaks, line
// breaks, sentence ends, spaces, and only as a last resort mid-word.
package chunk

import (
	"strings"

	"github.com/l88labs/paramanandha/document"
)

// Abbreviations that end with a period but do not end a sentence.
var abbreviations = map[string]struct{}{
	"al":   {},
	"etc":  {},
	"e.g":  {},
	"i.e":  {},
	"fig":  {},
	"figs": {},
	"eq":   {},
	"sec":  {},
	"no":   {},
	"vs":   {},
	"cf":   {},
	"dr":   {},
	"mr":   {},
	"mrs":  {},
	"ms":   {},
	"prof": {},
	"st":   {},
	"vol":  {},
	"pp":   {},
}

// Sentences splits text at sentence-ending punctuation followed by
// whitespace, keeping abbreviations like "et al." and "Fig. 3" intact.
func Sentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '?' && r != '!' {
			continue
		}
		if i+1 < len(runes) && !isSpace(runes[i+1]) {
			continue
		}
		if r == '.' && !sentenceEndsAt(runes, start, i) {
			continue
		}
		end := i + 1
		sent := strings.TrimSpace(string(runes[start:end]))
		if sent != "" {
			out = append(out, sent)
		}
		start = end
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// sentenceEndsAt reports whether the period at position i closes a sentence
// rather than an abbreviation or a single-letter initial.
func sentenceEndsAt(runes []rune, start, i int) bool {
	// Word immediately before the period.
	w := i
	for w > start && !isSpace(runes[w-1]) {
		w--
	}
	word := strings.ToLower(strings.TrimRight(string(runes[w:i]), "."))
	word = strings.TrimLeft(word, "(\"'")
	if _, abbr := abbreviations[word]; abbr {
		return false
	}
	// Single-letter initials: "J. Smith".
	if len([]rune(word)) == 1 {
		return false
	}
	return true
}

// Splitter produces token-bounded chunks with overlap.
type Splitter struct {
	size    int
	overlap int
	counter TokenCounter
}

// NewSplitter creates a splitter producing chunks of at most size tokens with
// the given overlap between consecutive chunks.
func NewSplitter(size, overlap int, counter TokenCounter) *Splitter {
	if counter == nil {
		counter = NewTiktoken()
	}
	return &Splitter{size: size, overlap: overlap, counter: counter}
}

// SplitPages chunks every page and stamps the chunks with document identity.
// Chunk indexes run contiguously across the whole document.
func (s *Splitter) SplitPages(pages []document.Page, docID string, source document.Source) []document.Chunk {
	var chunks []document.Chunk
	idx := 0
	for _, page := range pages {
		for _, text := range s.SplitText(page.Text) {
			chunks = append(chunks, document.Chunk{
				Text:     text,
				DocID:    docID,
				Filename: page.Filename,
				Page:     page.Page,
				ChunkIdx: idx,
				Source:   source,
			})
			idx++
		}
	}
	return chunks
}

// SplitText splits text into chunks of at most the configured token size.
// Consecutive chunks share roughly the configured overlap of trailing tokens.
func (s *Splitter) SplitText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.counter.Count(text) <= s.size {
		return []string{text}
	}

	segments := s.segments(text)
	return s.pack(segments)
}

// segments breaks text into pieces that each fit the chunk size, preferring
// the largest natural boundary that works.
func (s *Splitter) segments(text string) []string {
	var out []string
	for _, para := range splitKeep(text, "\n\n") {
		if s.counter.Count(para) <= s.size {
			out = append(out, para)
			continue
		}
		for _, line := range splitKeep(para, "\n") {
			if s.counter.Count(line) <= s.size {
				out = append(out, line)
				continue
			}
			for _, sent := range Sentences(line) {
				if s.counter.Count(sent) <= s.size {
					out = append(out, sent)
					continue
				}
				out = append(out, s.splitWords(sent)...)
			}
		}
	}
	return out
}

// splitWords handles a single oversized sentence: group words up to the
// chunk size, hard-splitting any single word longer than the budget.
func (s *Splitter) splitWords(sent string) []string {
	var out []string
	var cur strings.Builder
	curTokens := 0
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curTokens = 0
		}
	}
	for _, word := range strings.Fields(sent) {
		wt := s.counter.Count(word)
		if wt > s.size {
			flush()
			runes := []rune(word)
			// Budget in runes, heuristically four per token.
			step := s.size * 4
			if step < 1 {
				step = 1
			}
			for len(runes) > 0 {
				n := step
				if n > len(runes) {
					n = len(runes)
				}
				out = append(out, string(runes[:n]))
				runes = runes[n:]
			}
			continue
		}
		if curTokens+wt > s.size {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
		curTokens += wt
	}
	flush()
	return out
}

// pack greedily joins segments into chunks up to the size budget, seeding
// each new chunk with the trailing segments of the previous one up to the
// overlap budget.
func (s *Splitter) pack(segments []string) []string {
	var chunks []string
	var cur []string
	curTokens := 0

	emit := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(cur, " "))

		var carry []string
		carryTokens := 0
		for i := len(cur) - 1; i >= 0; i-- {
			t := s.counter.Count(cur[i])
			if carryTokens+t > s.overlap {
				break
			}
			carry = append([]string{cur[i]}, carry...)
			carryTokens += t
		}
		cur = carry
		curTokens = carryTokens
	}

	for _, seg := range segments {
		t := s.counter.Count(seg)
		if curTokens+t > s.size && len(cur) > 0 {
			emit()
		}
		cur = append(cur, seg)
		curTokens += t
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, " "))
	}

	// The overlap carry can leave a final chunk that is pure repetition of
	// the previous one; drop it.
	if n := len(chunks); n >= 2 && strings.Contains(chunks[n-2], chunks[n-1]) {
		chunks = chunks[:n-1]
	}
	return chunks
}

// splitKeep splits on sep, trims each piece and drops empties.
func splitKeep(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
