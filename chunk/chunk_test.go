package chunk

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/l88labs/paramanandha/document"
)

// wordCounter makes token budgets deterministic in tests: one token per word.
var wordCounter = CounterFunc(func(text string) int {
	return len(strings.Fields(text))
})

func TestSentences(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{
			"First sentence. Second sentence.",
			[]string{"First sentence.", "Second sentence."},
		},
		{
			"As shown by Smith et al. the effect holds. Next point.",
			[]string{"As shown by Smith et al. the effect holds.", "Next point."},
		},
		{
			"See Fig. 3 for details. Results follow.",
			[]string{"See Fig. 3 for details.", "Results follow."},
		},
		{
			"Methods differ, e.g. sampling strategy. They converge.",
			[]string{"Methods differ, e.g. sampling strategy.", "They converge."},
		},
		{
			"Written by J. Smith in 1990. It holds up.",
			[]string{"Written by J. Smith in 1990.", "It holds up."},
		},
		{
			"Does it work? Yes! Definitely.",
			[]string{"Does it work?", "Yes!", "Definitely."},
		},
		{
			"No terminal punctuation here",
			[]string{"No terminal punctuation here"},
		},
	}
	for _, c := range cases {
		got := Sentences(c.in)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("Sentences(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSplitTextShortTextSingleChunk(t *testing.T) {
	s := NewSplitter(50, 5, wordCounter)
	got := s.SplitText("just a few words here")
	if len(got) != 1 || got[0] != "just a few words here" {
		t.Errorf("got %v", got)
	}
}

func TestSplitTextRespectsBudget(t *testing.T) {
	var sentences []string
	for i := 0; i < 30; i++ {
		sentences = append(sentences, fmt.Sprintf("Sentence number %d talks about nothing in particular.", i))
	}
	text := strings.Join(sentences, " ")

	s := NewSplitter(20, 5, wordCounter)
	chunks := s.SplitText(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := wordCounter.Count(c); n > 20 {
			t.Errorf("chunk %d has %d tokens, budget 20", i, n)
		}
	}
}

func TestSplitTextOverlapsConsecutiveChunks(t *testing.T) {
	var sentences []string
	for i := 0; i < 20; i++ {
		sentences = append(sentences, fmt.Sprintf("Alpha beta gamma delta sentence %d.", i))
	}
	text := strings.Join(sentences, " ")

	s := NewSplitter(18, 6, wordCounter)
	chunks := s.SplitText(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1])
		tail := strings.Join(prev[len(prev)-6:], " ")
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk %d does not start with previous tail %q: %q", i, tail, chunks[i])
		}
	}
}

func TestSplitTextPrefersParagraphBoundaries(t *testing.T) {
	text := "Paragraph one with five words.\n\nParagraph two with five words."
	s := NewSplitter(6, 0, wordCounter)
	chunks := s.SplitText(text)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks: %v", len(chunks), chunks)
	}
	if chunks[0] != "Paragraph one with five words." {
		t.Errorf("first chunk = %q", chunks[0])
	}
}

func TestSplitTextHardSplitsGiantWord(t *testing.T) {
	giant := strings.Repeat("x", 500)
	s := NewSplitter(10, 0, CounterFunc(HeuristicCount))
	chunks := s.SplitText(giant)
	if len(chunks) < 2 {
		t.Fatalf("expected hard split, got %d chunks", len(chunks))
	}
	if strings.Join(chunks, "") != giant {
		t.Error("hard split lost characters")
	}
}

func TestSplitPagesStampsIdentity(t *testing.T) {
	pages := []document.Page{
		{Text: "Page one text.", Page: 1, Filename: "a.pdf"},
		{Text: "Page two text.", Page: 2, Filename: "a.pdf"},
	}

	s := NewSplitter(50, 5, wordCounter)
	chunks := s.SplitPages(pages, "doc-1", document.SourceSession)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if c.DocID != "doc-1" || c.Source != document.SourceSession {
			t.Errorf("chunk %d identity: %+v", i, c)
		}
		if c.ChunkIdx != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIdx)
		}
	}
	if chunks[0].Page != 1 || chunks[1].Page != 2 {
		t.Errorf("page attribution lost: %d, %d", chunks[0].Page, chunks[1].Page)
	}
}

func TestHeuristicCount(t *testing.T) {
	if HeuristicCount("") != 0 {
		t.Error("empty text must count 0")
	}
	if HeuristicCount("ab") != 1 {
		t.Error("short text must count at least 1")
	}
	if got := HeuristicCount(strings.Repeat("a", 40)); got != 10 {
		t.Errorf("40 chars = %d tokens, want 10", got)
	}
}
