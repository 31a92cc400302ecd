package chunk

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/l88labs/paramanandha/pkg/logging"
)

// TokenCounter measures text in model tokens. Chunk sizes and overlap are
// expressed in these units.
type TokenCounter interface {
	Count(text string) int
}

// CounterFunc adapts a function to the TokenCounter interface.
type CounterFunc func(text string) int

// Count implements TokenCounter.
func (f CounterFunc) Count(text string) int {
	return f(text)
}

// Tiktoken counts tokens with the cl100k_base encoding. The encoding data is
// fetched lazily on first use; if that fails (offline environments), counting
// degrades to the heuristic estimate.
type Tiktoken struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktoken creates a lazy cl100k_base token counter.
func NewTiktoken() *Tiktoken {
	return &Tiktoken{}
}

// Count implements TokenCounter.
func (t *Tiktoken) Count(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logging.WithComponent("chunk").Warn("tiktoken unavailable, using heuristic token counts", "error", err)
			return
		}
		t.enc = enc
	})
	if t.enc == nil {
		return HeuristicCount(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// HeuristicCount estimates token counts at roughly four characters per token,
// never less than one token per non-empty text.
func HeuristicCount(text string) int {
	if text == "" {
		return 0
	}
	n := (len([]rune(text)) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}
