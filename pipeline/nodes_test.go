package pipeline

import (
	"context"
	"testing"

	"github.com/l88labs/paramanandha/config"
	"github.com/l88labs/paramanandha/document"
	"github.com/l88labs/paramanandha/llm"
	"github.com/l88labs/paramanandha/storage"
)

// cannedLLM plays one fixed reply regardless of the prompt.
type cannedLLM struct{ reply string }

func (c cannedLLM) Call(context.Context, string, llm.Profile) (string, error) {
	return c.reply, nil
}

func nodeEngine(reply string) *Engine {
	return New(config.Default(), cannedLLM{reply: reply}, fixedEmbedder{},
		scoreReranker(0.5), nil, nil, storage.NewLocks())
}

func TestNodeAnalyzeParsesStrategy(t *testing.T) {
	e := nodeEngine(`{"query_type": "multi_hop", "strategy": "decompose"}`)
	s := &state{Query: "how do A and B interact across chapters?"}

	if _, err := e.nodeAnalyze(context.Background(), toGraph(s)); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if s.QueryType != QueryTypeMultiHop || s.Strategy != StrategyDecompose {
		t.Errorf("query_type=%q strategy=%q", s.QueryType, s.Strategy)
	}
}

func TestNodeAnalyzeInvalidStrategyFallsBack(t *testing.T) {
	e := nodeEngine(`{"query_type": "comparison", "strategy": "chain_of_thought"}`)
	s := &state{Query: "compare A and B"}

	if _, err := e.nodeAnalyze(context.Background(), toGraph(s)); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if s.QueryType != QueryTypeComparison || s.Strategy != StrategySingle {
		t.Errorf("query_type=%q strategy=%q", s.QueryType, s.Strategy)
	}
}

func TestNodeRewriteUpdatesStrategyAndQueries(t *testing.T) {
	e := nodeEngine(`{"query_type": "comparison", "strategy": "step_back", "rewritten_queries": ["angle one", "angle two"]}`)
	s := &state{Query: "original question", QueryType: QueryTypeSimple, Strategy: StrategySingle}

	if _, err := e.nodeRewrite(context.Background(), toGraph(s)); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if s.Strategy != StrategyStepBack || s.QueryType != QueryTypeComparison {
		t.Errorf("query_type=%q strategy=%q", s.QueryType, s.Strategy)
	}
	// The original question always leads the search list.
	if len(s.Queries) != 3 || s.Queries[0] != "original question" {
		t.Errorf("queries = %v", s.Queries)
	}
	if s.RewriteCount != 0 {
		t.Errorf("first pass counted as a rewrite: %d", s.RewriteCount)
	}
}

func TestMapSourcesFillsChunkIdentity(t *testing.T) {
	chunks := []document.Chunk{
		{DocID: "d1", ChunkIdx: 0, Filename: "paper.pdf", Page: 1, RerankScore: 0.9, Source: document.SourceSession},
		{DocID: "d1", ChunkIdx: 4, Filename: "paper.pdf", Page: 3, RerankScore: 0.7, Source: document.SourceSession},
	}
	cited := []generatorSource{{Filename: "paper.pdf", Page: 3, Excerpt: "the key passage"}}

	out := mapSources(cited, chunks)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	src := out[0]
	// The page-exact chunk wins over the first filename match.
	if src.DocID != "d1" || src.ChunkIdx != 4 || src.Page != 3 {
		t.Errorf("src = %+v", src)
	}
	if src.Score != 0.7 || src.Origin != document.SourceSession {
		t.Errorf("src = %+v", src)
	}
	if src.Excerpt != "the key passage" {
		t.Errorf("excerpt = %q", src.Excerpt)
	}
}

func TestMapSourcesFallsBackToFilenameMatch(t *testing.T) {
	chunks := []document.Chunk{
		{DocID: "d2", ChunkIdx: 1, Filename: "notes.pdf", Page: 2, RerankScore: 0.8, Source: document.SourceLibrary},
	}
	// Page 9 exists nowhere; the first chunk of the same file still anchors
	// the citation.
	out := mapSources([]generatorSource{{Filename: "notes.pdf", Page: 9}}, chunks)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0].DocID != "d2" || out[0].Origin != document.SourceLibrary || out[0].Page != 9 {
		t.Errorf("src = %+v", out[0])
	}
}

func TestMapSourcesUnknownFilenameKept(t *testing.T) {
	chunks := []document.Chunk{
		{DocID: "d1", ChunkIdx: 0, Filename: "paper.pdf", Page: 1, Source: document.SourceSession},
	}
	out := mapSources([]generatorSource{{Filename: "hallucinated.pdf", Page: 1}}, chunks)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	// The citation survives without a document identity.
	if out[0].DocID != "" || out[0].Filename != "hallucinated.pdf" {
		t.Errorf("src = %+v", out[0])
	}
}

func TestMapSourcesEmpty(t *testing.T) {
	if out := mapSources(nil, []document.Chunk{{DocID: "d1"}}); out != nil {
		t.Errorf("out = %+v, want nil", out)
	}
}
