package cohere

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/l88labs/paramanandha/config"
	"github.com/l88labs/paramanandha/document"
)

func testChunks() []document.Chunk {
	return []document.Chunk{
		{DocID: "d1", ChunkIdx: 0, Text: "first chunk", Score: 0.3},
		{DocID: "d1", ChunkIdx: 1, Text: "second chunk", Score: 0.9},
		{DocID: "d2", ChunkIdx: 0, Text: "third chunk", Score: 0.6},
	}
}

func TestRerankOrdersByScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Query != "what is a chunk" {
			t.Errorf("query = %q", req.Query)
		}
		if len(req.Documents) != 3 {
			t.Errorf("documents = %d, want 3", len(req.Documents))
		}
		json.NewEncoder(w).Encode(rerankResponse{Results: []struct {
			Index int     `json:"index"`
			Score float32 `json:"score"`
		}{
			{Index: 2, Score: 0.95},
			{Index: 0, Score: 0.40},
			{Index: 1, Score: 0.10},
		}})
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.RerankEndpoint = srv.URL

	out, err := New(cfg).Rerank(context.Background(), "what is a chunk", testChunks(), 2)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d chunks, want 2", len(out))
	}
	if out[0].DocID != "d2" || out[0].RerankScore != 0.95 {
		t.Errorf("top = %s/%d score %v", out[0].DocID, out[0].ChunkIdx, out[0].RerankScore)
	}
	if out[1].ChunkIdx != 0 || out[1].DocID != "d1" {
		t.Errorf("second = %s/%d", out[1].DocID, out[1].ChunkIdx)
	}
}

func TestRerankFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.RerankEndpoint = srv.URL

	out, err := New(cfg).Rerank(context.Background(), "q", testChunks(), 2)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d chunks, want 2", len(out))
	}
	// Fallback keeps fused-score order and mirrors it into the rerank score.
	if out[0].Score != 0.9 || out[0].RerankScore != 0.9 {
		t.Errorf("fallback top score = %v/%v", out[0].Score, out[0].RerankScore)
	}
}

func TestRerankEmptyInput(t *testing.T) {
	out, err := New(config.Default()).Rerank(context.Background(), "q", nil, 5)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil output for empty input")
	}
}
