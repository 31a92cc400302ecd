package pipeline

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/l88labs/paramanandha/cache"
	"github.com/l88labs/paramanandha/config"
	"github.com/l88labs/paramanandha/document"
	"github.com/l88labs/paramanandha/index"
	"github.com/l88labs/paramanandha/llm"
	"github.com/l88labs/paramanandha/rerank"
	"github.com/l88labs/paramanandha/storage"
	"github.com/l88labs/paramanandha/store"
)

// scriptedLLM recognizes each node's prompt and plays a canned reply. The
// generator verdict comes from verdicts when set, one per call with the last
// repeating, and from verdict otherwise.
type scriptedLLM struct {
	mu sync.Mutex

	queryType string
	verdict   string
	verdicts  []string
	answer    string

	analyzerCalls  int
	rewriterCalls  int
	generatorCalls int
	chatCalls      int
	summaryCalls   int
}

func (l *scriptedLLM) generatorVerdict() string {
	if len(l.verdicts) == 0 {
		return l.verdict
	}
	i := l.generatorCalls - 1
	if i >= len(l.verdicts) {
		i = len(l.verdicts) - 1
	}
	return l.verdicts[i]
}

func (l *scriptedLLM) Call(_ context.Context, prompt string, _ llm.Profile) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case strings.Contains(prompt, `"rewritten_queries"`):
		l.rewriterCalls++
		return fmt.Sprintf(`{"query_type": %q, "strategy": "single", "rewritten_queries": ["alternate phrasing %d"]}`,
			l.queryType, l.rewriterCalls), nil
	case strings.Contains(prompt, `"query_type"`):
		l.analyzerCalls++
		return fmt.Sprintf(`{"query_type": %q, "strategy": "single"}`, l.queryType), nil
	case strings.Contains(prompt, "context_verdict"):
		l.generatorCalls++
		return fmt.Sprintf(`{"context_verdict": %q, "reasoning": "r", "answer": %q, "missing_info": "", "sources": [{"filename": "doc.pdf", "page": 1, "excerpt": "quoted"}]}`,
			l.generatorVerdict(), l.answer), nil
	case strings.Contains(prompt, "Summarize the following document content"):
		l.summaryCalls++
		return "summary of the documents", nil
	default:
		l.chatCalls++
		return "chat answer", nil
	}
}

// fixedEmbedder returns the same unit vector for everything, so dense search
// returns all indexed chunks.
type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, texts []string, _ bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (fixedEmbedder) Dimension() int { return 4 }

// scoreReranker stamps every chunk with one fixed rerank score.
func scoreReranker(score float32) rerank.Reranker {
	return rerank.Func(func(_ context.Context, _ string, chunks []document.Chunk, topN int) ([]document.Chunk, error) {
		out := make([]document.Chunk, 0, topN)
		for i, ch := range chunks {
			if i == topN {
				break
			}
			ch.RerankScore = score
			out = append(out, ch)
		}
		return out, nil
	})
}

type engineEnv struct {
	cfg    config.Config
	llm    *scriptedLLM
	store  store.Store
	cache  cache.Cache
	engine *Engine
}

func newEngineEnv(t *testing.T, llmStub *scriptedLLM, rr rerank.Reranker) *engineEnv {
	t.Helper()

	cfg := config.Default()
	cfg.StorageRoot = t.TempDir()
	cfg.EmbedDimension = 4

	st, err := store.OpenSQLite(filepath.Join(cfg.StorageRoot, "app.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	c := cache.NewMemory(time.Hour)
	eng := New(cfg, llmStub, fixedEmbedder{}, rr, st, c, storage.NewLocks())
	return &engineEnv{cfg: cfg, llm: llmStub, store: st, cache: c, engine: eng}
}

func (e *engineEnv) newSession(t *testing.T, webMode bool) string {
	t.Helper()
	id := uuid.NewString()
	err := e.store.CreateSession(context.Background(), store.Session{
		ID:          id,
		Name:        "s",
		SessionType: store.SessionTypeGeneral,
		WebMode:     webMode,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return id
}

// attachCorpus indexes canned chunks for a session and registers a selected
// document record for them.
func (e *engineEnv) attachCorpus(t *testing.T, sessionID string, texts []string) string {
	t.Helper()
	ctx := context.Background()

	docID := uuid.NewString()
	chunks := make([]document.Chunk, len(texts))
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		chunks[i] = document.Chunk{
			Text:     text,
			DocID:    docID,
			Filename: "doc.pdf",
			Page:     i + 1,
			ChunkIdx: i,
			Source:   document.SourceSession,
		}
		angle := 0.1 * float64(i)
		vectors[i] = []float32{float32(math.Cos(angle)), float32(math.Sin(angle)), 0, 0}
	}

	corpusDir := e.cfg.SessionDir(sessionID)
	if err := storage.EnsureCorpus(corpusDir); err != nil {
		t.Fatalf("ensure corpus: %v", err)
	}
	dense := index.NewDense(4)
	if err := dense.Add(vectors, chunks); err != nil {
		t.Fatalf("dense add: %v", err)
	}
	if err := dense.Save(storage.IndexDir(corpusDir)); err != nil {
		t.Fatalf("dense save: %v", err)
	}
	sparse := index.NewSparse()
	sparse.Add(chunks)
	if err := sparse.Save(storage.IndexDir(corpusDir)); err != nil {
		t.Fatalf("sparse save: %v", err)
	}

	err := e.store.CreateDocument(ctx, store.Document{
		ID:         docID,
		SessionID:  sessionID,
		Filename:   "doc.pdf",
		Source:     document.SourceSession,
		PageCount:  len(texts),
		ChunkCount: len(texts),
		Selected:   true,
		UploadedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := e.store.UpdateSessionType(ctx, sessionID, store.SessionTypeRAG); err != nil {
		t.Fatalf("update session type: %v", err)
	}
	return docID
}

func TestRunChatRouteWithoutDocuments(t *testing.T) {
	stub := &scriptedLLM{}
	e := newEngineEnv(t, stub, scoreReranker(0.9))
	sid := e.newSession(t, false)

	resp, err := e.engine.Run(context.Background(), sid, "hello there")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Route != RouteChat || resp.Answer != "chat answer" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.ContextVerdict != VerdictSufficient || !resp.Confident {
		t.Errorf("chat verdict/confidence: %+v", resp)
	}
	if stub.chatCalls != 1 || stub.generatorCalls != 0 {
		t.Errorf("calls: chat=%d generator=%d", stub.chatCalls, stub.generatorCalls)
	}

	msgs, err := e.store.ListMessages(context.Background(), sid, 0)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("history: %v, %d messages", err, len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("history roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func TestRunRAGFastPath(t *testing.T) {
	stub := &scriptedLLM{queryType: QueryTypeSimple, verdict: VerdictSufficient, answer: "the answer"}
	e := newEngineEnv(t, stub, scoreReranker(0.9))
	sid := e.newSession(t, false)
	docID := e.attachCorpus(t, sid, []string{"alpha facts", "beta facts"})

	resp, err := e.engine.Run(context.Background(), sid, "what are alpha facts?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Route != RouteRAG || resp.Answer != "the answer" {
		t.Errorf("resp = %+v", resp)
	}
	if !resp.Confident || resp.ContextVerdict != VerdictSufficient || resp.RewriteCount != 0 {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Sources) == 0 || resp.Sources[0].DocID != docID {
		t.Errorf("sources = %+v", resp.Sources)
	}
	if resp.Sources[0].Origin != document.SourceSession || resp.Sources[0].Excerpt != "quoted" {
		t.Errorf("cited source = %+v", resp.Sources[0])
	}
	if stub.generatorCalls != 1 || stub.rewriterCalls != 1 {
		t.Errorf("calls: generator=%d rewriter=%d", stub.generatorCalls, stub.rewriterCalls)
	}

	// Citations persisted with the assistant message.
	msgs, _ := e.store.ListMessages(context.Background(), sid, 0)
	cits, err := e.store.ListCitations(context.Background(), msgs[1].ID)
	if err != nil || len(cits) == 0 {
		t.Errorf("citations: %v, %d", err, len(cits))
	}
}

func TestRunCacheHitSkipsPipeline(t *testing.T) {
	stub := &scriptedLLM{}
	e := newEngineEnv(t, stub, scoreReranker(0.9))
	sid := e.newSession(t, false)

	if _, err := e.engine.Run(context.Background(), sid, "hello"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	resp, err := e.engine.Run(context.Background(), sid, "  HELLO  ")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !resp.Cached {
		t.Error("second run not served from cache")
	}
	if resp.Answer != "chat answer" {
		t.Errorf("cached answer = %q", resp.Answer)
	}
	if stub.chatCalls != 1 {
		t.Errorf("chat called %d times, want 1", stub.chatCalls)
	}
}

func TestRunSummarizeKeywordRoute(t *testing.T) {
	stub := &scriptedLLM{queryType: QueryTypeSimple, verdict: VerdictSufficient}
	e := newEngineEnv(t, stub, scoreReranker(0.9))
	sid := e.newSession(t, false)
	e.attachCorpus(t, sid, []string{"chapter one content", "chapter two content"})

	resp, err := e.engine.Run(context.Background(), sid, "give me a tl;dr of this document")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Route != RouteSummarize || resp.Answer != "summary of the documents" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Sources) != 0 || !resp.Confident {
		t.Errorf("summary sources/confidence: %+v", resp)
	}
	if stub.summaryCalls != 1 || stub.generatorCalls != 0 {
		t.Errorf("calls: summary=%d generator=%d", stub.summaryCalls, stub.generatorCalls)
	}
}

func TestRunEmptyExhaustionEndsNotFound(t *testing.T) {
	stub := &scriptedLLM{queryType: QueryTypeMultiHop, verdict: VerdictEmpty, answer: "weak answer"}
	e := newEngineEnv(t, stub, scoreReranker(0.2))
	sid := e.newSession(t, false)
	e.attachCorpus(t, sid, []string{"unrelated content"})

	resp, err := e.engine.Run(context.Background(), sid, "what is the meaning of chapter nine?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Route != RouteNotFound {
		t.Errorf("route = %s, want not_found", resp.Route)
	}
	if resp.Answer != NotFoundAnswer || resp.ContextVerdict != VerdictEmpty || resp.Confident {
		t.Errorf("resp = %+v", resp)
	}
	if resp.RewriteCount != 2 {
		t.Errorf("rewrite count = %d, want 2", resp.RewriteCount)
	}
	// Three full passes: rewrite, retrieve, generate each time.
	if stub.generatorCalls != 3 || stub.rewriterCalls != 3 {
		t.Errorf("calls: generator=%d rewriter=%d, want 3 each", stub.generatorCalls, stub.rewriterCalls)
	}
	if stub.analyzerCalls != 1 {
		t.Errorf("analyzer called %d times, want 1", stub.analyzerCalls)
	}
}

func TestRunExhaustedUnsureReturnsBestEffort(t *testing.T) {
	stub := &scriptedLLM{queryType: QueryTypeMultiHop, verdict: VerdictSufficient, answer: "best effort answer"}
	// Rerank scores in the unsure band grade every pass UNSURE.
	e := newEngineEnv(t, stub, scoreReranker(0.5))
	sid := e.newSession(t, false)
	e.attachCorpus(t, sid, []string{"tangential content"})

	resp, err := e.engine.Run(context.Background(), sid, "how do the chapters relate?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Exhaustion with a generated answer emits that answer, not the canned
	// no-information response.
	if resp.Route != RouteRAG || resp.Answer != "best effort answer" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Confident || resp.Verdict != EvalUnsure || resp.ContextVerdict != VerdictSufficient {
		t.Errorf("resp = %+v", resp)
	}
	if resp.RewriteCount != 2 || stub.generatorCalls != 3 {
		t.Errorf("rewrites=%d generator calls=%d, want 2 and 3", resp.RewriteCount, stub.generatorCalls)
	}
}

func TestRunGapRetriesThroughRewriter(t *testing.T) {
	stub := &scriptedLLM{
		queryType: QueryTypeSimple,
		verdicts:  []string{VerdictGap, VerdictSufficient},
		answer:    "found on retry",
	}
	e := newEngineEnv(t, stub, scoreReranker(0.9))
	sid := e.newSession(t, false)
	e.attachCorpus(t, sid, []string{"partial content", "the rest of it"})

	resp, err := e.engine.Run(context.Background(), sid, "what is the whole picture?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// A GAP context with budget left loops straight back through the
	// rewriter; the second pass succeeds and takes the fast path.
	if resp.Route != RouteRAG || resp.Answer != "found on retry" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.RewriteCount != 1 || stub.generatorCalls != 2 {
		t.Errorf("rewrites=%d generator calls=%d, want 1 and 2", resp.RewriteCount, stub.generatorCalls)
	}
	if !resp.Confident || resp.Verdict != "" {
		t.Errorf("fast path confidence/verdict: %+v", resp)
	}
}

func TestRunFastPathWeakScoreNotConfident(t *testing.T) {
	stub := &scriptedLLM{queryType: QueryTypeSimple, verdict: VerdictSufficient, answer: "thin answer"}
	e := newEngineEnv(t, stub, scoreReranker(0.2))
	sid := e.newSession(t, false)
	e.attachCorpus(t, sid, []string{"barely related content"})

	resp, err := e.engine.Run(context.Background(), sid, "what is this about?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// The fast path skips self-evaluation but confidence still comes from
	// the top rerank score computed at retrieval.
	if resp.Route != RouteRAG || resp.Answer != "thin answer" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Confident {
		t.Error("weak top score reported as confident")
	}
	if stub.generatorCalls != 1 {
		t.Errorf("generator calls = %d, want 1", stub.generatorCalls)
	}
}

func TestRunNonSimpleGradesGoodOnStrongScore(t *testing.T) {
	stub := &scriptedLLM{queryType: QueryTypeComparison, verdict: VerdictSufficient, answer: "compared"}
	e := newEngineEnv(t, stub, scoreReranker(0.8))
	sid := e.newSession(t, false)
	e.attachCorpus(t, sid, []string{"thing one", "thing two"})

	resp, err := e.engine.Run(context.Background(), sid, "compare thing one and thing two")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Non-simple queries always pass self-evaluation; a strong rerank score
	// grades GOOD on the first pass.
	if resp.Route != RouteRAG || !resp.Confident || resp.RewriteCount != 0 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Verdict != EvalGood {
		t.Errorf("verdict = %q, want %q", resp.Verdict, EvalGood)
	}
	if stub.generatorCalls != 1 {
		t.Errorf("generator calls = %d, want 1", stub.generatorCalls)
	}
}

func TestRunWebModeForcesRetrievalRoute(t *testing.T) {
	stub := &scriptedLLM{queryType: QueryTypeSimple, verdict: VerdictSufficient}
	e := newEngineEnv(t, stub, scoreReranker(0.9))
	sid := e.newSession(t, true)

	// No documents at all: retrieval finds nothing, the generator
	// short-circuits, and exhaustion ends in not_found rather than chat.
	resp, err := e.engine.Run(context.Background(), sid, "hello")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Route != RouteNotFound {
		t.Errorf("route = %s, want not_found", resp.Route)
	}
	if stub.chatCalls != 0 {
		t.Errorf("chat called %d times, want 0", stub.chatCalls)
	}
	if stub.generatorCalls != 0 {
		t.Errorf("generator LLM calls = %d, want 0 (short-circuit)", stub.generatorCalls)
	}
}

func TestRunWebModeSearchesLibraryOnly(t *testing.T) {
	stub := &scriptedLLM{queryType: QueryTypeSimple, verdict: VerdictSufficient, answer: "leaked"}
	e := newEngineEnv(t, stub, scoreReranker(0.9))
	sid := e.newSession(t, true)
	// The session has its own selected documents, but web mode searches the
	// shared library exclusively. With an empty library nothing comes back.
	e.attachCorpus(t, sid, []string{"session only content"})

	resp, err := e.engine.Run(context.Background(), sid, "what is in my documents?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Route != RouteNotFound {
		t.Errorf("route = %s, want not_found", resp.Route)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("session chunks leaked into web mode: %+v", resp.Sources)
	}
	if stub.generatorCalls != 0 || stub.chatCalls != 0 {
		t.Errorf("calls: generator=%d chat=%d, want 0 each", stub.generatorCalls, stub.chatCalls)
	}
}

func TestRunEmptyQuery(t *testing.T) {
	stub := &scriptedLLM{}
	e := newEngineEnv(t, stub, scoreReranker(0.9))
	sid := e.newSession(t, false)

	if _, err := e.engine.Run(context.Background(), sid, "   "); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestRunUnknownSession(t *testing.T) {
	stub := &scriptedLLM{}
	e := newEngineEnv(t, stub, scoreReranker(0.9))

	if _, err := e.engine.Run(context.Background(), "missing", "hello"); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestRunNotFoundNotCached(t *testing.T) {
	stub := &scriptedLLM{queryType: QueryTypeSimple, verdict: VerdictSufficient}
	e := newEngineEnv(t, stub, scoreReranker(0.9))
	sid := e.newSession(t, true)

	if _, err := e.engine.Run(context.Background(), sid, "hello"); err != nil {
		t.Fatalf("run: %v", err)
	}
	resp, err := e.engine.Run(context.Background(), sid, "hello")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if resp.Cached {
		t.Error("not_found answer must not be cached")
	}
}
