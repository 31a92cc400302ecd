package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/l88labs/paramanandha/cache"
	"github.com/l88labs/paramanandha/config"
	"github.com/l88labs/paramanandha/embed"
	"github.com/l88labs/paramanandha/errors"
	"github.com/l88labs/paramanandha/graph"
	"github.com/l88labs/paramanandha/llm"
	"github.com/l88labs/paramanandha/pkg/logging"
	"github.com/l88labs/paramanandha/pkg/telemetry"
	"github.com/l88labs/paramanandha/rerank"
	"github.com/l88labs/paramanandha/storage"
	"github.com/l88labs/paramanandha/store"
)

// historyLimit bounds how much conversation history the chat route sees.
const historyLimit = 10

// Engine answers queries for sessions. It is safe for concurrent use.
type Engine struct {
	cfg       config.Config
	llm       llm.Client
	retriever *retriever
	store     store.Store
	cache     cache.Cache
	graph     *graph.Graph
	logger    *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an engine wired to its model clients and storage.
func New(cfg config.Config, llmClient llm.Client, embedder embed.Embedder, reranker rerank.Reranker,
	st store.Store, c cache.Cache, locks *storage.Locks, opts ...Option) *Engine {

	e := &Engine{
		cfg:    cfg,
		llm:    llmClient,
		store:  st,
		cache:  c,
		logger: logging.WithComponent("pipeline"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.retriever = &retriever{
		cfg:      cfg,
		embedder: embedder,
		reranker: reranker,
		locks:    locks,
		logger:   e.logger,
	}
	e.graph = e.buildGraph()
	return e
}

// buildGraph wires the query state machine. Retries loop back through the
// rewriter, bounded by the rewrite budget; the visit cap is a backstop.
func (e *Engine) buildGraph() *graph.Graph {
	return graph.NewBuilder().
		AddNode("route", graph.NodeTypeStart, e.nodeRoute).
		AddConditionNode("dispatch", e.conditionDispatch, map[string]string{
			RouteRAG:       "analyze",
			RouteSummarize: "summarize",
			RouteChat:      "chat",
			RouteError:     "fail",
		}).
		AddNode("analyze", graph.NodeTypeLLM, e.nodeAnalyze).
		AddNode("rewrite", graph.NodeTypeLLM, e.nodeRewrite).
		AddNode("retrieve", graph.NodeTypeTool, e.nodeRetrieve).
		AddNode("generate", graph.NodeTypeLLM, e.nodeGenerate).
		AddConditionNode("after_generate", e.conditionAfterGenerate, map[string]string{
			"output":    "output",
			"self_eval": "self_eval",
			"rewrite":   "rewrite",
			"not_found": "not_found",
		}).
		AddNode("self_eval", graph.NodeTypeCustom, e.nodeSelfEval).
		AddConditionNode("after_eval", e.conditionAfterEval, map[string]string{
			"output":  "output",
			"rewrite": "rewrite",
		}).
		AddNode("chat", graph.NodeTypeLLM, e.nodeChat).
		AddNode("summarize", graph.NodeTypeLLM, e.nodeSummarize).
		AddNode("output", graph.NodeTypeEnd, e.nodeOutput).
		AddNode("not_found", graph.NodeTypeEnd, e.nodeNotFound).
		AddNode("fail", graph.NodeTypeEnd, e.nodeFail).
		AddEdge("route", "dispatch").
		AddEdge("analyze", "rewrite").
		AddEdge("rewrite", "retrieve").
		AddEdge("retrieve", "generate").
		AddEdge("generate", "after_generate").
		AddEdge("self_eval", "after_eval").
		AddEdge("chat", "output").
		AddEdge("summarize", "output").
		SetStart("route").
		SetMaxVisits(e.cfg.MaxRewrites + 2).
		Build()
}

// Run answers one query in a session. Repeat questions are served from the
// answer cache; fresh answers are persisted to the session history with
// their citations and cached for next time.
func (e *Engine) Run(ctx context.Context, sessionID, query string) (Response, error) {
	ctx, span := telemetry.Tracer("pipeline").Start(ctx, "pipeline.run")
	var runErr error
	defer func() { telemetry.End(span, runErr) }()
	span.SetAttributes(attribute.String("session.id", sessionID))

	query = strings.TrimSpace(query)
	if query == "" {
		runErr = fmt.Errorf("%w: empty query", errors.ErrInvalidInput)
		return Response{Route: RouteError}, runErr
	}

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		runErr = err
		return Response{Route: RouteError}, runErr
	}

	if payload, err := e.cache.Get(ctx, sessionID, query); err == nil {
		var resp Response
		if err := json.Unmarshal(payload, &resp); err == nil {
			resp.Cached = true
			e.persist(ctx, sessionID, query, resp)
			e.logger.Info("answer served from cache", "session_id", sessionID)
			return resp, nil
		}
	} else if !stderrors.Is(err, errors.ErrNotFound) {
		e.logger.Warn("cache probe failed", "error", err)
	}

	selected, err := e.store.SelectedDocIDs(ctx, sessionID)
	if err != nil {
		runErr = err
		return Response{Route: RouteError}, runErr
	}
	history, err := e.store.ListMessages(ctx, sessionID, historyLimit)
	if err != nil {
		runErr = err
		return Response{Route: RouteError}, runErr
	}

	s := &state{
		SessionID:      sessionID,
		Query:          query,
		WebMode:        sess.WebMode,
		SelectedDocIDs: selected,
		History:        history,
	}

	start := time.Now()
	out, err := e.graph.Execute(ctx, toGraph(s))
	if err != nil {
		runErr = err
		e.logger.Error("pipeline run failed", "session_id", sessionID, "error", err)
		return Response{
			Route:  RouteError,
			Answer: "Something went wrong while answering. Please try again.",
		}, runErr
	}
	s, err = fromGraph(out)
	if err != nil {
		runErr = err
		return Response{Route: RouteError}, runErr
	}

	resp := s.response()
	span.SetAttributes(
		attribute.String("pipeline.route", resp.Route),
		attribute.String("pipeline.context_verdict", resp.ContextVerdict),
		attribute.String("pipeline.verdict", resp.Verdict),
		attribute.Bool("pipeline.confident", resp.Confident),
		attribute.Int("pipeline.rewrites", resp.RewriteCount),
	)
	e.logger.Info("query answered",
		"session_id", sessionID,
		"route", resp.Route,
		"context_verdict", resp.ContextVerdict,
		"verdict", resp.Verdict,
		"confident", resp.Confident,
		"rewrites", resp.RewriteCount,
		"elapsed", time.Since(start))

	e.persist(ctx, sessionID, query, resp)

	if resp.Route != RouteNotFound && resp.Route != RouteError {
		if payload, err := json.Marshal(resp); err == nil {
			if err := e.cache.Set(ctx, sessionID, query, payload); err != nil {
				e.logger.Warn("cache store failed", "error", err)
			}
		}
	}

	return resp, nil
}

// persist appends the turn to the session history. Persistence failures are
// logged, not fatal: the user already has the answer.
func (e *Engine) persist(ctx context.Context, sessionID, query string, resp Response) {
	now := time.Now()
	userMsg := store.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      "user",
		Content:   query,
		CreatedAt: now,
	}
	if err := e.store.AddMessage(ctx, userMsg); err != nil {
		e.logger.Warn("persist user message failed", "error", err)
		return
	}

	assistantMsg := store.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      "assistant",
		Content:   resp.Answer,
		CreatedAt: now.Add(time.Millisecond),
	}
	if err := e.store.AddMessage(ctx, assistantMsg); err != nil {
		e.logger.Warn("persist assistant message failed", "error", err)
		return
	}

	if resp.Cached || len(resp.Sources) == 0 {
		return
	}
	citations := make([]store.Citation, len(resp.Sources))
	for i, src := range resp.Sources {
		citations[i] = store.Citation{
			ID:        uuid.NewString(),
			MessageID: assistantMsg.ID,
			DocID:     src.DocID,
			Filename:  src.Filename,
			Page:      src.Page,
			ChunkIdx:  src.ChunkIdx,
			Excerpt:   src.Excerpt,
			Score:     src.Score,
		}
	}
	if err := e.store.AddCitations(ctx, citations); err != nil {
		e.logger.Warn("persist citations failed", "error", err)
	}
}
