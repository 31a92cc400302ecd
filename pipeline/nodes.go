package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/l88labs/paramanandha/document"
	"github.com/l88labs/paramanandha/graph"
	"github.com/l88labs/paramanandha/llm"
)

// summarizeKeywords trigger the summarize route when documents are selected.
// The common misspellings are deliberate.
var summarizeKeywords = []string{
	"summarize", "summary", "summarise", "overview", "tldr", "tl;dr",
	"brief", "outline", "recap", "summerize", "summerise",
}

func wantsSummary(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range summarizeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// nodeRoute picks the route for the query. Web mode forces retrieval; with
// documents selected, a summary request goes to the summarizer and anything
// else to retrieval; without documents the engine just chats.
func (e *Engine) nodeRoute(_ context.Context, gs graph.State) (graph.State, error) {
	s, err := fromGraph(gs)
	if err != nil {
		return nil, err
	}

	switch {
	case s.WebMode:
		s.Route = RouteRAG
	case len(s.SelectedDocIDs) > 0 && wantsSummary(s.Query):
		s.Route = RouteSummarize
	case len(s.SelectedDocIDs) > 0:
		s.Route = RouteRAG
	default:
		s.Route = RouteChat
	}

	e.logger.Debug("routed query", "session_id", s.SessionID, "route", s.Route)
	return gs, nil
}

func (e *Engine) conditionDispatch(_ context.Context, gs graph.State) (string, error) {
	s, err := fromGraph(gs)
	if err != nil {
		return "", err
	}
	switch s.Route {
	case RouteRAG, RouteSummarize, RouteChat:
		return s.Route, nil
	default:
		return RouteError, nil
	}
}

type analyzerResult struct {
	QueryType string `json:"query_type"`
	Strategy  string `json:"strategy"`
}

func validQueryType(v string) bool {
	switch v {
	case QueryTypeSimple, QueryTypeMultiHop, QueryTypeMath, QueryTypeComparison:
		return true
	}
	return false
}

func validStrategy(v string) bool {
	switch v {
	case StrategySingle, StrategyDecompose, StrategyStepBack:
		return true
	}
	return false
}

// nodeAnalyze classifies the query and derives the rewriting strategy.
// Garbage from the model falls back to simple/single rather than failing
// the run.
func (e *Engine) nodeAnalyze(ctx context.Context, gs graph.State) (graph.State, error) {
	s, err := fromGraph(gs)
	if err != nil {
		return nil, err
	}

	raw, err := e.llm.Call(ctx, buildAnalyzerPrompt(s.Query), llm.ProfileSmall)
	if err != nil {
		return nil, err
	}

	s.QueryType = QueryTypeSimple
	s.Strategy = StrategySingle
	if res, err := decodeModelJSON[analyzerResult](raw); err == nil {
		if qt := strings.ToLower(strings.TrimSpace(res.QueryType)); validQueryType(qt) {
			s.QueryType = qt
		}
		if st := strings.ToLower(strings.TrimSpace(res.Strategy)); validStrategy(st) {
			s.Strategy = st
		}
	}

	e.logger.Debug("analyzed query", "query_type", s.QueryType, "strategy", s.Strategy)
	return gs, nil
}

type rewriterResult struct {
	QueryType string   `json:"query_type"`
	Strategy  string   `json:"strategy"`
	Queries   []string `json:"rewritten_queries"`
}

// nodeRewrite produces the search queries for this pass, re-deriving the
// classification and strategy in the same call. On a retry it counts the
// rewrite and steers the model away from the failed angle.
func (e *Engine) nodeRewrite(ctx context.Context, gs graph.State) (graph.State, error) {
	s, err := fromGraph(gs)
	if err != nil {
		return nil, err
	}

	retry := s.LastVerdict != ""
	if retry {
		s.RewriteCount++
	}

	prompt := buildRewriterPrompt(s.Query, s.QueryType, e.cfg.MaxAltQueries-1, retry, s.LastVerdict)
	raw, err := e.llm.Call(ctx, prompt, llm.ProfileSmall)
	if err != nil {
		return nil, err
	}

	// The original question always searches too, and always first.
	queries := []string{s.Query}
	seen := map[string]struct{}{strings.ToLower(s.Query): {}}
	if res, err := decodeModelJSON[rewriterResult](raw); err == nil {
		if qt := strings.ToLower(strings.TrimSpace(res.QueryType)); validQueryType(qt) {
			s.QueryType = qt
		}
		if st := strings.ToLower(strings.TrimSpace(res.Strategy)); validStrategy(st) {
			s.Strategy = st
		}
		for _, q := range res.Queries {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			if _, dup := seen[strings.ToLower(q)]; dup {
				continue
			}
			seen[strings.ToLower(q)] = struct{}{}
			queries = append(queries, q)
			if len(queries) == e.cfg.MaxAltQueries {
				break
			}
		}
	}
	s.Queries = queries

	e.logger.Debug("rewrote query",
		"queries", len(queries), "strategy", s.Strategy, "rewrite_count", s.RewriteCount)
	return gs, nil
}

func (e *Engine) nodeRetrieve(ctx context.Context, gs graph.State) (graph.State, error) {
	s, err := fromGraph(gs)
	if err != nil {
		return nil, err
	}

	chunks, topScore, err := e.retriever.retrieve(ctx, s)
	if err != nil {
		return nil, err
	}
	s.Chunks = chunks
	s.TopRerankScore = topScore
	// The self-evaluator overwrites this with its own grade when it runs.
	s.Confident = topScore >= e.cfg.ConfidenceThreshold

	e.logger.Debug("retrieved context",
		"chunks", len(chunks), "top_rerank_score", topScore, "confident", s.Confident)
	return gs, nil
}

type generatorSource struct {
	Filename string `json:"filename"`
	Page     int    `json:"page"`
	Excerpt  string `json:"excerpt"`
}

type generatorResult struct {
	ContextVerdict string            `json:"context_verdict"`
	Reasoning      string            `json:"reasoning"`
	Answer         string            `json:"answer"`
	MissingInfo    string            `json:"missing_info"`
	Sources        []generatorSource `json:"sources"`
}

// nodeGenerate answers from the retrieved context. With nothing retrieved it
// short-circuits to the not-found answer without spending an LLM call.
func (e *Engine) nodeGenerate(ctx context.Context, gs graph.State) (graph.State, error) {
	s, err := fromGraph(gs)
	if err != nil {
		return nil, err
	}

	if len(s.Chunks) == 0 {
		s.Answer = NotFoundAnswer
		s.ContextVerdict = VerdictEmpty
		s.LastVerdict = VerdictEmpty
		s.MissingInfo = "No relevant chunks retrieved."
		s.Sources = nil
		return gs, nil
	}

	raw, err := e.llm.Call(ctx, buildGeneratorPrompt(s.Query, s.Chunks), llm.ProfileFull)
	if err != nil {
		return nil, err
	}

	res, err := decodeModelJSON[generatorResult](raw)
	if err != nil {
		// Unstructured output still usually contains the answer; treat the
		// whole completion as the answer and trust the retrieval scores.
		res = generatorResult{ContextVerdict: VerdictSufficient, Answer: strings.TrimSpace(raw)}
	}

	verdict := strings.ToUpper(strings.TrimSpace(res.ContextVerdict))
	switch verdict {
	case VerdictSufficient, VerdictGap, VerdictEmpty:
	default:
		verdict = VerdictSufficient
	}

	s.Answer = res.Answer
	s.Reasoning = res.Reasoning
	s.MissingInfo = res.MissingInfo
	s.ContextVerdict = verdict
	s.LastVerdict = verdict
	s.Sources = mapSources(res.Sources, s.Chunks)

	e.logger.Debug("generated answer",
		"verdict", verdict, "cited_sources", len(s.Sources), "answer_chars", len(res.Answer))
	return gs, nil
}

// conditionAfterGenerate takes the fast path for simple questions whose
// context was judged sufficient. A sufficient context gets self-evaluated;
// a gap or empty one retries through the rewriter while budget remains.
// Exhausted, an empty context means there is nothing to answer from, and a
// gap proceeds to self-evaluation with whatever was generated.
func (e *Engine) conditionAfterGenerate(_ context.Context, gs graph.State) (string, error) {
	s, err := fromGraph(gs)
	if err != nil {
		return "", err
	}
	if s.QueryType == QueryTypeSimple && s.ContextVerdict == VerdictSufficient {
		return "output", nil
	}
	if s.ContextVerdict == VerdictSufficient {
		return "self_eval", nil
	}
	if s.RewriteCount < e.cfg.MaxRewrites {
		return "rewrite", nil
	}
	if s.ContextVerdict == VerdictEmpty {
		return "not_found", nil
	}
	return "self_eval", nil
}

// nodeSelfEval grades the answer by the strength of its retrieval evidence:
// the top rerank score is a cross-encoder's judgment of how well the best
// passage matches the question.
func (e *Engine) nodeSelfEval(_ context.Context, gs graph.State) (graph.State, error) {
	s, err := fromGraph(gs)
	if err != nil {
		return nil, err
	}

	switch {
	case s.TopRerankScore >= e.cfg.ConfidenceThreshold:
		s.EvalGrade = EvalGood
	case s.TopRerankScore >= e.cfg.UnsureThreshold:
		s.EvalGrade = EvalUnsure
	default:
		s.EvalGrade = EvalBad
	}
	s.Confident = s.EvalGrade == EvalGood
	s.LastVerdict = s.EvalGrade

	e.logger.Debug("self-evaluated answer", "grade", s.EvalGrade, "top_rerank_score", s.TopRerankScore)
	return gs, nil
}

// conditionAfterEval retries a non-GOOD grade while budget remains;
// exhausted, the best-effort answer is emitted with confident already false.
func (e *Engine) conditionAfterEval(_ context.Context, gs graph.State) (string, error) {
	s, err := fromGraph(gs)
	if err != nil {
		return "", err
	}
	if s.EvalGrade == EvalGood {
		return "output", nil
	}
	if s.RewriteCount < e.cfg.MaxRewrites {
		return "rewrite", nil
	}
	return "output", nil
}

// nodeChat answers without documents, from general knowledge plus recent
// conversation history.
func (e *Engine) nodeChat(ctx context.Context, gs graph.State) (graph.State, error) {
	s, err := fromGraph(gs)
	if err != nil {
		return nil, err
	}

	answer, err := e.llm.Call(ctx, buildChatPrompt(s.Query, s.History), llm.ProfileSmall)
	if err != nil {
		return nil, err
	}

	s.Answer = strings.TrimSpace(answer)
	s.ContextVerdict = VerdictSufficient
	s.Confident = true
	s.Sources = nil
	return gs, nil
}

// nodeSummarize summarizes the selected documents from their indexed chunks,
// capped to the summary budget.
func (e *Engine) nodeSummarize(ctx context.Context, gs graph.State) (graph.State, error) {
	s, err := fromGraph(gs)
	if err != nil {
		return nil, err
	}

	content := e.summaryContent(s)
	if content == "" {
		s.Answer = NotFoundAnswer
		s.ContextVerdict = VerdictEmpty
		s.Confident = false
		return gs, nil
	}

	answer, err := e.llm.Call(ctx, buildSummaryPrompt(s.Query, content), llm.ProfileFull)
	if err != nil {
		return nil, err
	}

	s.Answer = strings.TrimSpace(answer)
	s.ContextVerdict = VerdictSufficient
	s.Confident = true
	s.Sources = nil
	return gs, nil
}

// summaryContent joins the indexed chunks of the selected documents in
// document order, truncated to the configured character budget.
func (e *Engine) summaryContent(s *state) string {
	dense, _ := e.retriever.loadCorpus(s.SessionID, e.cfg.SessionDir(s.SessionID))

	selected := make(map[string]struct{}, len(s.SelectedDocIDs))
	for _, id := range s.SelectedDocIDs {
		selected[id] = struct{}{}
	}

	var chunks []document.Chunk
	for _, ch := range dense.Chunks() {
		if _, ok := selected[ch.DocID]; ok {
			chunks = append(chunks, ch)
		}
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].DocID != chunks[j].DocID {
			return chunks[i].DocID < chunks[j].DocID
		}
		return chunks[i].ChunkIdx < chunks[j].ChunkIdx
	})

	var b strings.Builder
	for _, ch := range chunks {
		if b.Len() >= e.cfg.SummaryBudget {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(ch.Text)
	}
	content := b.String()
	if len(content) > e.cfg.SummaryBudget {
		content = content[:e.cfg.SummaryBudget]
	}
	return content
}

// Terminal nodes.

func (e *Engine) nodeOutput(_ context.Context, gs graph.State) (graph.State, error) {
	return gs, nil
}

func (e *Engine) nodeNotFound(_ context.Context, gs graph.State) (graph.State, error) {
	s, err := fromGraph(gs)
	if err != nil {
		return nil, err
	}
	s.Route = RouteNotFound
	s.Answer = NotFoundAnswer
	s.ContextVerdict = VerdictEmpty
	s.Confident = false
	s.Sources = nil
	return gs, nil
}

func (e *Engine) nodeFail(_ context.Context, gs graph.State) (graph.State, error) {
	s, err := fromGraph(gs)
	if err != nil {
		return nil, err
	}
	s.Route = RouteError
	if s.Answer == "" {
		s.Answer = "Something went wrong while answering. Please try again."
	}
	s.Confident = false
	return gs, nil
}

// mapSources back-maps the citations the model emitted onto the retrieved
// chunk set by filename, preferring a page-exact match, so each citation
// carries its document identity and session-or-library origin.
func mapSources(cited []generatorSource, chunks []document.Chunk) []Source {
	if len(cited) == 0 {
		return nil
	}
	out := make([]Source, 0, len(cited))
	for _, c := range cited {
		src := Source{
			Filename: c.Filename,
			Page:     c.Page,
			Excerpt:  c.Excerpt,
			Origin:   document.SourceSession,
		}
		var match *document.Chunk
		for i := range chunks {
			if chunks[i].Filename != c.Filename {
				continue
			}
			if match == nil {
				match = &chunks[i]
			}
			if chunks[i].Page == c.Page {
				match = &chunks[i]
				break
			}
		}
		if match != nil {
			src.DocID = match.DocID
			src.ChunkIdx = match.ChunkIdx
			src.Score = match.RerankScore
			src.Origin = match.Source
		}
		out = append(out, src)
	}
	return out
}
