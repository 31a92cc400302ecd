// Package pipeline is the query engine: a state machine that routes a user
// query, analyzes and rewrites it, retrieves and reranks context, generates
// an answer and judges whether that answer can be trusted, retrying with
// fresh rewrites a bounded number of times.
package pipeline

import (
	"fmt"

	"github.com/l88labs/paramanandha/document"
	"github.com/l88labs/paramanandha/graph"
	"github.com/l88labs/paramanandha/store"
)

// Routes a query can take.
const (
	RouteRAG       = "rag"
	RouteSummarize = "summarize"
	RouteChat      = "chat"
	RouteError     = "error"
	RouteNotFound  = "not_found"
)

// Query types assigned by the analyzer.
const (
	QueryTypeSimple     = "simple"
	QueryTypeMultiHop   = "multi_hop"
	QueryTypeMath       = "math"
	QueryTypeComparison = "comparison"
)

// Rewriting strategies matched to the query type.
const (
	StrategySingle    = "single"
	StrategyDecompose = "decompose"
	StrategyStepBack  = "step_back"
)

// Context verdicts the generator reports about its retrieved context.
const (
	VerdictSufficient = "SUFFICIENT"
	VerdictGap        = "GAP"
	VerdictEmpty      = "EMPTY"
)

// Self-evaluation grades.
const (
	EvalGood   = "GOOD"
	EvalUnsure = "UNSURE"
	EvalBad    = "BAD"
)

// NotFoundAnswer is returned when nothing relevant exists in the selected
// sources.
const NotFoundAnswer = "No information found in the selected sources."

// Source is one citation behind an answer. Origin says whether the cited
// passage came from the session's own documents or the shared library.
type Source struct {
	DocID    string          `json:"doc_id"`
	Filename string          `json:"filename"`
	Page     int             `json:"page"`
	ChunkIdx int             `json:"chunk_idx"`
	Excerpt  string          `json:"excerpt"`
	Score    float32         `json:"score"`
	Origin   document.Source `json:"source"`
}

// Response is the result of one query run. ContextVerdict is the generator's
// judgment of its evidence; Verdict is the self-evaluator's grade of the
// answer, empty when the evaluator did not run.
type Response struct {
	Answer         string   `json:"answer"`
	Reasoning      string   `json:"reasoning,omitempty"`
	Sources        []Source `json:"sources"`
	Route          string   `json:"route"`
	ContextVerdict string   `json:"context_verdict"`
	Verdict        string   `json:"verdict,omitempty"`
	MissingInfo    string   `json:"missing_info,omitempty"`
	Confident      bool     `json:"confident"`
	Cached         bool     `json:"cached"`
	RewriteCount   int      `json:"rewrite_count"`
}

// state is the typed pipeline state threaded through the graph.
type state struct {
	SessionID      string
	Query          string
	WebMode        bool
	SelectedDocIDs []string
	History        []store.Message

	Route        string
	QueryType    string
	Strategy     string
	Queries      []string
	RewriteCount int
	LastVerdict  string

	Chunks         []document.Chunk
	TopRerankScore float32

	ContextVerdict string
	Reasoning      string
	MissingInfo    string
	EvalGrade      string
	Answer         string
	Sources        []Source
	Confident      bool
}

// stateKey hides the typed state inside the generic graph state.
const stateKey = "pipeline.state"

func toGraph(s *state) graph.State {
	return graph.State{stateKey: s}
}

func fromGraph(gs graph.State) (*state, error) {
	s, ok := gs[stateKey].(*state)
	if !ok {
		return nil, fmt.Errorf("pipeline state missing from graph state")
	}
	return s, nil
}

func (s *state) response() Response {
	return Response{
		Answer:         s.Answer,
		Reasoning:      s.Reasoning,
		Sources:        s.Sources,
		Route:          s.Route,
		ContextVerdict: s.ContextVerdict,
		Verdict:        s.EvalGrade,
		MissingInfo:    s.MissingInfo,
		Confident:      s.Confident,
		RewriteCount:   s.RewriteCount,
	}
}
