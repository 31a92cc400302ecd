package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/l88labs/paramanandha/document"
	"github.com/l88labs/paramanandha/store"
)

// persona opens every user-facing generation prompt.
const persona = "You are Paramanandha, a careful research assistant. You answer strictly from the material you are given, you cite where each claim comes from, and you say plainly when the material does not contain the answer."

const analyzerPrompt = `Classify the user's question into exactly one category and one strategy.

Categories:
- "simple": a single fact or definition, answerable from one passage
- "multi_hop": needs information combined from several passages
- "math": needs calculation or numeric reasoning over retrieved values
- "comparison": asks to compare or contrast two or more things

Strategies (matched to category):
- "simple": "single"
- "multi_hop": "decompose"
- "math": "step_back"
- "comparison": "decompose"

Question: %s

Respond with JSON only: {"query_type": "<category>", "strategy": "<strategy>"}`

func buildAnalyzerPrompt(query string) string {
	return fmt.Sprintf(analyzerPrompt, query)
}

// acronymRe matches all-caps tokens of two or more characters.
var acronymRe = regexp.MustCompile(`\b[A-Z][A-Z0-9]+\b`)

// acronymHint lists the all-caps tokens of the query so rewrites can spell
// them out. Returns "" when the query has none.
func acronymHint(query string) string {
	matches := acronymRe.FindAllString(query, -1)
	if len(matches) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(matches))
	var uniq []string
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		uniq = append(uniq, m)
	}
	return fmt.Sprintf("[acronyms to expand: %s]", strings.Join(uniq, ", "))
}

func buildRewriterPrompt(query, queryType string, alternatives int, retry bool, lastVerdict string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Classify the user's question and rewrite it into up to %d alternative search queries for a document search engine. Vary the wording and surface the key terms; expand acronyms when you can.

Categories: "simple", "multi_hop", "math", "comparison".
Strategies: "single" (one clear rewrite), "decompose" (sub-questions), "step_back" (broader principle).

Question type so far: %s
Question: %s`, alternatives, queryType, query)

	if hint := acronymHint(query); hint != "" {
		b.WriteString("\n")
		b.WriteString(hint)
	}
	if retry {
		fmt.Fprintf(&b, "\n\nA previous search with this question found context judged %s. Take a different angle this time: use synonyms, related terminology, or decompose the question. Never repeat an earlier query.", lastVerdict)
	}

	b.WriteString("\n\nRespond with JSON only: {\"query_type\": \"...\", \"strategy\": \"...\", \"rewritten_queries\": [\"...\"]}")
	return b.String()
}

func buildGeneratorPrompt(query string, chunks []document.Chunk) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\nContext passages:\n")
	for i, ch := range chunks {
		fmt.Fprintf(&b, "\n[%d] %s (page %d)\n%s\n", i+1, ch.Filename, ch.Page, ch.Text)
	}
	fmt.Fprintf(&b, `
Question: %s

First judge the context, then answer using only the context passages above.
- context_verdict: "SUFFICIENT" if the context fully answers the question, "GAP" if it answers only part of it, "EMPTY" if it does not answer it at all
- reasoning: one or two sentences on how the context relates to the question
- answer: the answer, grounded in the context; if the context has a gap, say what is missing instead of guessing
- missing_info: what the context lacks (only if GAP, else "")
- sources: the passages you used, each with its filename, page and the quoted excerpt

Respond with JSON only:
{"context_verdict": "...", "reasoning": "...", "answer": "...", "missing_info": "...", "sources": [{"filename": "...", "page": 1, "excerpt": "..."}]}`, query)
	return b.String()
}

func buildChatPrompt(query string, history []store.Message) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString(" No documents are attached to this conversation, so answer from general knowledge and keep it brief.\n")
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	fmt.Fprintf(&b, "\nuser: %s\nassistant:", query)
	return b.String()
}

func buildSummaryPrompt(query, content string) string {
	var b strings.Builder
	b.WriteString(persona)
	fmt.Fprintf(&b, `

The user asked: %s

Summarize the following document content. Cover the main points faithfully, keep the structure of the material, and do not add information that is not in it.

%s`, query, content)
	return b.String()
}
