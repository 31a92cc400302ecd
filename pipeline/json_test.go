package pipeline

import "testing"

type modelReply struct {
	Answer  string `json:"answer"`
	Verdict string `json:"context_verdict"`
}

func TestDecodeModelJSONPlain(t *testing.T) {
	got, err := decodeModelJSON[modelReply](`{"answer": "42", "context_verdict": "SUFFICIENT"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Answer != "42" || got.Verdict != "SUFFICIENT" {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeModelJSONMarkdownFence(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"answer\": \"yes\", \"context_verdict\": \"GAP\"}\n```\nHope that helps."
	got, err := decodeModelJSON[modelReply](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Answer != "yes" || got.Verdict != "GAP" {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeModelJSONSurroundingProse(t *testing.T) {
	raw := `Sure! {"answer": "maybe", "context_verdict": "SUFFICIENT"} — let me know.`
	got, err := decodeModelJSON[modelReply](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Answer != "maybe" {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeModelJSONRawNewlinesInStrings(t *testing.T) {
	raw := "{\"answer\": \"first line\nsecond line\", \"context_verdict\": \"SUFFICIENT\"}"
	got, err := decodeModelJSON[modelReply](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Answer != "first line\nsecond line" {
		t.Errorf("answer = %q", got.Answer)
	}
}

func TestDecodeModelJSONTabsAndCarriageReturns(t *testing.T) {
	raw := "{\"answer\": \"a\tb\rc\", \"context_verdict\": \"SUFFICIENT\"}"
	got, err := decodeModelJSON[modelReply](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Answer != "a\tb\rc" {
		t.Errorf("answer = %q", got.Answer)
	}
}

func TestDecodeModelJSONEscapedQuoteInString(t *testing.T) {
	raw := `{"answer": "she said \"hi\"", "context_verdict": "SUFFICIENT"}`
	got, err := decodeModelJSON[modelReply](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Answer != `she said "hi"` {
		t.Errorf("answer = %q", got.Answer)
	}
}

func TestDecodeModelJSONNoObject(t *testing.T) {
	if _, err := decodeModelJSON[modelReply]("I could not produce JSON, sorry."); err == nil {
		t.Error("expected error for output without JSON")
	}
}
