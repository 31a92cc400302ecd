// Package llm defines the chat-model interface the pipeline calls. Providers
// live under contrib/llm; the pipeline never imports a vendor SDK directly.
package llm

import "context"

// Profile selects which pre-configured context budget a call runs with. Small
// covers classification and rewriting; Full covers answer generation and
// summarization.
type Profile int

const (
	ProfileFull Profile = iota
	ProfileSmall
)

// Client is a synchronous chat completion client. Call sends a single user
// prompt and returns the raw model text. Implementations must honor ctx
// cancellation.
type Client interface {
	Call(ctx context.Context, prompt string, profile Profile) (string, error)
}

// Func adapts a function to the Client interface, for tests and stubs.
type Func func(ctx context.Context, prompt string, profile Profile) (string, error)

// Call implements Client.
func (f Func) Call(ctx context.Context, prompt string, profile Profile) (string, error) {
	return f(ctx, prompt, profile)
}
