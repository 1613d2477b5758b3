// Package llm implements the tiered LLM router: provider adapters,
// fallback chains, retry with backoff, and usage records.
package llm

import "context"

// Request is one completion request to a provider. It deliberately has no
// room for a session identifier: session ids never cross the LLM boundary.
type Request struct {
	// System is the system prompt; may be empty.
	System string
	// Prompt is the user-role content.
	Prompt string
	// MaxTokens caps the reply length. Zero means the provider default.
	MaxTokens int
	// Temperature, zero means the provider default.
	Temperature float64
}

// Response is a provider's completion.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is the single capability every vendor adapter implements:
// given prompt and params, return a completion or a classified error.
// Adapters map native errors to the closed ErrorKind set; new vendors plug
// in without touching any other component.
type Provider interface {
	// Name returns the vendor name (anthropic, openai, ollama).
	Name() string
	// Model returns the configured model identifier.
	Model() string
	// Complete performs one completion attempt. The context carries the
	// per-attempt timeout.
	Complete(ctx context.Context, req Request) (*Response, error)
}
