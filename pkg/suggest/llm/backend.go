// Package llm provides a provider-agnostic chat-completion client with an
// Anthropic primary backend and a Bedrock secondary backend behind the same
// interface (§4.7, §6 "LLM provider: chat-completion with (system, user)
// messages and model, temperature, max_tokens controls").
package llm

import "context"

// Request is one chat-completion call. System/User are plain text; the
// caller (UnifiedPromptBuilder) owns their exact wording.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Response is a successful completion.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Backend is one chat-completion provider. Anthropic and Bedrock both
// implement it so Client can fail over between them without the caller
// knowing which one answered.
type Backend interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() string
}
