// Package llm defines the Provider interface for the language-model reply
// service.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, Anthropic
// Claude through any-llm, or a local Ollama instance) and exposes a single
// blocking completion call. Callers supply a system prompt carrying the
// character context plus the conversation so far; the provider returns the
// reply text.
//
// Implementors must be safe for concurrent use and must return promptly when
// the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/MrWong99/voxcall/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected before the conversation. It carries the
	// character context, passed through opaquely.
	SystemPrompt string

	// Messages is the ordered conversation. The last message is the user
	// utterance that drives the reply.
	Messages []types.Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero selects the
	// provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero selects the provider default.
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	// Content is the full text of the reply.
	Content string

	// Truncated reports that the model stopped at the token limit, so Content
	// may end mid-sentence.
	Truncated bool

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	//
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
