// Package llm defines the Provider interface for the language-model backends
// that voice the consular officer.
//
// A provider wraps a remote or local completion API (Groq, Gemini, OpenAI, a
// local Ollama instance, ...) and exposes a uniform request/response surface so
// the turn exchange never couples to a specific SDK.
//
// Implementors must be safe for concurrent use and must classify backend
// failures by wrapping one of the sentinel errors below, so that callers can
// decide on retries with errors.Is.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrOverloaded marks a transient backend failure (HTTP 503, "model
	// overloaded"). Callers may retry after a delay.
	ErrOverloaded = errors.New("llm: backend overloaded")

	// ErrQuotaExceeded marks a rate-limit, quota or credential rejection
	// (HTTP 429/401/403). Retrying will not help.
	ErrQuotaExceeded = errors.New("llm: quota exceeded")

	// ErrMalformedResponse marks a response that carried no usable text.
	ErrMalformedResponse = errors.New("llm: malformed response")
)

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the backend needs to produce one reply.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// normally from the "user" role and drives the reply.
	Messages []Message

	// SystemPrompt is injected before the conversation history. Providers
	// without a dedicated system field prepend it as a "system" message.
	SystemPrompt string

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// TopP is the nucleus sampling cutoff. Zero means provider default.
	TopP float64

	// MaxTokens caps the number of completion tokens. Zero means provider
	// default.
	MaxTokens int
}

// CompletionResponse is the full reply to a CompletionRequest.
type CompletionResponse struct {
	// Content is the text of the assistant reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	//
	// Returned errors wrap ErrOverloaded, ErrQuotaExceeded or
	// ErrMalformedResponse when the failure can be classified. Context
	// cancellation is returned unwrapped so callers can detect it.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}
