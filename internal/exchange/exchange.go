// Package exchange sends one applicant turn to the language-model backend and
// returns the officer's reply.
//
// A [Client] is stateless apart from its configuration: every call carries the
// whole conversation so far together with the current document set, which is
// rendered into the system prompt. Transient overload is retried with a fixed
// delay; quota, authentication and malformed replies fail immediately. All
// errors wrap one of the [llm] sentinels where the backend allowed a
// classification, and [UserMessage] turns them into text the applicant sees.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/visaroom/internal/interview"
	"github.com/MrWong99/visaroom/internal/observe"
	"github.com/MrWong99/visaroom/internal/resilience"
	"github.com/MrWong99/visaroom/pkg/provider/llm"
)

// Generation defaults mirror the short, steady answers an officer gives.
const (
	DefaultTemperature = 0.6
	DefaultTopP        = 0.85
	DefaultMaxTokens   = 120
)

// ErrEmptyRequest is returned by [Client.Reply] when there is neither history
// nor a new message to answer.
var ErrEmptyRequest = errors.New("exchange: nothing to reply to")

// Config holds the dependencies of a [Client]. Provider is required.
type Config struct {
	// Provider is the completion backend, typically an
	// [resilience.LLMFallback] over the configured providers.
	Provider llm.Provider

	// Backend labels metrics and spans. Defaults to "llm".
	Backend string

	// Persona is the officer instruction text. Defaults to [DefaultPersona].
	Persona string

	// Temperature, TopP and MaxTokens tune generation. Zero selects the
	// package defaults.
	Temperature float64
	TopP        float64
	MaxTokens   int

	// Retry bounds overload retries. Its Retryable field is ignored; only
	// [llm.ErrOverloaded] is retried.
	Retry resilience.RetryPolicy

	// Metrics receives exchange measurements. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Request is one turn to answer.
type Request struct {
	// Documents is the applicant's current document set. A nil set renders as
	// "no documents uploaded yet".
	Documents interview.DocumentSet

	// History is the conversation so far, oldest first.
	History []interview.Entry

	// Message, when non-empty, is appended as the newest applicant turn.
	// Callers that already appended the utterance to History leave it empty.
	Message string
}

// Client produces officer replies.
type Client struct {
	provider    llm.Provider
	backend     string
	persona     string
	temperature float64
	topP        float64
	maxTokens   int
	retry       resilience.RetryPolicy
	metrics     *observe.Metrics
}

// New validates cfg and returns a ready Client.
func New(cfg Config) (*Client, error) {
	if cfg.Provider == nil {
		return nil, errors.New("exchange: Provider must not be nil")
	}
	c := &Client{
		provider:    cfg.Provider,
		backend:     cfg.Backend,
		persona:     cfg.Persona,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		maxTokens:   cfg.MaxTokens,
		retry:       cfg.Retry,
		metrics:     cfg.Metrics,
	}
	if c.backend == "" {
		c.backend = "llm"
	}
	if c.temperature == 0 {
		c.temperature = DefaultTemperature
	}
	if c.topP == 0 {
		c.topP = DefaultTopP
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.retry.Retryable = func(err error) bool { return errors.Is(err, llm.ErrOverloaded) }
	onRetry := cfg.Retry.OnRetry
	c.retry.OnRetry = func(attempt int, err error) {
		c.metrics.ExchangeRetries.Add(context.Background(), 1)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return c, nil
}

// Reply asks the backend for the officer's next line and returns it trimmed.
func (c *Client) Reply(ctx context.Context, req Request) (string, error) {
	msg := strings.TrimSpace(req.Message)
	if len(req.History) == 0 && msg == "" {
		return "", ErrEmptyRequest
	}

	ctx, span := observe.StartSpan(ctx, "exchange.reply")
	defer span.End()
	span.SetAttributes(
		attribute.String("backend", c.backend),
		attribute.Int("history.length", len(req.History)),
	)

	creq := c.buildRequest(req.Documents, req.History, msg)

	start := time.Now()
	resp, err := resilience.Retry(ctx, c.retry, func(ctx context.Context) (*llm.CompletionResponse, error) {
		resp, err := c.provider.Complete(ctx, creq)
		if err != nil {
			c.metrics.RecordProviderRequest(ctx, c.backend, "error")
			c.metrics.RecordProviderError(ctx, c.backend, ErrorKind(err))
			return nil, err
		}
		c.metrics.RecordProviderRequest(ctx, c.backend, "ok")
		return resp, nil
	})
	c.metrics.ExchangeDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorKind(err))
		return "", fmt.Errorf("exchange: reply: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		err := fmt.Errorf("exchange: reply: %w: empty reply", llm.ErrMalformedResponse)
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed")
		return "", err
	}

	observe.Logger(ctx).Debug("officer replied",
		"backend", c.backend,
		"history", len(req.History),
		"completion_tokens", resp.Usage.CompletionTokens)
	return text, nil
}

// buildRequest maps the transcript onto backend roles. Applicant turns become
// user messages and interviewer turns become assistant messages. Long
// interviews are trimmed to the backend's context window.
func (c *Client) buildRequest(docs interview.DocumentSet, history []interview.Entry, msg string) llm.CompletionRequest {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, e := range history {
		role := llm.RoleUser
		if e.Role == interview.RoleInterviewer {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: e.Text})
	}
	if msg != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: msg})
	}

	system := FormatSystemPrompt(c.persona, docs)
	if budget := historyBudget(c.provider.Capabilities(), system, c.maxTokens); budget >= 0 {
		var dropped int
		msgs, dropped = fitHistory(msgs, budget)
		if dropped > 0 {
			slog.Debug("trimmed interview history to fit context window",
				"backend", c.backend, "dropped", dropped, "budget_tokens", budget)
		}
	}

	return llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     msgs,
		Temperature:  c.temperature,
		TopP:         c.topP,
		MaxTokens:    c.maxTokens,
	}
}

// ErrorKind returns a short metric label for err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, llm.ErrOverloaded):
		return "overloaded"
	case errors.Is(err, llm.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, llm.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	default:
		return "other"
	}
}

// Applicant-visible failure texts.
const (
	QuotaMessage   = "API quota exceeded. Please try again tomorrow."
	GenericMessage = "I'm having trouble hearing you clearly. Please click 'Try Again' and speak a bit louder and slower."
)

// UserMessage maps a Reply error to the notice shown to the applicant.
func UserMessage(err error) string {
	if errors.Is(err, llm.ErrQuotaExceeded) {
		return QuotaMessage
	}
	return GenericMessage
}
