package resilience

import (
	"context"

	"github.com/MrWong99/visaroom/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several
// language-model backends, each behind its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional backend tried after the ones already
// registered.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy backend.
//
// Sentinel classes (llm.ErrOverloaded, llm.ErrQuotaExceeded, ...) of the last
// backend's error stay visible through errors.Is on the returned error.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return p.Complete(ctx, req)
	})
}

// Capabilities returns the primary's capabilities.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return llm.ModelCapabilities{}
}

// Backends returns the backend names in failover order.
func (f *LLMFallback) Backends() []string {
	return f.group.Names()
}

// BreakerStates reports the breaker state of every backend.
func (f *LLMFallback) BreakerStates() map[string]State {
	return f.group.States()
}
