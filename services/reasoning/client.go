package reasoning

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"
)

// Meta identifies which model answered a completion. Recorded in the run
// ledger; never used for control flow, so providers stay swappable.
type Meta struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

// Provider is the standard interface for any reasoning backend. It accepts
// a serialized prompt and returns structured JSON output; schema validation
// happens in the caller, not here.
type Provider interface {
	Complete(ctx context.Context, prompt string) (json.RawMessage, Meta, error)
}

// New creates a provider for the configured backend type.
func New(backend string) (Provider, error) {
	switch backend {
	case "openai", "":
		return NewOpenAIProvider()
	case "claude", "anthropic":
		return NewAnthropicProvider()
	default:
		return nil, fmt.Errorf("unknown reasoning backend %q", backend)
	}
}

// throttled wraps a Provider with a token-bucket QPS guard so a burst of
// stage invocations cannot trip upstream provider rate limits.
type throttled struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewThrottled bounds calls to p at qps with a burst of 1.
func NewThrottled(p Provider, qps float64) Provider {
	return &throttled{inner: p, limiter: rate.NewLimiter(rate.Limit(qps), 1)}
}

func (t *throttled) Complete(ctx context.Context, prompt string) (json.RawMessage, Meta, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, Meta{}, fmt.Errorf("provider throttle: %w", err)
	}
	return t.inner.Complete(ctx, prompt)
}
