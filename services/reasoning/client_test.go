package reasoning

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New("llamacpp")
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bare object", `{"themes": []}`, `{"themes": []}`},
		{"surrounding whitespace", "\n  {\"themes\": []}\n", `{"themes": []}`},
		{"json fence", "```json\n{\"themes\": []}\n```", `{"themes": []}`},
		{"plain fence", "```\n{\"themes\": []}\n```", `{"themes": []}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractJSON(tc.content)
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

type countingProvider struct {
	calls int
}

func (p *countingProvider) Complete(_ context.Context, _ string) (json.RawMessage, Meta, error) {
	p.calls++
	return json.RawMessage(`{}`), Meta{Model: "m", Provider: "p"}, nil
}

func TestNewThrottled_PassesThrough(t *testing.T) {
	inner := &countingProvider{}
	p := NewThrottled(inner, 1000)

	raw, meta, err := p.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
	assert.Equal(t, "m", meta.Model)
	assert.Equal(t, 1, inner.calls)
}

func TestNewThrottled_HonorsContextCancellation(t *testing.T) {
	inner := &countingProvider{}
	p := NewThrottled(inner, 0.001) // effectively never refills

	// Burn the single burst token.
	_, _, err := p.Complete(context.Background(), "prompt")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err = p.Complete(ctx, "prompt")
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
