package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicBaseURL    = "https://api.anthropic.com/v1/messages"

	anthropicSystemPrompt = "You are an analysis engine for workflow improvement data. " +
		"Respond with a single JSON object and nothing else."
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Model   string             `json:"model"`
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type AnthropicProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
}

func NewAnthropicProvider() (*AnthropicProvider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	model := os.Getenv("CLAUDE_MODEL")

	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Anthropic API Key from container secrets")
		}
	}
	if apiKey == "" {
		slog.Warn("Anthropic API Key is missing.")
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is missing")
	}

	if model == "" {
		model = "claude-3-5-sonnet-20240620"
		slog.Info("CLAUDE_MODEL not set, defaulting to", "model", model)
	}

	return &AnthropicProvider{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
	}, nil
}

// Complete implements the Provider interface.
func (a *AnthropicProvider) Complete(ctx context.Context, prompt string) (json.RawMessage, Meta, error) {
	meta := Meta{Model: a.model, Provider: "anthropic"}

	reqBody := anthropicRequest{
		Model:     a.model,
		System:    anthropicSystemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens: 8192,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, meta, fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicBaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, meta, fmt.Errorf("build anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		slog.Error("Anthropic API call failed", "error", err)
		return nil, meta, fmt.Errorf("Anthropic API call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, meta, fmt.Errorf("read anthropic response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, meta, fmt.Errorf("decode anthropic response: %w", err)
	}
	if parsed.Error != nil {
		slog.Error("Anthropic returned an error", "type", parsed.Error.Type, "message", parsed.Error.Message)
		return nil, meta, fmt.Errorf("anthropic error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, meta, fmt.Errorf("anthropic returned status %d", resp.StatusCode)
	}
	if parsed.Model != "" {
		meta.Model = parsed.Model
	}

	for _, block := range parsed.Content {
		if block.Type == "text" {
			return ExtractJSON(block.Text), meta, nil
		}
	}
	return nil, meta, fmt.Errorf("anthropic response had no text content")
}

// ExtractJSON strips markdown code fences some models wrap around JSON
// output despite instructions, returning the inner payload.
func ExtractJSON(content string) json.RawMessage {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	return json.RawMessage(trimmed)
}
