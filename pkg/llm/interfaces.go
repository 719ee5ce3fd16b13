// Package llm wraps the chat-completion providers used by the model-backed
// element classifier.
package llm

import (
	"context"
)

// LLMClient generates a single completion for a prompt.
// Use this interface for dependency injection to enable fakes in tests.
type LLMClient interface {
	GenerateResponse(ctx context.Context, prompt string, systemMessage string) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string
}

// GenerateResponseResult is a completion plus token usage.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Config holds configuration for creating an LLM client.
type Config struct {
	Endpoint    string // Base URL, e.g., "https://api.openai.com/v1"
	Model       string
	APIKey      string // Optional for local endpoints
	Temperature float64
	MaxTokens   int
}
