package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/config"
)

// Provider names accepted in configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewClientFromConfig creates the client selected by cfg.Provider.
func NewClientFromConfig(cfg config.LLMConfig, logger *zap.Logger) (LLMClient, error) {
	if !cfg.IsAvailable() {
		return nil, fmt.Errorf("no LLM model configured")
	}

	clientCfg := &Config{
		Endpoint:    config.ResolveURLForDocker(cfg.Endpoint),
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAIClient(clientCfg, logger)
	case ProviderAnthropic:
		return NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
