package llm

import (
	"context"
	"fmt"

	"yaver/internal/config"
)

// NewFromConfig constructs the generator named by the configuration.
// "openai" and "ollama" both use the OpenAI-compatible client; they
// differ only in defaults.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Generator, error) {
	timeout, err := cfg.LLMTimeout()
	if err != nil {
		return nil, fmt.Errorf("llm.timeout: %w", err)
	}

	switch cfg.LLM.Provider {
	case "openai", "ollama", "":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: timeout,
		}), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.LLM.Provider)
	}
}
