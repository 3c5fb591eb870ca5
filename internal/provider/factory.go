package provider

import (
	"context"
	"fmt"

	"loremaster/internal/config"
)

// New creates the adapter for the configured provider. A keyed provider
// without a credential fails with config.ErrMissingAuth before any network
// call is made.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	switch provider := cfg.API.GetActiveProvider(); provider {
	case "openai":
		if cfg.API.OpenAIKey == "" {
			return nil, fmt.Errorf("provider openai: %w", config.ErrMissingAuth)
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.API.OpenAIKey,
			BaseURL:     cfg.API.OpenAIBaseURL,
			Model:       cfg.Model.Name,
			Temperature: cfg.Model.Temperature,
			MaxTokens:   cfg.Model.MaxOutputTokens,
			MaxRetries:  cfg.API.Retry.MaxRetries,
			RetryDelay:  cfg.API.Retry.RetryDelay,
		})

	case "gemini":
		if cfg.API.GeminiKey == "" {
			return nil, fmt.Errorf("provider gemini: %w", config.ErrMissingAuth)
		}
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:      cfg.API.GeminiKey,
			Model:       cfg.Model.Name,
			Temperature: cfg.Model.Temperature,
			MaxTokens:   cfg.Model.MaxOutputTokens,
			MaxRetries:  cfg.API.Retry.MaxRetries,
			RetryDelay:  cfg.API.Retry.RetryDelay,
		})

	case "ollama":
		// Local servers need no credential
		return NewOllamaClient(OllamaConfig{
			BaseURL:     cfg.API.OllamaBaseURL,
			APIKey:      cfg.API.OllamaKey,
			Model:       cfg.Model.Name,
			Temperature: cfg.Model.Temperature,
			MaxTokens:   cfg.Model.MaxOutputTokens,
			MaxRetries:  cfg.API.Retry.MaxRetries,
			RetryDelay:  cfg.API.Retry.RetryDelay,
		})

	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}
