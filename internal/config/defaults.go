package config

import "time"

// Default configuration values.
const (
	// Agent loop
	DefaultMaxTurns        = 25
	DefaultToolResultLimit = 8000

	// Token budget for history trimming
	DefaultMaxInputTokens = 128000

	// Generation
	DefaultMaxOutputTokens = 4096
	DefaultTemperature     = 0.9

	// Caches
	DefaultCatalogTTL = 60 * time.Second
	DefaultPromptTTL  = 30 * time.Second

	// Retry settings
	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second
)

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			ActiveProvider: "openai",
			Retry: RetryConfig{
				MaxRetries: DefaultMaxRetries,
				RetryDelay: DefaultRetryDelay,
			},
		},
		Model: ModelConfig{
			Name:            "gpt-4o",
			Temperature:     DefaultTemperature,
			MaxOutputTokens: DefaultMaxOutputTokens,
			MaxInputTokens:  DefaultMaxInputTokens,
		},
		Agent: AgentConfig{
			MaxTurns:        DefaultMaxTurns,
			ToolResultLimit: DefaultToolResultLimit,
		},
		Tools: ToolsConfig{
			CatalogTTL: DefaultCatalogTTL,
		},
		Prompt: PromptConfig{
			CacheTTL:   DefaultPromptTTL,
			WatchStore: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
