package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingAuth indicates that no credential is configured for the
// selected provider. Surfaced before any network call is attempted.
var ErrMissingAuth = errors.New("no API key configured for the active provider")

// Config represents the main application configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Model   ModelConfig   `yaml:"model"`
	Engine  EngineConfig  `yaml:"engine"`
	Agent   AgentConfig   `yaml:"agent"`
	Tools   ToolsConfig   `yaml:"tools"`
	Prompt  PromptConfig  `yaml:"prompt"`
	Logging LoggingConfig `yaml:"logging"`

	// Runtime version information
	Version string `yaml:"-"`
}

// APIConfig holds provider credentials and endpoints.
type APIConfig struct {
	// Separate keys for each provider
	OpenAIKey string `yaml:"openai_key,omitempty" env:"LOREMASTER_OPENAI_KEY"`
	GeminiKey string `yaml:"gemini_key,omitempty" env:"LOREMASTER_GEMINI_KEY"`
	OllamaKey string `yaml:"ollama_key,omitempty" env:"LOREMASTER_OLLAMA_KEY"` // Optional, for remote Ollama servers with auth

	// OpenAI-compatible endpoint (default: https://api.openai.com)
	OpenAIBaseURL string `yaml:"openai_base_url,omitempty" env:"LOREMASTER_OPENAI_BASE_URL"`

	// Ollama server URL (default: http://localhost:11434)
	OllamaBaseURL string `yaml:"ollama_base_url,omitempty" env:"LOREMASTER_OLLAMA_BASE_URL"`

	// Active provider: openai, gemini, ollama (default: openai)
	ActiveProvider string `yaml:"active_provider" env:"LOREMASTER_PROVIDER"`

	// Retry configuration for API calls
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig holds retry settings for provider calls.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// GetActiveProvider returns the active provider name.
func (c *APIConfig) GetActiveProvider() string {
	if c.ActiveProvider != "" {
		return c.ActiveProvider
	}
	return "openai"
}

// GetActiveKey returns the API key for the active provider.
func (c *APIConfig) GetActiveKey() string {
	switch c.GetActiveProvider() {
	case "openai":
		return c.OpenAIKey
	case "gemini":
		return c.GeminiKey
	case "ollama":
		// Ollama key is optional (local server doesn't need it)
		return c.OllamaKey
	}
	return ""
}

// SetProviderKey sets the API key for a specific provider.
func (c *APIConfig) SetProviderKey(provider, key string) {
	switch provider {
	case "openai":
		c.OpenAIKey = key
	case "gemini":
		c.GeminiKey = key
	case "ollama":
		c.OllamaKey = key
	}
}

// ModelConfig holds model selection and generation settings.
type ModelConfig struct {
	Name            string  `yaml:"name" env:"LOREMASTER_MODEL"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int32   `yaml:"max_output_tokens"`

	// Token budget for history trimming before each model call.
	MaxInputTokens int `yaml:"max_input_tokens"`
}

// EngineConfig describes how to spawn the game-state engine worker.
type EngineConfig struct {
	Command string            `yaml:"command" env:"LOREMASTER_ENGINE"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// AgentConfig holds agent loop settings.
type AgentConfig struct {
	// MaxTurns bounds tool-use rounds per user turn, not elapsed time.
	MaxTurns int `yaml:"max_turns"`

	// ToolResultLimit caps serialized tool result size in characters.
	ToolResultLimit int `yaml:"tool_result_limit"`
}

// ToolsConfig holds tool dispatcher settings.
type ToolsConfig struct {
	// CatalogTTL is how long the merged tool catalog is cached.
	CatalogTTL time.Duration `yaml:"catalog_ttl"`
}

// PromptConfig holds context assembler settings.
type PromptConfig struct {
	// CacheTTL is how long a composed system prompt is reused.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// WatchStore enables invalidating the prompt cache when the layer
	// store file is edited externally.
	WatchStore bool `yaml:"watch_store"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOREMASTER_LOG_LEVEL"`
	File  bool   `yaml:"file"`
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	provider := c.API.GetActiveProvider()
	switch provider {
	case "openai", "gemini":
		if c.API.GetActiveKey() == "" {
			return fmt.Errorf("%w: %s", ErrMissingAuth, provider)
		}
	case "ollama":
		// No key required for local Ollama.
	default:
		return fmt.Errorf("unknown provider: %s", provider)
	}

	if c.Engine.Command == "" {
		return errors.New("engine.command is required")
	}

	return nil
}
