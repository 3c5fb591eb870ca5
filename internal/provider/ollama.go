package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"loremaster/internal/logging"
)

// OllamaConfig holds configuration for a local or remote Ollama server.
type OllamaConfig struct {
	BaseURL     string // Default: "http://localhost:11434"
	APIKey      string // Optional, for remote servers with auth
	Model       string
	Temperature float32
	MaxTokens   int32
	HTTPTimeout time.Duration
	// Retry configuration
	MaxRetries int
	RetryDelay time.Duration
}

// OllamaClient implements Client for the Ollama API.
type OllamaClient struct {
	client *api.Client
	config OllamaConfig
}

// ollamaAuthTransport adds an Authorization header to every request.
type ollamaAuthTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *ollamaAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.apiKey)
	return t.base.RoundTrip(clone)
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(config OllamaConfig) (*OllamaClient, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 120 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 1 * time.Second
	}

	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}

	if baseURL.Scheme == "http" {
		host := baseURL.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			logging.Warn("Ollama connection uses unencrypted HTTP to remote host", "host", host)
		}
	}

	httpClient := &http.Client{Timeout: config.HTTPTimeout}
	if config.APIKey != "" {
		httpClient.Transport = &ollamaAuthTransport{
			base:   http.DefaultTransport,
			apiKey: config.APIKey,
		}
	}

	return &OllamaClient{
		client: api.NewClient(baseURL, httpClient),
		config: config,
	}, nil
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string {
	return c.config.Model
}

// Close is a no-op; the Ollama client holds no persistent resources.
func (c *OllamaClient) Close() error {
	return nil
}

func (c *OllamaClient) buildRequest(req *Request, stream bool) *api.ChatRequest {
	out := &api.ChatRequest{
		Model:    c.config.Model,
		Messages: convertMessagesToOllama(req.Messages),
		Stream:   &stream,
		Options: map[string]any{
			"num_predict": c.config.MaxTokens,
		},
	}
	if req.Model != "" {
		out.Model = req.Model
	}
	if c.config.Temperature > 0 {
		out.Options["temperature"] = c.config.Temperature
	}
	if len(req.Tools) > 0 {
		out.Tools = convertToolsToOllama(req.Tools)
	}
	return out
}

// Complete performs a blocking invocation.
func (c *OllamaClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	return c.chat(ctx, c.buildRequest(req, false), nil)
}

// Stream performs a streaming invocation.
func (c *OllamaClient) Stream(ctx context.Context, req *Request, onText func(string)) (*Response, error) {
	return c.chat(ctx, c.buildRequest(req, true), onText)
}

// chat runs the request with retry and accumulates the response. The api
// callback runs synchronously, so when Chat returns every tool call has
// been collected.
func (c *OllamaClient) chat(ctx context.Context, req *api.ChatRequest, onText func(string)) (*Response, error) {
	var lastErr error
	maxDelay := 30 * time.Second

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(c.config.RetryDelay, attempt-1, maxDelay)
			logging.Info("retrying Ollama request", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, emitted, err := c.doChat(ctx, req, onText)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Never retry once text reached the caller; a restarted stream
		// would repeat it.
		if emitted || !c.isRetryableError(err) {
			return nil, c.wrapError(err)
		}

		logging.Warn("Ollama request failed, will retry", "attempt", attempt, "error", err)
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.config.MaxRetries, c.wrapError(lastErr))
}

func (c *OllamaClient) doChat(ctx context.Context, req *api.ChatRequest, onText func(string)) (*Response, bool, error) {
	out := &Response{}
	var text strings.Builder
	emitted := false

	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			text.WriteString(resp.Message.Content)
			if onText != nil {
				emitted = true
				onText(resp.Message.Content)
			}
		}

		for _, tc := range resp.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, convertOllamaToolCall(tc))
		}

		if resp.Done {
			out.FinishReason = resp.DoneReason
		}
		return nil
	})
	if err != nil {
		return nil, emitted, err
	}

	out.Text = text.String()
	if out.FinishReason == "" {
		out.FinishReason = "stop"
	}
	if len(out.ToolCalls) > 0 && out.FinishReason == "stop" {
		out.FinishReason = "tool_calls"
	}
	return out, emitted, nil
}

func convertMessagesToOllama(messages []Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msg := api.Message{
			Role:    string(m.Role),
			Content: m.Content,
		}
		if m.Role == RoleTool {
			msg.ToolName = m.ToolName
			msg.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			args := api.NewToolCallFunctionArguments()
			var parsed map[string]any
			if err := json.Unmarshal([]byte(tc.Arguments), &parsed); err == nil {
				for k, v := range parsed {
					args.Set(k, v)
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				ID: tc.ID,
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func convertToolsToOllama(tools []ToolDef) []api.Tool {
	out := make([]api.Tool, 0, len(tools))
	for _, t := range tools {
		params := api.ToolFunctionParameters{
			Type:       "object",
			Properties: api.NewToolPropertiesMap(),
		}
		if t.Parameters != nil {
			params.Required = t.Parameters.Required
			for name, propSchema := range t.Parameters.Properties {
				prop := api.ToolProperty{
					Description: propSchema.Description,
				}
				if propSchema.Type != "" {
					prop.Type = api.PropertyType{strings.ToLower(propSchema.Type)}
				}
				if len(propSchema.Enum) > 0 {
					enumVals := make([]any, len(propSchema.Enum))
					for i, v := range propSchema.Enum {
						enumVals[i] = v
					}
					prop.Enum = enumVals
				}
				params.Properties.Set(name, prop)
			}
		}
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// convertOllamaToolCall maps an Ollama tool call to the generic form,
// synthesizing an id when the server omits one.
func convertOllamaToolCall(tc api.ToolCall) ToolCall {
	id := tc.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	args := "{}"
	if m := tc.Function.Arguments.ToMap(); len(m) > 0 {
		if data, err := json.Marshal(m); err == nil {
			args = string(data)
		}
	}
	return ToolCall{
		ID:        id,
		Name:      tc.Function.Name,
		Arguments: args,
	}
}

func (c *OllamaClient) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if isRetryableNetErr(err) {
		return true
	}
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		return isRetryableStatus(statusErr.StatusCode)
	}
	return false
}

// wrapError adds actionable context to common Ollama failures.
func (c *OllamaClient) wrapError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return fmt.Errorf("Ollama server is not running (start it with: ollama serve): %w", err)
	}

	var statusErr *api.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == 404 {
		return fmt.Errorf("model %q is not installed (pull it with: ollama pull %s): %w",
			c.config.Model, c.config.Model, err)
	}

	return err
}
