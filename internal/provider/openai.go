package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loremaster/internal/logging"
)

// OpenAIConfig holds configuration for OpenAI-compatible chat APIs.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // Default: "https://api.openai.com"
	Model       string
	Temperature float32
	MaxTokens   int32
	// Retry configuration
	MaxRetries  int
	RetryDelay  time.Duration
	HTTPTimeout time.Duration
}

// OpenAIClient implements Client for OpenAI-compatible APIs.
type OpenAIClient struct {
	config     OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com"
	}
	if !strings.HasPrefix(config.BaseURL, "http://") && !strings.HasPrefix(config.BaseURL, "https://") {
		return nil, fmt.Errorf("invalid BaseURL: must start with http:// or https://")
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 1 * time.Second
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 120 * time.Second
	}

	return &OpenAIClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.config.Model
}

// Close releases idle connections.
func (c *OpenAIClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Wire types for the chat completions endpoint.

type oaToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type oaToolCall struct {
	Index    int                `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function oaToolCallFunction `json:"function"`
}

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaTool struct {
	Type     string       `json:"type"`
	Function oaToolDetail `json:"function"`
}

type oaToolDetail struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Tools       []oaTool    `json:"tools,omitempty"`
	Temperature *float32    `json:"temperature,omitempty"`
	MaxTokens   int32       `json:"max_tokens,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

type oaChoice struct {
	Message      oaMessage `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

type oaCompletion struct {
	Choices []oaChoice `json:"choices"`
}

type oaDelta struct {
	Content   string       `json:"content"`
	ToolCalls []oaToolCall `json:"tool_calls"`
}

type oaStreamChoice struct {
	Delta        oaDelta `json:"delta"`
	FinishReason string  `json:"finish_reason"`
}

type oaStreamChunk struct {
	Choices []oaStreamChoice `json:"choices"`
	Error   *oaAPIError      `json:"error"`
}

type oaAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (c *OpenAIClient) buildRequest(req *Request, stream bool) *oaRequest {
	out := &oaRequest{
		Model:     c.config.Model,
		MaxTokens: c.config.MaxTokens,
		Stream:    stream,
	}
	if req.Model != "" {
		out.Model = req.Model
	}
	if c.config.Temperature > 0 {
		t := c.config.Temperature
		out.Temperature = &t
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}

	for _, m := range req.Messages {
		wire := oaMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, oaToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: oaToolCallFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out.Messages = append(out.Messages, wire)
	}

	for _, t := range req.Tools {
		params := any(t.Parameters)
		if t.Parameters == nil {
			params = map[string]any{"type": "object"}
		}
		out.Tools = append(out.Tools, oaTool{
			Type: "function",
			Function: oaToolDetail{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	return out
}

// doRequest performs one HTTP attempt and returns the open response body.
// Non-2xx responses become *HTTPError.
func (c *OpenAIClient) doRequest(ctx context.Context, body *oaRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/v1/chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = []byte("(failed to read response body)")
		}
		resp.Body.Close()
		logging.Warn("chat API error", "status", resp.StatusCode, "body", string(respBody))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("API error (status %d): %s", resp.StatusCode, string(respBody)),
		}
	}

	return resp, nil
}

// doRequestWithRetry wraps doRequest with exponential backoff on retryable
// statuses and network errors.
func (c *OpenAIClient) doRequestWithRetry(ctx context.Context, body *oaRequest) (*http.Response, error) {
	var lastErr error
	maxDelay := 30 * time.Second

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(c.config.RetryDelay, attempt-1, maxDelay)
			logging.Info("retrying chat request", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			if !isRetryableStatus(httpErr.StatusCode) {
				return nil, err
			}
		} else if !isRetryableNetErr(err) {
			return nil, err
		}

		logging.Warn("chat request failed, will retry", "attempt", attempt, "error", err)
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.config.MaxRetries, lastErr)
}

// Complete performs a blocking invocation.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.doRequestWithRetry(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var completion oaCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	choice := completion.Choices[0]
	out := &Response{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return out, nil
}

// Stream performs a streaming invocation. Text deltas go to onText as they
// arrive; tool-call deltas accumulate in a ToolCallAssembler and are
// finalized only after the stream ends, so a partial fragment is never
// visible to the caller.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request, onText func(string)) (*Response, error) {
	resp, err := c.doRequestWithRetry(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	assembler := NewToolCallAssembler()
	out := &Response{}
	var text strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()
		var data string
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
		} else if strings.HasPrefix(line, "data:") {
			data = strings.TrimPrefix(line, "data:")
		} else {
			continue
		}

		if data == "[DONE]" {
			break
		}

		var chunk oaStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logging.Warn("failed to parse SSE event", "error", err, "data", truncateForLog(data, 200))
			continue
		}

		if chunk.Error != nil {
			return nil, fmt.Errorf("API error (%s): %s", chunk.Error.Type, chunk.Error.Message)
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if onText != nil {
				onText(choice.Delta.Content)
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			assembler.AddDelta(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			out.FinishReason = choice.FinishReason
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read failed: %w", err)
	}

	out.Text = text.String()
	out.ToolCalls = assembler.Finalize()
	return out, nil
}

func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
