package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"loremaster/internal/logging"
)

// GeminiConfig holds configuration for the Gemini API.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int32
	// Retry configuration
	MaxRetries int
	RetryDelay time.Duration
}

// GeminiClient implements Client for the Google Gemini API.
type GeminiClient struct {
	client *genai.Client
	config GeminiConfig
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 1 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
	}, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.config.Model
}

// Close is a no-op; the genai client holds no persistent resources.
func (c *GeminiClient) Close() error {
	return nil
}

// buildCall converts the generic request into Gemini contents and config.
// System messages move to the API's native system instruction parameter.
func (c *GeminiClient) buildCall(req *Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: c.config.MaxTokens,
	}
	if c.config.Temperature > 0 {
		config.Temperature = genai.Ptr(c.config.Temperature)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = req.MaxTokens
	}

	var contents []*genai.Content
	var pendingResults []*genai.Part

	flushResults := func() {
		if len(pendingResults) > 0 {
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: pendingResults,
			})
			pendingResults = nil
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			config.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)

		case RoleUser:
			flushResults()
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))

		case RoleAssistant:
			flushResults()
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: args,
					},
				})
			}
			if len(parts) == 0 {
				parts = append(parts, genai.NewPartFromText(" "))
			}
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: parts,
			})

		case RoleTool:
			// Consecutive tool results share one user content, as the API
			// expects every response for a turn's calls together.
			part := genai.NewPartFromFunctionResponse(m.ToolName, map[string]any{
				"content": m.Content,
			})
			part.FunctionResponse.ID = m.ToolCallID
			pendingResults = append(pendingResults, part)
		}
	}
	flushResults()

	if len(req.Tools) > 0 {
		tool := &genai.Tool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  convertSchemaToGemini(t.Parameters),
			})
		}
		config.Tools = []*genai.Tool{tool}
	}

	return contents, config
}

// Complete performs a blocking invocation.
func (c *GeminiClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	contents, config := c.buildCall(req)

	var lastErr error
	maxDelay := 30 * time.Second
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(c.config.RetryDelay, attempt-1, maxDelay)
			logging.Info("retrying Gemini request", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.client.Models.GenerateContent(ctx, c.modelFor(req), contents, config)
		if err == nil {
			return convertGeminiResponse(resp), nil
		}
		lastErr = err
		if !isRetryableGeminiError(err) {
			return nil, err
		}
		logging.Warn("Gemini request failed, will retry", "attempt", attempt, "error", err)
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.config.MaxRetries, lastErr)
}

// Stream performs a streaming invocation. The iterator is consumed to the
// end before Stream returns, so function calls are complete.
func (c *GeminiClient) Stream(ctx context.Context, req *Request, onText func(string)) (*Response, error) {
	contents, config := c.buildCall(req)

	out := &Response{}
	var text strings.Builder

	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.modelFor(req), contents, config) {
		if err != nil {
			return nil, err
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}

		candidate := resp.Candidates[0]
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
				if onText != nil {
					onText(part.Text)
				}
			}
			if part.FunctionCall != nil {
				out.ToolCalls = append(out.ToolCalls, convertGeminiFunctionCall(part.FunctionCall))
			}
		}
		if candidate.FinishReason != "" {
			out.FinishReason = finishReasonString(candidate.FinishReason, len(out.ToolCalls) > 0)
		}
	}

	out.Text = text.String()
	if out.FinishReason == "" {
		out.FinishReason = finishReasonString(genai.FinishReasonStop, len(out.ToolCalls) > 0)
	}
	return out, nil
}

func (c *GeminiClient) modelFor(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.config.Model
}

func convertGeminiResponse(resp *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, convertGeminiFunctionCall(part.FunctionCall))
		}
	}

	out.Text = text.String()
	out.FinishReason = finishReasonString(candidate.FinishReason, len(out.ToolCalls) > 0)
	return out
}

// convertGeminiFunctionCall maps a function call to the generic form,
// synthesizing an id when the API omits one.
func convertGeminiFunctionCall(fc *genai.FunctionCall) ToolCall {
	id := fc.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	args := "{}"
	if len(fc.Args) > 0 {
		if data, err := json.Marshal(fc.Args); err == nil {
			args = string(data)
		}
	}
	return ToolCall{
		ID:        id,
		Name:      fc.Name,
		Arguments: args,
	}
}

func finishReasonString(reason genai.FinishReason, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	switch reason {
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return "stop"
	}
}

func isRetryableGeminiError(err error) bool {
	if err == nil {
		return false
	}
	if isRetryableNetErr(err) {
		return true
	}
	errStr := err.Error()
	for _, pattern := range []string{"429", "500", "502", "503", "504", "UNAVAILABLE", "RESOURCE_EXHAUSTED"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
