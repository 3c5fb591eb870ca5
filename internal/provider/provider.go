// Package provider adapts chat-completion backends to one request/response
// model so the agent loop never sees wire formats.
package provider

import (
	"context"

	"loremaster/internal/engine"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-requested tool invocation. Arguments stay raw JSON
// text; the dispatcher parses them.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is one entry of the conversation history.
type Message struct {
	Role    Role
	Content string

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall

	// ToolCallID and ToolName are set on tool result messages.
	ToolCallID string
	ToolName   string
}

// ToolDef describes a tool offered to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  *engine.JSONSchema
}

// Request is a single model invocation.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDef
	Temperature float32
	MaxTokens   int32
}

// Response is the model's complete reply for one turn.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
}

// Client is implemented by each backend adapter.
type Client interface {
	// Complete performs a blocking invocation.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream performs a streaming invocation, calling onText for each text
	// fragment as it arrives. Stream returns only after the stream is fully
	// consumed, so the returned tool calls are always complete.
	Stream(ctx context.Context, req *Request, onText func(string)) (*Response, error)

	// Model returns the configured model name.
	Model() string

	// Close releases client resources.
	Close() error
}
