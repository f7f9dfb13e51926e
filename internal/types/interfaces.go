package types

import (
	"context"
)

// ReasoningClient defines the interface for reasoning-service providers.
type ReasoningClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// CompleteWithTools sends a prompt with tool definitions and returns
	// the response with any tool calls. This is how the brain asks the
	// service to pick exactly one action.
	CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []ToolDefinition) (*ToolResponse, error)
}

// ToolDefinition describes an action the reasoning service can invoke.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"` // JSON Schema for parameters
}

// ToolCall represents an action invocation requested by the service.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// UsageMetadata captures token usage metrics from the reasoning service.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ToolResponse contains both free text and tool calls from one call.
type ToolResponse struct {
	Text       string        `json:"text"`
	ToolCalls  []ToolCall    `json:"tool_calls"`
	StopReason string        `json:"stop_reason"`
	Usage      UsageMetadata `json:"usage"`
}

// ContextSource is the external sensor collaborator. Observe returns a
// sanitized snapshot of the environment; Changes delivers a signal when
// the environment changed enough to justify waking early. The core never
// blocks on Changes.
type ContextSource interface {
	Observe(ctx context.Context) (ContextSnapshot, error)
	Changes() <-chan struct{}
}

// Notifier is the UI/notification collaborator. Implementations must not
// block; the core calls it from the scheduling loop.
type Notifier interface {
	Notify(severity Severity, title, body string)
}
