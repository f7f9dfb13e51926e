// Package actions provides the dispatch table from action name to
// handler. Each action carries a JSON-schema parameter description that
// is advertised to the reasoning service, and an optional permission
// scope the executor gates on. Handlers return the interval until the
// next ambient decision, which is how adaptive scheduling works:
// watching yields a long interval, acting yields a short one.
package actions

import (
	"context"
	"time"

	"familiar/internal/types"
)

// Property describes a single parameter for the JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array").
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// Schema defines the parameters of one action.
type Schema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// HandlerResult is what a handler returns: the next ambient wake
// interval and an optional output string fed back into conversation
// state during chained tool calls.
type HandlerResult struct {
	NextInterval time.Duration
	Output       string
}

// HandlerFunc executes one action. Handlers are pure with respect to
// the executor's internals: they see only arguments and a read-only
// context snapshot.
type HandlerFunc func(ctx context.Context, args map[string]any, snapshot types.ContextSnapshot) (HandlerResult, error)

// Action is one dispatchable action.
type Action struct {
	// Name is the unique identifier advertised to the reasoning
	// service.
	Name string

	// Description explains what the action does, for tool calling.
	Description string

	// Scope is the permission scope gating this action, or "" when no
	// permission check applies.
	Scope string

	// Schema defines the expected arguments.
	Schema Schema

	// Handler executes the action.
	Handler HandlerFunc
}

// Validate checks if the action definition is usable.
func (a *Action) Validate() error {
	if a.Name == "" {
		return ErrActionNameEmpty
	}
	if a.Handler == nil {
		return ErrActionHandlerNil
	}
	return nil
}

// ToolDefinition renders the action for the decision protocol.
func (a *Action) ToolDefinition() types.ToolDefinition {
	props := make(map[string]any, len(a.Schema.Properties))
	for name, p := range a.Schema.Properties {
		props[name] = p
	}
	required := a.Schema.Required
	if required == nil {
		required = []string{}
	}
	return types.ToolDefinition{
		Name:        a.Name,
		Description: a.Description,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}
