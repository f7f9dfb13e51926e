package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"familiar/internal/logging"
	"familiar/internal/types"
)

// Registry holds all registered actions and provides lookup and
// dispatch. It is thread-safe and supports registration at runtime.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Action)}
}

// Register adds an action. Returns an error if an action with the same
// name already exists.
func (r *Registry) Register(action *Action) error {
	if err := action.Validate(); err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[action.Name]; exists {
		return fmt.Errorf("%w: %s", ErrActionAlreadyRegistered, action.Name)
	}
	r.actions[action.Name] = action

	logging.ExecutorDebug("registered action %s (scope=%q)", action.Name, action.Scope)
	return nil
}

// MustRegister registers an action and panics on error. Use for static
// registration at init time.
func (r *Registry) MustRegister(action *Action) {
	if err := r.Register(action); err != nil {
		panic(fmt.Sprintf("failed to register action %s: %v", action.Name, err))
	}
}

// Get returns an action by name, or nil if not found.
func (r *Registry) Get(name string) *Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actions[name]
}

// Has returns true if the action is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns all registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// ToolDefinitions renders the full advertised action set for one
// decision request, ordered by name for a stable protocol surface.
func (r *Registry) ToolDefinitions() []types.ToolDefinition {
	names := r.Names()
	defs := make([]types.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.Get(name).ToolDefinition())
	}
	return defs
}

// Dispatch runs the named action. Returns ErrActionNotFound when no
// action matches; the caller decides whether plugins get a try.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any, snapshot types.ContextSnapshot) (HandlerResult, error) {
	action := r.Get(name)
	if action == nil {
		return HandlerResult{}, fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}
	if err := r.validateArgs(action, args); err != nil {
		return HandlerResult{}, err
	}

	logging.ExecutorDebug("dispatching %s", name)
	return action.Handler(ctx, args, snapshot)
}

func (r *Registry) validateArgs(action *Action, args map[string]any) error {
	for _, required := range action.Schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}
	return nil
}
