// Package brain turns context snapshots and user prompts into
// decisions by calling the reasoning model. The ambient brain makes one
// tool-forced call per wake; the interactive brain runs a bounded chain
// of tool calls for a conversation turn. All model traffic goes through
// the rate governor.
package brain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"familiar/internal/actions"
	"familiar/internal/governor"
	"familiar/internal/logging"
	"familiar/internal/reasoning"
	"familiar/internal/types"
)

// maxMemoryNotes bounds what the ambient brain carries between wakes.
const maxMemoryNotes = 10

// AmbientBrain produces one decision per wake cycle.
type AmbientBrain struct {
	client   types.ReasoningClient
	governor *governor.Governor
	registry *actions.Registry
	system   string
	timeout  time.Duration

	mu    sync.Mutex
	notes []string
}

// NewAmbient wires an ambient brain. The system prompt comes from the
// persona; timeout bounds one reasoning call.
func NewAmbient(client types.ReasoningClient, gov *governor.Governor, registry *actions.Registry, system string, timeout time.Duration) *AmbientBrain {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AmbientBrain{
		client:   client,
		governor: gov,
		registry: registry,
		system:   system,
		timeout:  timeout,
	}
}

// Decide asks the model for the next action given the snapshot. A
// response with no tool call maps to the default observe decision so
// the loop always has something to schedule.
func (b *AmbientBrain) Decide(ctx context.Context, req reasoning.DecisionRequest) (types.Decision, error) {
	if err := b.governor.Acquire(ctx); err != nil {
		return types.Decision{}, fmt.Errorf("rate governor: %w", err)
	}

	b.mu.Lock()
	req.MemoryExcerpts = append(req.MemoryExcerpts, b.notes...)
	b.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.client.CompleteWithTools(callCtx, b.system, req.UserPrompt(), b.registry.ToolDefinitions())
	if err != nil {
		b.governor.RecordFailure(err)
		return types.Decision{}, fmt.Errorf("reasoning call failed: %w", err)
	}
	b.governor.RecordSuccess()

	if len(resp.ToolCalls) == 0 {
		logging.BrainDebug("no tool call in response, defaulting to observe")
		return types.DefaultDecision(), nil
	}

	tc := resp.ToolCalls[0]
	logging.Brain("decision: %s", tc.Name)
	return types.Decision{Action: tc.Name, Arguments: tc.Input}, nil
}

// Remember stashes a short note carried into the next wake's prompt.
func (b *AmbientBrain) Remember(note string) {
	if note == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notes = append(b.notes, note)
	if len(b.notes) > maxMemoryNotes {
		b.notes = b.notes[len(b.notes)-maxMemoryNotes:]
	}
}

// Reset drops carried state. The mode controller calls this on every
// transition into interactive mode so stale ambient context never leaks
// into a conversation and the next ambient cycle starts fresh.
func (b *AmbientBrain) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notes = nil
	logging.Brain("ambient state reset")
}
