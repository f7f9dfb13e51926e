package brain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"familiar/internal/actions"
	"familiar/internal/executor"
	"familiar/internal/governor"
	"familiar/internal/logging"
	"familiar/internal/types"
)

// ActionRunner executes one decision. Satisfied by *executor.Executor.
type ActionRunner interface {
	Execute(ctx context.Context, decision types.Decision, snapshot types.ContextSnapshot) (executor.Result, error)
}

// InteractiveBrain answers direct user prompts, chaining tool calls
// until the model replies with plain text or the step cap is hit.
type InteractiveBrain struct {
	client   types.ReasoningClient
	governor *governor.Governor
	runner   ActionRunner
	registry *actions.Registry
	system   string
	timeout  time.Duration
	maxSteps int
}

// NewInteractive wires an interactive brain. maxSteps caps chained tool
// calls per conversation turn. Tool definitions are read from the
// registry on every call, so actions registered later are advertised.
func NewInteractive(client types.ReasoningClient, gov *governor.Governor, runner ActionRunner, registry *actions.Registry, system string, timeout time.Duration, maxSteps int) *InteractiveBrain {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxSteps <= 0 {
		maxSteps = 10
	}
	return &InteractiveBrain{
		client:   client,
		governor: gov,
		runner:   runner,
		registry: registry,
		system:   system,
		timeout:  timeout,
		maxSteps: maxSteps,
	}
}

// Converse runs one conversation turn. Each tool call the model makes
// is executed immediately and its output appended to the transcript, so
// the next call sees what actually happened. The final reply is the
// model's accumulated text with exact-duplicate sentences removed.
func (b *InteractiveBrain) Converse(ctx context.Context, prompt string, snapshot types.ContextSnapshot) (string, error) {
	transcript := []string{"User: " + prompt}
	if env := snapshot.Render(); env != "" {
		transcript = append(transcript, "Environment:\n"+env)
	}

	var replies []string
	for step := 0; step < b.maxSteps; step++ {
		if err := b.governor.Acquire(ctx); err != nil {
			return "", fmt.Errorf("rate governor: %w", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		resp, err := b.client.CompleteWithTools(callCtx, b.system, strings.Join(transcript, "\n\n"), b.registry.ToolDefinitions())
		cancel()
		if err != nil {
			b.governor.RecordFailure(err)
			return "", fmt.Errorf("reasoning call failed: %w", err)
		}
		b.governor.RecordSuccess()

		if resp.Text != "" {
			replies = append(replies, resp.Text)
		}
		if len(resp.ToolCalls) == 0 {
			return dedupSentences(strings.Join(replies, " ")), nil
		}

		for _, tc := range resp.ToolCalls {
			logging.Brain("conversation step %d: %s", step+1, tc.Name)
			res, err := b.runner.Execute(ctx, types.Decision{Action: tc.Name, Arguments: tc.Input}, snapshot)
			outcome := res.Output
			if err != nil {
				outcome = "failed: " + err.Error()
			}
			transcript = append(transcript, fmt.Sprintf("Action performed: %s -> %s", tc.Name, outcome))
		}
	}

	logging.Brain("conversation hit the %d step cap", b.maxSteps)
	if len(replies) == 0 {
		return "I ran out of steps before finishing that, sorry.", nil
	}
	return dedupSentences(strings.Join(replies, " ")), nil
}
