// Package reasoning implements the decision-request protocol and the
// clients that carry it to a reasoning service. One enumerated action
// set is advertised per request; the response is zero-or-one structured
// action call plus optional free text.
package reasoning

import (
	"encoding/json"
	"strings"

	"familiar/internal/types"
)

// DecisionRequest is the payload of one decision call: the sanitized
// context snapshot, recent actions for grounding, free-form memory
// excerpts, and the agent's emotional state.
type DecisionRequest struct {
	Context        types.ContextSnapshot `json:"context"`
	RecentActions  []string              `json:"recent_actions"`
	MemoryExcerpts []string              `json:"memory_excerpts"`
	EmotionalState types.EmotionalState  `json:"emotional_state"`
}

// UserPrompt renders the request into the user message of a reasoning
// call. The action set itself travels as tool definitions, not prompt
// text.
func (r *DecisionRequest) UserPrompt() string {
	var b strings.Builder

	b.WriteString("Current environment:\n")
	if len(r.Context) == 0 {
		b.WriteString("(nothing observed)\n")
	} else {
		b.WriteString(r.Context.Render())
	}

	if len(r.RecentActions) > 0 {
		b.WriteString("\nYour recent actions, newest first:\n")
		for _, a := range r.RecentActions {
			b.WriteString("- ")
			b.WriteString(a)
			b.WriteString("\n")
		}
	}

	if len(r.MemoryExcerpts) > 0 {
		b.WriteString("\nThings you remember:\n")
		for _, m := range r.MemoryExcerpts {
			b.WriteString("- ")
			b.WriteString(m)
			b.WriteString("\n")
		}
	}

	if len(r.EmotionalState) > 0 {
		state, err := json.Marshal(r.EmotionalState)
		if err == nil {
			b.WriteString("\nYour emotional state: ")
			b.Write(state)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nPick exactly one of the offered actions.")
	return b.String()
}
