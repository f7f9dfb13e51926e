package reasoning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"familiar/internal/types"
)

func TestUserPromptRendersAllSections(t *testing.T) {
	req := DecisionRequest{
		Context:        types.ContextSnapshot{"active_window": "editor"},
		RecentActions:  []string{"speak {\"text\":\"hi\"}", "observe_and_wait"},
		MemoryExcerpts: []string{"user dislikes interruptions"},
		EmotionalState: types.EmotionalState{"curiosity": 0.5},
	}

	prompt := req.UserPrompt()
	require.Contains(t, prompt, "active_window")
	require.Contains(t, prompt, "editor")
	require.Contains(t, prompt, "speak")
	require.Contains(t, prompt, "user dislikes interruptions")
	require.Contains(t, prompt, `"curiosity":0.5`)
	require.True(t, strings.HasSuffix(prompt, "Pick exactly one of the offered actions."))
}

func TestUserPromptEmptyContext(t *testing.T) {
	var req DecisionRequest
	prompt := req.UserPrompt()
	require.Contains(t, prompt, "(nothing observed)")
	require.NotContains(t, prompt, "recent actions")
	require.NotContains(t, prompt, "emotional state")
}

func TestRecentActionsPreserveOrder(t *testing.T) {
	req := DecisionRequest{RecentActions: []string{"newest", "older", "oldest"}}
	prompt := req.UserPrompt()
	require.Less(t, strings.Index(prompt, "newest"), strings.Index(prompt, "oldest"))
}
