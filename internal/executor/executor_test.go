package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"familiar/internal/actions"
	"familiar/internal/bus"
	"familiar/internal/history"
	"familiar/internal/permission"
	"familiar/internal/store"
	"familiar/internal/types"
)

type recordingNotifier struct {
	titles []string
}

func (n *recordingNotifier) Notify(sev types.Severity, title, body string) {
	n.titles = append(n.titles, title)
}

type harness struct {
	exec     *Executor
	ledger   *permission.Ledger
	ring     *history.Ring
	events   *bus.Bus
	notifier *recordingNotifier
	handled  *int
}

func newHarness(t *testing.T, policy AskPolicy) *harness {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "familiar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ledger, err := permission.NewLedger(st)
	require.NoError(t, err)

	events := bus.New()
	t.Cleanup(events.Close)

	handled := 0
	registry := actions.NewRegistry()
	registry.MustRegister(&actions.Action{
		Name:        "observe_and_wait",
		Description: "wait",
		Schema:      actions.Schema{Properties: map[string]actions.Property{}},
		Handler: func(ctx context.Context, args map[string]any, snap types.ContextSnapshot) (actions.HandlerResult, error) {
			handled++
			return actions.HandlerResult{NextInterval: 45 * time.Second, Output: "waiting"}, nil
		},
	})
	registry.MustRegister(&actions.Action{
		Name:        "run_process",
		Description: "run something",
		Scope:       permission.ScopeProcessRun,
		Schema:      actions.Schema{Properties: map[string]actions.Property{}},
		Handler: func(ctx context.Context, args map[string]any, snap types.ContextSnapshot) (actions.HandlerResult, error) {
			handled++
			return actions.HandlerResult{Output: "ran"}, nil
		},
	})

	notifier := &recordingNotifier{}
	ring := history.NewRing(50)
	exec := New(Config{
		AgentID:         "agent-1",
		DefaultInterval: 120 * time.Second,
		Reaction:        15 * time.Second,
		AskPolicy:       policy,
	}, registry, nil, ledger, ring, st, events, notifier)

	return &harness{exec: exec, ledger: ledger, ring: ring, events: events, notifier: notifier, handled: &handled}
}

func TestUnscopedActionRuns(t *testing.T) {
	h := newHarness(t, AskPolicyAllowOnce)

	res, err := h.exec.Execute(context.Background(), types.Decision{Action: "observe_and_wait"}, types.ContextSnapshot{})
	require.NoError(t, err)
	require.False(t, res.Denied)
	require.Equal(t, 45*time.Second, res.Interval)
	require.Equal(t, 1, *h.handled)
}

func TestDenyShortCircuits(t *testing.T) {
	h := newHarness(t, AskPolicyAllowOnce)
	require.NoError(t, h.ledger.Set("agent-1", permission.ScopeProcessRun, permission.StatusDeny))

	denials := h.events.Subscribe(bus.TopicPermissionDenied)

	res, err := h.exec.Execute(context.Background(), types.Decision{Action: "run_process"}, types.ContextSnapshot{})
	require.NoError(t, err)
	require.True(t, res.Denied)
	require.Equal(t, 15*time.Second, res.Interval)
	require.Equal(t, 0, *h.handled, "handler must not run on deny")
	require.Len(t, h.notifier.titles, 1)

	select {
	case ev := <-denials:
		require.Equal(t, "run_process", ev.Payload["action"])
		require.Equal(t, permission.ScopeProcessRun, ev.Payload["scope"])
	case <-time.After(time.Second):
		t.Fatal("no permission.denied event")
	}
}

func TestAskAllowOncePublishesRequestAndRuns(t *testing.T) {
	h := newHarness(t, AskPolicyAllowOnce)

	requests := h.events.Subscribe(bus.TopicPermissionReq)

	res, err := h.exec.Execute(context.Background(), types.Decision{Action: "run_process"}, types.ContextSnapshot{})
	require.NoError(t, err)
	require.False(t, res.Denied)
	require.Equal(t, 1, *h.handled)

	select {
	case ev := <-requests:
		require.Equal(t, permission.ScopeProcessRun, ev.Payload["scope"])
	case <-time.After(time.Second):
		t.Fatal("no permission.request event")
	}

	// allow_once must not persist an allow record.
	require.Equal(t, permission.StatusAsk, h.ledger.Check("agent-1", permission.ScopeProcessRun))
}

func TestAskBlockPolicyDenies(t *testing.T) {
	h := newHarness(t, AskPolicyBlock)

	res, err := h.exec.Execute(context.Background(), types.Decision{Action: "run_process"}, types.ContextSnapshot{})
	require.NoError(t, err)
	require.True(t, res.Denied)
	require.Equal(t, 0, *h.handled)
}

func TestAllowRunsWithoutNotice(t *testing.T) {
	h := newHarness(t, AskPolicyBlock)
	require.NoError(t, h.ledger.Set("agent-1", permission.ScopeProcessRun, permission.StatusAllow))

	res, err := h.exec.Execute(context.Background(), types.Decision{Action: "run_process"}, types.ContextSnapshot{})
	require.NoError(t, err)
	require.False(t, res.Denied)
	require.Equal(t, 1, *h.handled)
	require.Empty(t, h.notifier.titles)
}

func TestUnknownActionFallsBackToDefaultInterval(t *testing.T) {
	h := newHarness(t, AskPolicyAllowOnce)

	res, err := h.exec.Execute(context.Background(), types.Decision{Action: "mystery"}, types.ContextSnapshot{})
	require.Error(t, err)
	require.Equal(t, 120*time.Second, res.Interval)
}

func TestHandlerErrorReturnsReactionInterval(t *testing.T) {
	h := newHarness(t, AskPolicyAllowOnce)
	// Re-register observe with a failing twin under a new name.
	registry := actions.NewRegistry()
	registry.MustRegister(&actions.Action{
		Name:        "broken",
		Description: "always fails",
		Schema:      actions.Schema{Properties: map[string]actions.Property{}},
		Handler: func(ctx context.Context, args map[string]any, snap types.ContextSnapshot) (actions.HandlerResult, error) {
			return actions.HandlerResult{}, context.DeadlineExceeded
		},
	})
	exec := New(Config{AgentID: "agent-1", DefaultInterval: 120 * time.Second, Reaction: 15 * time.Second},
		registry, nil, h.ledger, h.ring, nil, h.events, h.notifier)

	res, err := exec.Execute(context.Background(), types.Decision{Action: "broken"}, types.ContextSnapshot{})
	require.Error(t, err)
	require.Equal(t, 15*time.Second, res.Interval)
}

func TestEveryDecisionEntersHistory(t *testing.T) {
	h := newHarness(t, AskPolicyAllowOnce)
	h.ledger.Set("agent-1", permission.ScopeProcessRun, permission.StatusDeny)

	h.exec.Execute(context.Background(), types.Decision{Action: "observe_and_wait"}, types.ContextSnapshot{})
	h.exec.Execute(context.Background(), types.Decision{Action: "run_process"}, types.ContextSnapshot{})
	h.exec.Execute(context.Background(), types.Decision{Action: "mystery"}, types.ContextSnapshot{})

	recent := h.ring.Recent(10)
	require.Len(t, recent, 3, "denied and unknown actions still enter history")
}
