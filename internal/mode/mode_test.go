package mode

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"familiar/internal/actions"
	"familiar/internal/brain"
	"familiar/internal/bus"
	"familiar/internal/executor"
	"familiar/internal/governor"
	"familiar/internal/history"
	"familiar/internal/permission"
	"familiar/internal/store"
	"familiar/internal/types"
)

type scriptedClient struct {
	responses []*types.ToolResponse
	calls     int
	prompts   []string
}

func (s *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("not used")
}

func (s *scriptedClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return "", errors.New("not used")
}

func (s *scriptedClient) CompleteWithTools(ctx context.Context, system, user string, tools []types.ToolDefinition) (*types.ToolResponse, error) {
	s.calls++
	s.prompts = append(s.prompts, user)
	if s.calls > len(s.responses) {
		return &types.ToolResponse{Text: "done."}, nil
	}
	return s.responses[s.calls-1], nil
}

func observeCall(seconds float64) *types.ToolResponse {
	return &types.ToolResponse{ToolCalls: []types.ToolCall{{
		Name:  "observe_and_wait",
		Input: map[string]any{"duration_seconds": seconds},
	}}}
}

type rig struct {
	ctrl   *Controller
	client *scriptedClient
	events *bus.Bus
}

func newRig(t *testing.T, responses ...*types.ToolResponse) *rig {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "familiar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ledger, err := permission.NewLedger(st)
	require.NoError(t, err)

	events := bus.New()
	t.Cleanup(events.Close)

	registry := actions.NewRegistry()
	registry.MustRegister(&actions.Action{
		Name:        "observe_and_wait",
		Description: "wait for a while",
		Schema:      actions.Schema{Properties: map[string]actions.Property{}},
		Handler: func(ctx context.Context, args map[string]any, snap types.ContextSnapshot) (actions.HandlerResult, error) {
			secs, _ := args["duration_seconds"].(float64)
			return actions.HandlerResult{NextInterval: time.Duration(secs) * time.Second, Output: "waited"}, nil
		},
	})

	ring := history.NewRing(50)
	exec := executor.New(executor.Config{AgentID: "test"}, registry, nil, ledger, ring, st, events, nil)

	gov := governor.New(100, time.Minute)
	client := &scriptedClient{responses: responses}
	ambient := brain.NewAmbient(client, gov, registry, "persona", time.Second)
	interactive := brain.NewInteractive(client, gov, exec, registry, "persona", time.Second, 10)

	ctrl := New(Config{
		InitialInterval:    time.Minute,
		EscalationCooldown: 10 * time.Minute,
	}, ambient, interactive, exec, nil, events, ring, types.EmotionalState{"curiosity": 0.5})

	return &rig{ctrl: ctrl, client: client, events: events}
}

func TestWakeAdoptsAdaptiveInterval(t *testing.T) {
	r := newRig(t, observeCall(45))

	next := r.ctrl.wake(context.Background(), time.Minute, nil)
	require.Equal(t, 45*time.Second, next)
}

func TestWakeKeepsPreviousIntervalOnDecisionFailure(t *testing.T) {
	r := newRig(t)
	// Exhaust the governor so Decide fails immediately via context.
	r.ctrl.ambient = brain.NewAmbient(&scriptedClient{}, governor.New(1, time.Hour), actions.NewRegistry(), "p", time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	r.ctrl.wake(ctx, time.Minute, nil) // uses the single slot
	cancel()

	next := r.ctrl.wake(ctx, 42*time.Second, nil)
	require.Equal(t, 42*time.Second, next)
}

func TestEscalationCooldownPerAlertType(t *testing.T) {
	r := newRig(t, observeCall(30), observeCall(30), observeCall(30))
	clock := time.Now()
	r.ctrl.now = func() time.Time { return clock }

	disk := &types.Alert{Type: "disk", Severity: types.SeverityCritical}
	load := &types.Alert{Type: "load", Severity: types.SeverityCritical}
	ctx := context.Background()

	r.ctrl.wake(ctx, time.Minute, disk)
	require.Equal(t, 1, r.client.calls)

	r.ctrl.wake(ctx, time.Minute, disk)
	require.Equal(t, 1, r.client.calls, "same type within cooldown")

	r.ctrl.wake(ctx, time.Minute, load)
	require.Equal(t, 2, r.client.calls, "cooldown is per alert type")

	clock = clock.Add(11 * time.Minute)
	r.ctrl.wake(ctx, time.Minute, disk)
	require.Equal(t, 3, r.client.calls)
}

func TestCriticalAlertDeferredDuringConversation(t *testing.T) {
	r := newRig(t, observeCall(30))
	r.ctrl.setMode(ModeInteractive)

	alert := &types.Alert{Type: "disk", Device: "/", Severity: types.SeverityCritical, Message: "disk is full"}
	next := r.ctrl.wake(context.Background(), time.Minute, alert)
	require.Equal(t, time.Minute, next)
	require.Zero(t, r.client.calls, "no ambient reasoning while interactive")

	r.ctrl.setMode(ModeAmbient)
	select {
	case <-r.ctrl.deferred:
	default:
		t.Fatal("returning to ambient should signal the held alert")
	}

	// The held alert must still escalate, its cooldown uncharged.
	r.ctrl.wake(context.Background(), time.Minute, alert)
	require.Equal(t, 1, r.client.calls)
	require.Contains(t, r.client.prompts[0], "disk is full")
}

func TestEscalatedWakeSeedsAlertContext(t *testing.T) {
	r := newRig(t, observeCall(30))

	alert := &types.Alert{Type: "disk", Device: "/", Severity: types.SeverityCritical, Message: "disk is full"}
	r.ctrl.wake(context.Background(), time.Minute, alert)

	require.Len(t, r.client.prompts, 1)
	require.Contains(t, r.client.prompts[0], "disk is full")
}

type nilSource struct{}

func (nilSource) Observe(ctx context.Context) (types.ContextSnapshot, error) { return nil, nil }
func (nilSource) Changes() <-chan struct{}                                   { return nil }

func TestEscalatedWakeToleratesNilSnapshot(t *testing.T) {
	r := newRig(t, observeCall(30))
	r.ctrl.source = nilSource{}

	alert := &types.Alert{Type: "load", Device: "cpu", Severity: types.SeverityCritical, Message: "load through the roof"}
	r.ctrl.wake(context.Background(), time.Minute, alert)

	require.Len(t, r.client.prompts, 1)
	require.Contains(t, r.client.prompts[0], "load through the roof")
}

func TestHandlePromptSwitchesModes(t *testing.T) {
	r := newRig(t, &types.ToolResponse{Text: "hello there."})

	changes := r.events.Subscribe(bus.TopicModeChanged)

	reply, err := r.ctrl.HandlePrompt(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, "hello there.", reply)
	require.Equal(t, ModeAmbient, r.ctrl.Mode())

	var modes []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-changes:
			modes = append(modes, ev.Payload["mode"].(string))
		case <-time.After(time.Second):
			t.Fatal("missing mode.changed event")
		}
	}
	require.Equal(t, []string{"interactive", "ambient"}, modes)
}

func TestInteractiveEntryResetsAmbientMemory(t *testing.T) {
	r := newRig(t,
		&types.ToolResponse{Text: "conversation reply."},
		observeCall(30),
	)
	r.ctrl.ambient.Remember("stale ambient note")

	_, err := r.ctrl.HandlePrompt(context.Background(), "hi")
	require.NoError(t, err)

	r.ctrl.wake(context.Background(), time.Minute, nil)
	require.Len(t, r.client.prompts, 2)
	require.NotContains(t, r.client.prompts[1], "stale ambient note")
}

func TestAmbientCycleSkippedWhileInteractive(t *testing.T) {
	r := newRig(t, observeCall(30))
	r.ctrl.setMode(ModeInteractive)

	next := r.ctrl.wake(context.Background(), time.Minute, nil)
	require.Equal(t, time.Minute, next)
	require.Zero(t, r.client.calls, "no ambient reasoning while interactive")
}

func TestWakeNudgesEmotions(t *testing.T) {
	r := newRig(t, observeCall(30))

	before := r.ctrl.Emotions()["confidence"]
	r.ctrl.wake(context.Background(), time.Minute, nil)
	require.Greater(t, r.ctrl.Emotions()["confidence"], before)
}
