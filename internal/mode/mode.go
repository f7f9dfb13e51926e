// Package mode implements the two-mode controller. Ambient mode runs
// the observe/decide/execute loop on the adaptive wake interval;
// interactive mode handles direct user prompts. A critical alert can
// pre-empt the ambient timer, subject to a per-alert-type escalation
// cooldown so one noisy monitor cannot monopolize the model.
package mode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"familiar/internal/brain"
	"familiar/internal/bus"
	"familiar/internal/executor"
	"familiar/internal/history"
	"familiar/internal/logging"
	"familiar/internal/reasoning"
	"familiar/internal/types"
)

// Mode is the controller's current operating state.
type Mode string

const (
	ModeAmbient     Mode = "ambient"
	ModeInteractive Mode = "interactive"
)

// recentActionsInPrompt caps how much history each prompt carries.
const recentActionsInPrompt = 10

// observeTimeout bounds one context collection.
const observeTimeout = 10 * time.Second

// Config tunes the controller.
type Config struct {
	// InitialInterval seeds the wake timer before any action has
	// returned an adaptive one.
	InitialInterval time.Duration
	// EscalationCooldown bounds how often one alert type may pre-empt
	// the timer.
	EscalationCooldown time.Duration
}

// Controller owns the mode state machine and the ambient loop.
type Controller struct {
	cfg         Config
	ambient     *brain.AmbientBrain
	interactive *brain.InteractiveBrain
	exec        *executor.Executor
	source      types.ContextSource
	events      *bus.Bus
	ring        *history.Ring

	mu          sync.Mutex
	mode        Mode
	emotions    types.EmotionalState
	escalations map[string]time.Time
	pending     *types.Alert

	// deferred signals the loop that a critical alert was held back
	// while a conversation was running.
	deferred chan struct{}

	// convMu serializes conversations; one prompt at a time.
	convMu sync.Mutex

	now func() time.Time
}

// New wires a controller starting in ambient mode.
func New(cfg Config, ambient *brain.AmbientBrain, interactive *brain.InteractiveBrain, exec *executor.Executor, source types.ContextSource, events *bus.Bus, ring *history.Ring, emotions types.EmotionalState) *Controller {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 120 * time.Second
	}
	if cfg.EscalationCooldown <= 0 {
		cfg.EscalationCooldown = 10 * time.Minute
	}
	return &Controller{
		cfg:         cfg,
		ambient:     ambient,
		interactive: interactive,
		exec:        exec,
		source:      source,
		events:      events,
		ring:        ring,
		mode:        ModeAmbient,
		emotions:    emotions.Clone(),
		escalations: make(map[string]time.Time),
		deferred:    make(chan struct{}, 1),
		now:         time.Now,
	}
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Emotions returns a copy of the current emotional state.
func (c *Controller) Emotions() types.EmotionalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emotions.Clone()
}

// Run drives the ambient loop until ctx is cancelled. Wakes come from
// the adaptive timer, from the context source signalling a change, and
// from critical alerts that pass the escalation gate.
func (c *Controller) Run(ctx context.Context) error {
	criticals := c.events.Subscribe(bus.TopicAlertCritical)
	defer c.events.Unsubscribe(criticals)

	var changes <-chan struct{}
	if c.source != nil {
		changes = c.source.Changes()
	}

	interval := c.cfg.InitialInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	logging.Mode("ambient loop started, first wake in %v", interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			interval = c.wake(ctx, interval, nil)

		case <-changes:
			logging.Mode("context change signal, waking early")
			interval = c.wake(ctx, interval, nil)

		case ev, ok := <-criticals:
			if !ok {
				return nil
			}
			interval = c.wake(ctx, interval, ev.Alert)

		case <-c.deferred:
			c.mu.Lock()
			alert := c.pending
			c.pending = nil
			c.mu.Unlock()
			if alert == nil {
				continue
			}
			logging.Mode("resuming deferred critical alert %s/%s", alert.Type, alert.Device)
			interval = c.wake(ctx, interval, alert)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)
	}
}

// admitEscalationLocked applies the per-alert-type cooldown, charging
// it only on admission. Caller holds mu.
func (c *Controller) admitEscalationLocked(alert *types.Alert) bool {
	now := c.now()
	if last, ok := c.escalations[alert.Type]; ok && now.Sub(last) < c.cfg.EscalationCooldown {
		logging.Mode("escalation for %s suppressed, in cooldown", alert.Type)
		return false
	}
	c.escalations[alert.Type] = now
	return true
}

// wake runs one ambient cycle and returns the next interval. Failures
// keep the previous interval so the loop always reschedules. A critical
// alert arriving mid-conversation is held as pending rather than
// dropped; its cooldown is charged only when the escalation runs.
func (c *Controller) wake(ctx context.Context, previous time.Duration, alert *types.Alert) time.Duration {
	c.mu.Lock()
	if c.mode != ModeAmbient {
		if alert != nil {
			c.pending = alert
		}
		c.mu.Unlock()
		return previous
	}
	if alert != nil && !c.admitEscalationLocked(alert) {
		c.mu.Unlock()
		return previous
	}
	emotions := c.emotions.Clone()
	c.mu.Unlock()

	snapshot := c.observe(ctx)
	if alert != nil {
		logging.Mode("escalating on critical alert %s/%s", alert.Type, alert.Device)
		snapshot = snapshot.Clone()
		snapshot["alert"] = fmt.Sprintf("[%s] %s/%s: %s", alert.Severity, alert.Type, alert.Device, alert.Message)
	}

	req := reasoning.DecisionRequest{
		Context:        snapshot,
		RecentActions:  c.ring.Strings(recentActionsInPrompt),
		EmotionalState: emotions,
	}
	decision, err := c.ambient.Decide(ctx, req)
	if err != nil {
		logging.Mode("decision failed, staying on %v: %v", previous, err)
		c.nudge("concern", 0.05)
		return previous
	}

	res, err := c.exec.Execute(ctx, decision, snapshot)
	if err != nil {
		c.nudge("concern", 0.05)
	} else {
		c.nudge("confidence", 0.02)
		c.ambient.Remember(res.Output)
	}
	if alert != nil {
		c.nudge("concern", 0.1)
	}
	if res.Interval <= 0 {
		return previous
	}
	return res.Interval
}

func (c *Controller) observe(ctx context.Context) types.ContextSnapshot {
	if c.source == nil {
		return types.ContextSnapshot{}
	}
	octx, cancel := context.WithTimeout(ctx, observeTimeout)
	defer cancel()
	snapshot, err := c.source.Observe(octx)
	if err != nil {
		logging.Mode("context observation failed: %v", err)
		return types.ContextSnapshot{}
	}
	return snapshot
}

func (c *Controller) nudge(emotion string, delta float64) {
	c.mu.Lock()
	c.emotions.Nudge(emotion, delta)
	c.mu.Unlock()
}

// HandlePrompt switches to interactive mode for the duration of one
// conversation turn and falls back to ambient when done. Entering
// interactive resets the ambient brain so its carried state never
// leaks into the conversation.
func (c *Controller) HandlePrompt(ctx context.Context, prompt string) (string, error) {
	c.convMu.Lock()
	defer c.convMu.Unlock()

	c.setMode(ModeInteractive)
	defer c.setMode(ModeAmbient)

	snapshot := c.observe(ctx)
	reply, err := c.interactive.Converse(ctx, prompt, snapshot)
	if err != nil {
		c.nudge("concern", 0.05)
		return "", err
	}
	c.nudge("curiosity", 0.02)
	return reply, nil
}

func (c *Controller) setMode(m Mode) {
	c.mu.Lock()
	if c.mode == m {
		c.mu.Unlock()
		return
	}
	c.mode = m
	resume := m == ModeAmbient && c.pending != nil
	c.mu.Unlock()

	if m == ModeInteractive {
		c.ambient.Reset()
	}
	if resume {
		select {
		case c.deferred <- struct{}{}:
		default:
		}
	}
	logging.Mode("mode changed to %s", m)
	c.events.Publish(bus.TopicModeChanged, map[string]any{"mode": string(m)})
}
