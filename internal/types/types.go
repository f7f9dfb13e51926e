// Package types holds the shared data model for familiar: context
// snapshots, decisions, action history, alerts, and the interfaces the
// core exposes to external collaborators (sensors, notifiers, reasoning
// providers).
package types

import (
	"sort"
	"strings"
	"time"
)

// ContextSnapshot is an immutable key/value description of the observed
// environment at a point in time (focused window title, owning
// application, pid, ...). Snapshots are replaced wholesale on each
// observation and never mutated in place; pass copies across goroutine
// boundaries via Clone.
type ContextSnapshot map[string]string

// Clone returns a defensive copy of the snapshot.
func (s ContextSnapshot) Clone() ContextSnapshot {
	out := make(ContextSnapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Get returns the value for key, or "" if absent.
func (s ContextSnapshot) Get(key string) string {
	return s[key]
}

// Render produces a stable, human-readable one-line-per-key rendering
// for inclusion in reasoning prompts.
func (s ContextSnapshot) Render() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(s[k])
		b.WriteString("\n")
	}
	return b.String()
}

// Decision is a single proposed action plus arguments returned by one
// reasoning call. Exactly one Decision is produced per call; a call that
// proposes zero actions resolves to DefaultDecision, never an empty
// Decision.
type Decision struct {
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments"`
}

// ActionObserve is the baseline "do nothing, just watch" action. It is
// always registered and is the target of DefaultDecision.
const ActionObserve = "observe_and_wait"

// DefaultObserveSeconds is the wait used when a reasoning call proposes
// no action at all.
const DefaultObserveSeconds = 60

// DefaultDecision returns the system's baseline observe-and-wait
// decision with its default duration.
func DefaultDecision() Decision {
	return Decision{
		Action:    ActionObserve,
		Arguments: map[string]any{"duration_seconds": float64(DefaultObserveSeconds)},
	}
}

// ActionHistoryEntry records one executed action for conversational
// grounding of future decisions.
type ActionHistoryEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments"`
}

// Severity classifies alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an ephemeral health signal emitted by a monitor check. Alerts
// are never persisted; rate limiting keys on (Type, Device).
type Alert struct {
	ID        string         `json:"id"`
	Severity  Severity       `json:"severity"`
	Type      string         `json:"alert_type"`
	Message   string         `json:"message"`
	Device    string         `json:"device,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EmotionalState is the small bounded map of floats included in every
// decision request. Values stay in [0, 1].
type EmotionalState map[string]float64

// Clone returns a copy of the state.
func (e EmotionalState) Clone() EmotionalState {
	out := make(EmotionalState, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Nudge moves one dimension by delta, clamped to [0, 1].
func (e EmotionalState) Nudge(key string, delta float64) {
	v := e[key] + delta
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e[key] = v
}
