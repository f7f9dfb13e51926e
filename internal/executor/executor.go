// Package executor implements the permission-gated action dispatcher.
// Execute records the decision into history, consults the permission
// ledger for scoped actions, dispatches to the registered handler (or
// the plugin fallback), and returns the interval until the next ambient
// decision should be requested.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"familiar/internal/actions"
	"familiar/internal/bus"
	"familiar/internal/history"
	"familiar/internal/logging"
	"familiar/internal/permission"
	"familiar/internal/store"
	"familiar/internal/types"
)

// AskPolicy decides what happens when a scoped action's ledger state is
// ask.
type AskPolicy string

const (
	// AskPolicyAllowOnce allows the single invocation and logs the
	// grant, without persisting an allow record. This is the hook for a
	// real human-in-the-loop gate: replace the policy, keep the flow.
	AskPolicyAllowOnce AskPolicy = "allow_once"

	// AskPolicyBlock treats ask as deny until a human grants the scope
	// through the ledger.
	AskPolicyBlock AskPolicy = "block"
)

// ParseAskPolicy maps a config string to a policy, defaulting to
// allow_once.
func ParseAskPolicy(s string) AskPolicy {
	if AskPolicy(s) == AskPolicyBlock {
		return AskPolicyBlock
	}
	return AskPolicyAllowOnce
}

// pluginTimeout bounds one plugin fallback execution.
const pluginTimeout = 30 * time.Second

// Result is the outcome of one Execute call.
type Result struct {
	// Interval until the next ambient decision.
	Interval time.Duration
	// Output is the handler's textual result, used as the "action
	// performed" turn during chained tool calls.
	Output string
	// Denied is true when the permission gate short-circuited the
	// action.
	Denied bool
}

// Config tunes the executor.
type Config struct {
	AgentID         string
	DefaultInterval time.Duration
	Reaction        time.Duration
	AskPolicy       AskPolicy
}

// Executor dispatches decisions. Only one Execute is ever in flight per
// mode; the mode controller guarantees that.
type Executor struct {
	cfg      Config
	registry *actions.Registry
	plugins  *actions.PluginRunner
	ledger   *permission.Ledger
	ring     *history.Ring
	log      *store.Store // may be nil: in-memory best effort only
	events   *bus.Bus
	notifier types.Notifier
}

// New wires an executor.
func New(cfg Config, registry *actions.Registry, plugins *actions.PluginRunner, ledger *permission.Ledger, ring *history.Ring, log *store.Store, events *bus.Bus, notifier types.Notifier) *Executor {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 120 * time.Second
	}
	if cfg.Reaction <= 0 {
		cfg.Reaction = 15 * time.Second
	}
	if cfg.AskPolicy == "" {
		cfg.AskPolicy = AskPolicyAllowOnce
	}
	return &Executor{
		cfg:      cfg,
		registry: registry,
		plugins:  plugins,
		ledger:   ledger,
		ring:     ring,
		log:      log,
		events:   events,
		notifier: notifier,
	}
}

// Execute runs one decision against the current snapshot. The returned
// Result always carries a usable interval, including on error; the
// scheduling loop never dies on a failed action.
func (e *Executor) Execute(ctx context.Context, decision types.Decision, snapshot types.ContextSnapshot) (Result, error) {
	// 1. History first, persistent log best effort.
	entry := types.ActionHistoryEntry{
		Timestamp: time.Now(),
		Action:    decision.Action,
		Arguments: decision.Arguments,
	}
	e.ring.Append(entry)
	if e.log != nil {
		e.log.AppendAction(entry)
	}

	// 2. Permission gate for scoped actions.
	if action := e.registry.Get(decision.Action); action != nil && action.Scope != "" {
		res, proceed := e.gate(decision.Action, action.Scope)
		if !proceed {
			return res, nil
		}
	}

	// 3. Dispatch.
	if e.registry.Has(decision.Action) {
		return e.dispatch(ctx, decision, snapshot)
	}
	return e.pluginFallback(ctx, decision)
}

// gate applies the ledger to one scoped action. Returns proceed=false
// with the short-circuit result when the action must not run.
func (e *Executor) gate(action, scope string) (Result, bool) {
	status := e.ledger.Check(e.cfg.AgentID, scope)
	switch status {
	case permission.StatusDeny:
		logging.Permission("denied %s (scope %s)", action, scope)
		notice := fmt.Sprintf("I wanted to %s but I'm not allowed to (%s).", action, scope)
		if e.notifier != nil {
			e.notifier.Notify(types.SeverityWarning, "permission denied", notice)
		}
		e.events.Publish(bus.TopicPermissionDenied, map[string]any{
			"action": action,
			"scope":  scope,
		})
		return Result{Interval: e.cfg.Reaction, Output: notice, Denied: true}, false

	case permission.StatusAsk:
		// Structured request so a UI can pick it up and persist a real
		// grant.
		e.events.Publish(bus.TopicPermissionReq, map[string]any{
			"agent_id": e.cfg.AgentID,
			"action":   action,
			"scope":    scope,
		})
		if e.cfg.AskPolicy == AskPolicyBlock {
			logging.Permission("ask for %s (scope %s): blocked by policy", action, scope)
			notice := fmt.Sprintf("I need permission for %s (%s) before I can do that.", action, scope)
			if e.notifier != nil {
				e.notifier.Notify(types.SeverityInfo, "permission needed", notice)
			}
			return Result{Interval: e.cfg.Reaction, Output: notice, Denied: true}, false
		}
		logging.Permission("ask for %s (scope %s): allowing once", action, scope)
		return Result{}, true

	default: // allow
		return Result{}, true
	}
}

func (e *Executor) dispatch(ctx context.Context, decision types.Decision, snapshot types.ContextSnapshot) (Result, error) {
	res, err := e.registry.Dispatch(ctx, decision.Action, decision.Arguments, snapshot)
	if err != nil {
		logging.Executor("action %s failed: %v", decision.Action, err)
		e.events.Publish(bus.TopicActionExecuted, map[string]any{
			"action": decision.Action,
			"error":  err.Error(),
		})
		return Result{Interval: e.cfg.Reaction, Output: "action failed: " + err.Error()}, err
	}

	interval := res.NextInterval
	if interval <= 0 {
		interval = e.cfg.DefaultInterval
	}
	e.events.Publish(bus.TopicActionExecuted, map[string]any{
		"action":   decision.Action,
		"interval": interval.Seconds(),
	})
	logging.Executor("executed %s, next wake in %v", decision.Action, interval)
	return Result{Interval: interval, Output: res.Output}, nil
}

// pluginFallback lets externally registered plugins try an unknown
// action; when nothing matches, the loop falls back to the default
// ambient interval.
func (e *Executor) pluginFallback(ctx context.Context, decision types.Decision) (Result, error) {
	if e.plugins != nil && e.plugins.Has(decision.Action) {
		pctx, cancel := context.WithTimeout(ctx, pluginTimeout)
		defer cancel()

		out, err := e.plugins.Run(pctx, decision.Action, decision.Arguments)
		if err != nil {
			logging.Plugin("plugin %s failed: %v", decision.Action, err)
			return Result{Interval: e.cfg.Reaction, Output: "plugin failed: " + err.Error()}, err
		}
		e.events.Publish(bus.TopicActionExecuted, map[string]any{
			"action": decision.Action,
			"plugin": true,
		})
		return Result{Interval: e.cfg.Reaction, Output: out}, nil
	}

	logging.Executor("unknown action %s, falling back to default interval", decision.Action)
	return Result{
		Interval: e.cfg.DefaultInterval,
		Output:   "unknown action " + decision.Action,
	}, errors.New("unknown action " + decision.Action)
}

// Reaction exposes the reaction interval for callers that short-circuit.
func (e *Executor) Reaction() time.Duration {
	return e.cfg.Reaction
}

// DefaultInterval exposes the fallback ambient interval.
func (e *Executor) DefaultInterval() time.Duration {
	return e.cfg.DefaultInterval
}
