// Package monitor implements the local health checks: system load,
// memory pressure, process counts, disk usage, network peers and log
// anomalies. Checks sample on their own cadence; the manager turns
// samples into alerts, emitting only on upward severity transitions and
// rate-limiting repeats per (type, device) key.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"familiar/internal/bus"
	"familiar/internal/logging"
	"familiar/internal/types"
)

// Finding is one observation from a check. An absent (type, device)
// key in the next sample means the condition cleared.
type Finding struct {
	Type     string
	Device   string
	Severity types.Severity
	Message  string
	Details  map[string]any
}

// Check samples one aspect of system health.
type Check interface {
	Name() string
	// Interval is the sampling period; zero means use the manager
	// default.
	Interval() time.Duration
	Sample(ctx context.Context) ([]Finding, error)
}

func rank(s types.Severity) int {
	switch s {
	case types.SeverityCritical:
		return 3
	case types.SeverityWarning:
		return 2
	case types.SeverityInfo:
		return 1
	}
	return 0
}

type alertKey struct {
	typ    string
	device string
}

// Config tunes the manager.
type Config struct {
	DefaultInterval time.Duration
	SampleTimeout   time.Duration
	Cooldown        time.Duration
}

// Manager runs checks and publishes alerts on the bus.
type Manager struct {
	cfg    Config
	events *bus.Bus
	checks []Check

	mu        sync.Mutex
	lastSeen  map[string]map[alertKey]int // per check: last observed rank
	lastAlert map[alertKey]time.Time

	now func() time.Time
}

// NewManager wires a manager with no checks registered.
func NewManager(cfg Config, events *bus.Bus) *Manager {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 30 * time.Second
	}
	if cfg.SampleTimeout <= 0 {
		cfg.SampleTimeout = 10 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Manager{
		cfg:       cfg,
		events:    events,
		lastSeen:  make(map[string]map[alertKey]int),
		lastAlert: make(map[alertKey]time.Time),
		now:       time.Now,
	}
}

// Register adds a check. Not safe after Run has started.
func (m *Manager) Register(c Check) {
	m.checks = append(m.checks, c)
}

// Run samples every registered check on its cadence until ctx is
// cancelled. A failing sample is logged and retried on the next tick;
// one broken check never stops the others.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range m.checks {
		c := c
		g.Go(func() error {
			m.runCheck(ctx, c)
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) runCheck(ctx context.Context, c Check) {
	interval := c.Interval()
	if interval <= 0 {
		interval = m.cfg.DefaultInterval
	}
	logging.Monitor("check %s sampling every %v", c.Name(), interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.sampleOnce(ctx, c)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce(ctx, c)
		}
	}
}

func (m *Manager) sampleOnce(ctx context.Context, c Check) {
	sctx, cancel := context.WithTimeout(ctx, m.cfg.SampleTimeout)
	defer cancel()

	findings, err := c.Sample(sctx)
	if err != nil {
		logging.Monitor("check %s sample failed: %v", c.Name(), err)
		return
	}
	m.evaluate(c.Name(), findings)
}

// evaluate diffs one check's findings against its previous sample.
// Alerts fire only when a key's severity rises; a key that drops or
// disappears just resets its baseline so the next rise alerts again.
func (m *Manager) evaluate(check string, findings []Finding) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.lastSeen[check]
	next := make(map[alertKey]int, len(findings))
	for _, f := range findings {
		k := alertKey{f.Type, f.Device}
		r := rank(f.Severity)
		next[k] = r
		if r > prev[k] {
			m.emitLocked(k, f)
		}
	}
	m.lastSeen[check] = next
}

func (m *Manager) emitLocked(k alertKey, f Finding) {
	now := m.now()
	if last, ok := m.lastAlert[k]; ok && now.Sub(last) < m.cfg.Cooldown {
		logging.MonitorDebug("suppressing %s/%s alert, in cooldown", k.typ, k.device)
		return
	}
	m.lastAlert[k] = now

	alert := &types.Alert{
		ID:        uuid.NewString(),
		Severity:  f.Severity,
		Type:      f.Type,
		Message:   f.Message,
		Device:    f.Device,
		Details:   f.Details,
		Timestamp: now,
	}
	logging.Monitor("alert [%s] %s/%s: %s", f.Severity, f.Type, f.Device, f.Message)
	m.events.PublishAlert(alert)
}
