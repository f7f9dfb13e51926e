// Package permission implements the persistent per-(agent, scope)
// grant ledger. Absence of a record means ask. Reads are served from an
// in-memory cache kept coherent by the single writer; durable writes
// are offloaded through the store so the scheduling loop never blocks
// on storage.
package permission

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"familiar/internal/logging"
	"familiar/internal/store"
)

// Status is the state of one (agent, scope) pair.
type Status string

const (
	StatusAsk   Status = "ask"
	StatusAllow Status = "allow"
	StatusDeny  Status = "deny"
)

// ValidStatus reports whether s is one of the three known states.
func ValidStatus(s Status) bool {
	return s == StatusAsk || s == StatusAllow || s == StatusDeny
}

// Permission scopes are a closed enumeration.
const (
	ScopeProcessRun       = "tool.process.run"
	ScopeClipboardRead    = "tool.clipboard.read"
	ScopeFileReadAll      = "tool.file.read_all"
	ScopeFileWriteSandbox = "tool.file.write_sandbox"
	ScopeVisionReadScreen = "context.vision.read_screen"
	ScopeAccessibilityRead    = "context.accessibility.read_apps"
	ScopeAccessibilityControl = "context.accessibility.control_apps"
)

// KnownScopes lists every scope the ledger accepts.
var KnownScopes = []string{
	ScopeProcessRun,
	ScopeClipboardRead,
	ScopeFileReadAll,
	ScopeFileWriteSandbox,
	ScopeVisionReadScreen,
	ScopeAccessibilityRead,
	ScopeAccessibilityControl,
}

// ValidScope reports whether scope is in the closed enumeration.
func ValidScope(scope string) bool {
	for _, s := range KnownScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Grant is one ledger entry.
type Grant struct {
	AgentID   string
	Scope     string
	Status    Status
	UpdatedAt time.Time
}

type key struct {
	agent string
	scope string
}

// Ledger is the grant store. All operations are safe under concurrent
// callers; each mutation is a single consistent read-modify-write per
// key.
type Ledger struct {
	store *store.Store

	mu    sync.RWMutex
	cache map[key]Grant
}

// NewLedger loads persisted grants from the store into the cache.
func NewLedger(s *store.Store) (*Ledger, error) {
	rows, err := s.LoadPermissions()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	l := &Ledger{store: s, cache: make(map[key]Grant, len(rows))}
	for _, r := range rows {
		st := Status(r.Status)
		if !ValidStatus(st) {
			logging.Permission("ignoring grant with unknown status %q (%s/%s)", r.Status, r.AgentID, r.Scope)
			continue
		}
		l.cache[key{r.AgentID, r.Scope}] = Grant{
			AgentID:   r.AgentID,
			Scope:     r.Scope,
			Status:    st,
			UpdatedAt: r.UpdatedAt,
		}
	}
	logging.Permission("ledger loaded: %d grants", len(l.cache))
	return l, nil
}

// Check returns the status for (agent, scope), defaulting to ask when
// no record exists.
func (l *Ledger) Check(agentID, scope string) Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if g, ok := l.cache[key{agentID, scope}]; ok {
		return g.Status
	}
	return StatusAsk
}

// Set upserts the status for (agent, scope). The cache is updated
// synchronously; the durable write is async.
func (l *Ledger) Set(agentID, scope string, status Status) error {
	if !ValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	if !ValidScope(scope) {
		return fmt.Errorf("unknown scope %q", scope)
	}

	l.mu.Lock()
	l.cache[key{agentID, scope}] = Grant{
		AgentID:   agentID,
		Scope:     scope,
		Status:    status,
		UpdatedAt: time.Now(),
	}
	l.mu.Unlock()

	l.store.SetPermission(agentID, scope, string(status))
	logging.Permission("set %s/%s = %s", agentID, scope, status)
	return nil
}

// Revoke deletes the record for (agent, scope), reverting it to ask.
func (l *Ledger) Revoke(agentID, scope string) {
	l.mu.Lock()
	delete(l.cache, key{agentID, scope})
	l.mu.Unlock()

	l.store.DeletePermission(agentID, scope)
	logging.Permission("revoked %s/%s", agentID, scope)
}

// List returns all grants sorted by (agent, scope).
func (l *Ledger) List() []Grant {
	l.mu.RLock()
	out := make([]Grant, 0, len(l.cache))
	for _, g := range l.cache {
		out = append(out, g)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentID != out[j].AgentID {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].Scope < out[j].Scope
	})
	return out
}
