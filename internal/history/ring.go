// Package history holds the bounded in-memory action history consumed
// as conversational grounding for future decisions. The durable action
// log lives in internal/store; this ring is the fast path.
package history

import (
	"fmt"
	"sync"
	"time"

	"familiar/internal/types"
)

// Ring is a fixed-capacity ring buffer of action history entries.
// Oldest entries are evicted first. Safe for concurrent use.
type Ring struct {
	mu      sync.RWMutex
	entries []types.ActionHistoryEntry
	head    int // next write position
	full    bool
}

// NewRing creates a ring with the given capacity (minimum 1).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{entries: make([]types.ActionHistoryEntry, capacity)}
}

// Append records an entry, evicting the oldest when full.
func (r *Ring) Append(entry types.ActionHistoryEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.head] = entry
	r.head = (r.head + 1) % len(r.entries)
	if r.head == 0 {
		r.full = true
	}
}

// Len returns the number of stored entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.entries)
	}
	return r.head
}

// Recent returns up to n entries, newest first. The returned slice is a
// copy; entries are never shared mutable across the async boundary.
func (r *Ring) Recent(n int) []types.ActionHistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.head
	if r.full {
		count = len(r.entries)
	}
	if n > count {
		n = count
	}

	out := make([]types.ActionHistoryEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.head - 1 - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

// Strings renders up to n recent entries as one-line grounding strings
// for decision requests, newest first.
func (r *Ring) Strings(n int) []string {
	entries := r.Recent(n)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, fmt.Sprintf("%s %s %v", e.Timestamp.Format(time.RFC3339), e.Action, e.Arguments))
	}
	return out
}
