package history

import (
	"fmt"
	"testing"
	"time"

	"familiar/internal/types"
)

func entry(action string) types.ActionHistoryEntry {
	return types.ActionHistoryEntry{Timestamp: time.Now(), Action: action}
}

func TestAppendAndRecent(t *testing.T) {
	r := NewRing(5)

	for i := 0; i < 3; i++ {
		r.Append(entry(fmt.Sprintf("a%d", i)))
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}

	recent := r.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("recent len = %d", len(recent))
	}
	if recent[0].Action != "a2" || recent[1].Action != "a1" {
		t.Errorf("newest first order wrong: %s, %s", recent[0].Action, recent[1].Action)
	}
}

func TestEvictsOldestFirst(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Append(entry(fmt.Sprintf("a%d", i)))
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}

	recent := r.Recent(3)
	want := []string{"a4", "a3", "a2"}
	for i, w := range want {
		if recent[i].Action != w {
			t.Errorf("recent[%d] = %s, want %s", i, recent[i].Action, w)
		}
	}
}

func TestRecentMoreThanStored(t *testing.T) {
	r := NewRing(10)
	r.Append(entry("only"))

	recent := r.Recent(5)
	if len(recent) != 1 {
		t.Errorf("recent len = %d, want 1", len(recent))
	}
}

func TestZeroTimestampAssigned(t *testing.T) {
	r := NewRing(2)
	r.Append(types.ActionHistoryEntry{Action: "x"})
	if r.Recent(1)[0].Timestamp.IsZero() {
		t.Error("timestamp should be assigned on append")
	}
}

func TestStrings(t *testing.T) {
	r := NewRing(4)
	r.Append(types.ActionHistoryEntry{Action: "speak", Arguments: map[string]any{"text": "hi"}})

	lines := r.Strings(4)
	if len(lines) != 1 {
		t.Fatalf("lines = %d", len(lines))
	}
	if lines[0] == "" {
		t.Error("empty rendering")
	}
}
