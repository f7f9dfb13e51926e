package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"familiar/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "familiar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPermissionsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	s.SetPermission("agent", "tool.process.run", "allow")
	s.SetPermission("agent", "tool.file.read_all", "deny")
	require.NoError(t, s.Flush())

	rows, err := s.LoadPermissions()
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestPermissionUpsert(t *testing.T) {
	s := openTestStore(t)

	s.SetPermission("agent", "tool.process.run", "allow")
	s.SetPermission("agent", "tool.process.run", "deny")
	require.NoError(t, s.Flush())

	rows, err := s.LoadPermissions()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "deny", rows[0].Status)
}

func TestDeletePermission(t *testing.T) {
	s := openTestStore(t)

	s.SetPermission("agent", "tool.process.run", "allow")
	s.DeletePermission("agent", "tool.process.run")
	require.NoError(t, s.Flush())

	rows, err := s.LoadPermissions()
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestRecentActionsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Add(-time.Minute)
	for i, name := range []string{"first", "second", "third"} {
		s.AppendAction(types.ActionHistoryEntry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Action:    name,
			Arguments: map[string]any{"n": float64(i)},
		})
	}
	require.NoError(t, s.Flush())

	entries, err := s.RecentActions(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "third", entries[0].Action)
	require.Equal(t, "second", entries[1].Action)
}

func TestActionArgumentsSurviveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "familiar.db")
	s, err := Open(path)
	require.NoError(t, err)
	s.AppendAction(types.ActionHistoryEntry{
		Timestamp: time.Now(),
		Action:    "speak",
		Arguments: map[string]any{"text": "hello"},
	})
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	entries, err := s2.RecentActions(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hello", entries[0].Arguments["text"])
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "familiar.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
