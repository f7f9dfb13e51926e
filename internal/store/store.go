// Package store provides sqlite persistence for familiar: the
// permission ledger rows and the append-only action log. Writes are
// offloaded to a single writer goroutine through a bounded queue so the
// scheduling loop never stalls on durable I/O.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"familiar/internal/logging"
	"familiar/internal/types"
)

const writeQueueSize = 256

type writeOp struct {
	query string
	args  []any
	// done is non-nil when the caller wants the result.
	done chan error
}

// Store owns the sqlite database.
type Store struct {
	db     *sql.DB
	dbPath string

	writeCh chan writeOp
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// Open initializes the sqlite database at path and starts the writer.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection: sqlite serializes writers anyway and this
	// keeps the busy handler out of the picture for our own calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Get(logging.CategoryPermission).Debug("busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Get(logging.CategoryPermission).Debug("journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.Get(logging.CategoryPermission).Debug("synchronous=NORMAL: %v", err)
	}

	s := &Store{
		db:      db,
		dbPath:  path,
		writeCh: make(chan writeOp, writeQueueSize),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.writer()
	return s, nil
}

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS permissions (
			agent_id   TEXT NOT NULL,
			scope      TEXT NOT NULL,
			status     TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (agent_id, scope)
		)`,
		`CREATE TABLE IF NOT EXISTS action_log (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			ts        INTEGER NOT NULL,
			action    TEXT NOT NULL,
			arguments TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_action_log_ts ON action_log(ts)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// writer drains the queue until the channel is closed.
func (s *Store) writer() {
	defer s.wg.Done()
	for op := range s.writeCh {
		_, err := s.db.Exec(op.query, op.args...)
		if err != nil {
			logging.Get(logging.CategoryPermission).Error("write failed: %v", err)
		}
		if op.done != nil {
			op.done <- err
		}
	}
}

// enqueue offers a write to the queue. Best effort: when the queue is
// saturated the write is dropped with an error log rather than stalling
// the caller (a persistent-storage failure is fatal only for the write
// attempted).
func (s *Store) enqueue(op writeOp) {
	select {
	case s.writeCh <- op:
	default:
		logging.Get(logging.CategoryPermission).Error("write queue full, dropping write: %s", op.query)
		if op.done != nil {
			op.done <- fmt.Errorf("write queue full")
		}
	}
}

// SetPermission upserts a (agent, scope) grant.
func (s *Store) SetPermission(agentID, scope, status string) {
	s.enqueue(writeOp{
		query: `INSERT INTO permissions (agent_id, scope, status, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(agent_id, scope) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		args: []any{agentID, scope, status, time.Now().Unix()},
	})
}

// DeletePermission removes a grant row (reverting the pair to ask).
func (s *Store) DeletePermission(agentID, scope string) {
	s.enqueue(writeOp{
		query: `DELETE FROM permissions WHERE agent_id = ? AND scope = ?`,
		args:  []any{agentID, scope},
	})
}

// PermissionRow is one persisted grant.
type PermissionRow struct {
	AgentID   string
	Scope     string
	Status    string
	UpdatedAt time.Time
}

// LoadPermissions reads all persisted grants.
func (s *Store) LoadPermissions() ([]PermissionRow, error) {
	rows, err := s.db.Query(`SELECT agent_id, scope, status, updated_at FROM permissions`)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}
	defer rows.Close()

	var out []PermissionRow
	for rows.Next() {
		var r PermissionRow
		var ts int64
		if err := rows.Scan(&r.AgentID, &r.Scope, &r.Status, &ts); err != nil {
			return nil, err
		}
		r.UpdatedAt = time.Unix(ts, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendAction records an executed action. Fire and forget.
func (s *Store) AppendAction(entry types.ActionHistoryEntry) {
	args, err := json.Marshal(entry.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	s.enqueue(writeOp{
		query: `INSERT INTO action_log (ts, action, arguments) VALUES (?, ?, ?)`,
		args:  []any{entry.Timestamp.UnixMilli(), entry.Action, string(args)},
	})
}

// RecentActions returns the n newest log entries, newest first.
func (s *Store) RecentActions(n int) ([]types.ActionHistoryEntry, error) {
	rows, err := s.db.Query(`SELECT ts, action, arguments FROM action_log ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read action log: %w", err)
	}
	defer rows.Close()

	var out []types.ActionHistoryEntry
	for rows.Next() {
		var ts int64
		var entry types.ActionHistoryEntry
		var args string
		if err := rows.Scan(&ts, &entry.Action, &args); err != nil {
			return nil, err
		}
		entry.Timestamp = time.UnixMilli(ts)
		if args != "" {
			_ = json.Unmarshal([]byte(args), &entry.Arguments)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Flush blocks until all queued writes before it have been applied.
func (s *Store) Flush() error {
	done := make(chan error, 1)
	s.enqueue(writeOp{query: `SELECT 1`, done: done})
	return <-done
}

// Close drains the write queue and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.writeCh)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
