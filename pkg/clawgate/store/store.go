// Package store implements SQLite-backed persistence for clawgate: scheduled
// tasks, their append-only run logs, and chat/message history.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// timeLayout is the fixed-width UTC timestamp format used for all stored
// instants. Fixed width keeps lexicographic order equal to chronological
// order, which the due-task query relies on, and preserves millisecond
// precision.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Store wraps the clawgate SQLite database. Construct one per process and
// pass it explicitly; there is no package-level handle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. The parent directory is created if missing.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "store")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// formatTime renders an instant in the canonical stored form.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime reads a stored timestamp; older rows may carry plain RFC3339.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// nullableTime converts an optional instant for storage.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	group_folder  TEXT NOT NULL,
	chat_id       TEXT NOT NULL,
	prompt        TEXT NOT NULL,
	schedule_type TEXT NOT NULL,
	schedule_value TEXT NOT NULL,
	next_run      TEXT,
	last_run      TEXT,
	last_result   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'active',
	context_mode  TEXT NOT NULL DEFAULT 'isolated',
	session_id    TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, next_run);

CREATE TABLE IF NOT EXISTS task_run_logs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id     TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	run_at      TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	status      TEXT NOT NULL,
	result      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_run_logs_task ON task_run_logs(task_id, run_at);

CREATE TABLE IF NOT EXISTS chats (
	chat_id         TEXT PRIMARY KEY,
	channel         TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	last_message_at TEXT
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id     TEXT NOT NULL REFERENCES chats(chat_id) ON DELETE CASCADE,
	sender      TEXT NOT NULL,
	sender_name TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL,
	is_outbound INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);
`
