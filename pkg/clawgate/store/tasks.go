// Package store – tasks.go implements scheduled task CRUD, the due-task
// query, and the transactional post-run update.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pmendler/clawgate/pkg/clawgate/schedule"
)

// Task statuses.
const (
	TaskActive    = "active"
	TaskPaused    = "paused"
	TaskCompleted = "completed"
)

// Context modes.
const (
	ContextIsolated = "isolated"
	ContextShared   = "shared"
)

// Run log statuses.
const (
	RunSuccess = "success"
	RunError   = "error"
)

// Task is a persisted scheduled task. Invariant: NextRun is nil exactly when
// Status is "completed": a task with no next run never runs again.
type Task struct {
	// ID is the unique task identifier.
	ID string

	// Group is the owning group folder (agent workspace).
	Group string

	// ChatID is the target chat for results.
	ChatID string

	// Prompt is the agent prompt executed on each run.
	Prompt string

	// ScheduleType is "cron", "interval", or "once".
	ScheduleType string

	// ScheduleValue is the type-specific schedule encoding.
	ScheduleValue string

	// NextRun is the next execution instant, nil iff completed.
	NextRun *time.Time

	// LastRun is when the task last executed.
	LastRun *time.Time

	// LastResult is the result text (or error) of the last run.
	LastResult string

	// Status is "active", "paused", or "completed".
	Status string

	// ContextMode is "isolated" (fresh session each run) or "shared"
	// (session carried across runs).
	ContextMode string

	// SessionID is the agent session carried forward in shared mode.
	SessionID string

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time
}

// RunLog is one append-only execution record.
type RunLog struct {
	ID         int64
	TaskID     string
	RunAt      time.Time
	DurationMs int64
	Status     string
	Result     string
	Error      string
}

// CreateTask validates the schedule, computes the first next_run, and
// persists the task. A missing ID is generated.
func (s *Store) CreateTask(t *Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Group == "" {
		return fmt.Errorf("task group is required")
	}
	if t.Prompt == "" {
		return fmt.Errorf("task prompt is required")
	}
	if t.Status == "" {
		t.Status = TaskActive
	}
	if t.ContextMode == "" {
		t.ContextMode = ContextIsolated
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	if err := schedule.Validate(t.ScheduleType, t.ScheduleValue); err != nil {
		return err
	}
	if t.NextRun == nil && t.Status != TaskCompleted {
		next, err := schedule.FirstRun(t.ScheduleType, t.ScheduleValue, time.Now())
		if err != nil {
			return err
		}
		t.NextRun = next
	}

	_, err := s.db.Exec(`
		INSERT INTO tasks
			(id, group_folder, chat_id, prompt, schedule_type, schedule_value,
			 next_run, last_run, last_result, status, context_mode, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Group, t.ChatID, t.Prompt, t.ScheduleType, t.ScheduleValue,
		nullableTime(t.NextRun), nullableTime(t.LastRun), t.LastResult,
		t.Status, t.ContextMode, t.SessionID, formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create task %q: %w", t.ID, err)
	}
	s.logger.Info("task created", "id", t.ID, "type", t.ScheduleType, "group", t.Group)
	return nil
}

// GetTask returns a task by ID, or nil if it does not exist.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(taskSelect+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// ListTasks returns all tasks for a group ("" means all groups), ordered by
// creation time.
func (s *Store) ListTasks(group string) ([]*Task, error) {
	query := taskSelect
	var args []any
	if group != "" {
		query += ` WHERE group_folder = ?`
		args = append(args, group)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DueTasks returns active tasks whose next_run is at or before now, earliest
// first so a backlog drains fairly.
func (s *Store) DueTasks(now time.Time) ([]*Task, error) {
	rows, err := s.db.Query(taskSelect+`
		WHERE status = ? AND next_run IS NOT NULL AND next_run <= ?
		ORDER BY next_run ASC`,
		TaskActive, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SetTaskStatus pauses or resumes a task. Resuming a task with no next_run
// recomputes it from the schedule; completed tasks cannot be resumed.
func (s *Store) SetTaskStatus(id, status string) error {
	t, err := s.GetTask(id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("task %q not found", id)
	}
	if t.Status == TaskCompleted {
		return fmt.Errorf("task %q is completed and cannot change status", id)
	}

	nextRun := t.NextRun
	if status == TaskActive && nextRun == nil {
		nextRun, err = schedule.FirstRun(t.ScheduleType, t.ScheduleValue, time.Now())
		if err != nil {
			return err
		}
	}

	_, err = s.db.Exec(`UPDATE tasks SET status = ?, next_run = ? WHERE id = ?`,
		status, nullableTime(nextRun), id)
	if err != nil {
		return fmt.Errorf("update task %q status: %w", id, err)
	}
	return nil
}

// DeleteTask removes a task; its run logs cascade away with it.
func (s *Store) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %q not found", id)
	}
	s.logger.Info("task deleted", "id", id)
	return nil
}

// CompleteRun records one execution attempt: it appends the run log and
// advances the task's recurrence state in a single transaction, so a crash
// cannot leave a stale next_run on an active task. Status becomes completed
// exactly when nextRun is nil, never independently.
func (s *Store) CompleteRun(taskID string, log *RunLog, nextRun *time.Time, sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin run update: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO task_run_logs (task_id, run_at, duration_ms, status, result, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, formatTime(log.RunAt), log.DurationMs, log.Status, log.Result, log.Error)
	if err != nil {
		return fmt.Errorf("append run log for %q: %w", taskID, err)
	}

	lastResult := log.Result
	if log.Status == RunError {
		lastResult = log.Error
	}

	// A recurring task keeps whatever status it has: pausing a task while a
	// run is in flight must survive the run finishing.
	_, err = tx.Exec(`
		UPDATE tasks
		SET last_run = ?, last_result = ?, next_run = ?,
		    status = CASE WHEN ? THEN ? ELSE status END, session_id = ?
		WHERE id = ?`,
		formatTime(log.RunAt), lastResult, nullableTime(nextRun),
		nextRun == nil, TaskCompleted, sessionID, taskID)
	if err != nil {
		return fmt.Errorf("update task %q after run: %w", taskID, err)
	}

	return tx.Commit()
}

// RunLogs returns the most recent run logs for a task, newest first.
func (s *Store) RunLogs(taskID string, limit int) ([]*RunLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, task_id, run_at, duration_ms, status, result, error
		FROM task_run_logs
		WHERE task_id = ?
		ORDER BY run_at DESC, id DESC
		LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("query run logs: %w", err)
	}
	defer rows.Close()

	var logs []*RunLog
	for rows.Next() {
		var (
			l     RunLog
			runAt string
		)
		if err := rows.Scan(&l.ID, &l.TaskID, &runAt, &l.DurationMs, &l.Status, &l.Result, &l.Error); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		l.RunAt, _ = parseTime(runAt)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// ---------- Internal ----------

const taskSelect = `
	SELECT id, group_folder, chat_id, prompt, schedule_type, schedule_value,
	       next_run, last_run, last_result, status, context_mode, session_id, created_at
	FROM tasks`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t         Task
		nextRun   sql.NullString
		lastRun   sql.NullString
		createdAt string
	)
	err := row.Scan(&t.ID, &t.Group, &t.ChatID, &t.Prompt,
		&t.ScheduleType, &t.ScheduleValue,
		&nextRun, &lastRun, &t.LastResult, &t.Status, &t.ContextMode,
		&t.SessionID, &createdAt)
	if err != nil {
		return nil, err
	}

	if nextRun.Valid {
		v, err := parseTime(nextRun.String)
		if err != nil {
			return nil, fmt.Errorf("task %q has bad next_run: %w", t.ID, err)
		}
		t.NextRun = &v
	}
	if lastRun.Valid {
		if v, err := parseTime(lastRun.String); err == nil {
			t.LastRun = &v
		}
	}
	t.CreatedAt, _ = parseTime(createdAt)
	return &t, nil
}
