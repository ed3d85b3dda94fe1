package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pmendler/clawgate/pkg/clawgate/schedule"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetTask(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	task := &Task{
		Group:         "main",
		ChatID:        "chat-1",
		Prompt:        "summarize the day",
		ScheduleType:  schedule.TypeCron,
		ScheduleValue: "0 8 * * *",
		ContextMode:   ContextShared,
	}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID == "" {
		t.Fatal("task ID was not generated")
	}
	if task.NextRun == nil {
		t.Fatal("next_run was not computed at creation")
	}

	got, err := s.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got == nil {
		t.Fatal("task not found after create")
	}
	if got.Prompt != task.Prompt || got.Status != TaskActive || got.ContextMode != ContextShared {
		t.Errorf("got = %+v", got)
	}
	if got.NextRun == nil || !got.NextRun.Equal(*task.NextRun) {
		t.Errorf("next_run round trip: got %v, want %v", got.NextRun, task.NextRun)
	}
}

func TestGetTaskMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	got, err := s.GetTask("nope")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestCreateTaskRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	err := s.CreateTask(&Task{
		Group:         "main",
		ChatID:        "c",
		Prompt:        "p",
		ScheduleType:  schedule.TypeOnce,
		ScheduleValue: "whenever",
	})
	if err == nil {
		t.Error("expected error for invalid schedule value")
	}
}

func TestDueTasks(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	mk := func(id, value string) {
		if err := s.CreateTask(&Task{
			ID: id, Group: "g", ChatID: "c", Prompt: "p",
			ScheduleType: schedule.TypeOnce, ScheduleValue: value,
		}); err != nil {
			t.Fatalf("CreateTask(%s): %v", id, err)
		}
	}

	mk("late", "2026-02-20T00:30:00")
	mk("early", "2026-02-19T08:00:00")
	mk("future", "2099-01-01T00:00:00")

	// The §8 boundary: one millisecond past the scheduled instant.
	now := time.Date(2026, 2, 20, 0, 30, 0, int(time.Millisecond), time.UTC)
	due, err := s.DueTasks(now)
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due tasks, want 2", len(due))
	}
	if due[0].ID != "early" || due[1].ID != "late" {
		t.Errorf("due order = [%s %s], want [early late]", due[0].ID, due[1].ID)
	}

	// One millisecond before the instant the task is not due.
	before := time.Date(2026, 2, 20, 0, 29, 59, int(999*time.Millisecond), time.UTC)
	due, err = s.DueTasks(before)
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 1 || due[0].ID != "early" {
		t.Errorf("due before boundary = %v", taskIDs(due))
	}
}

func TestDueTasksSkipsPausedAndCompleted(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.CreateTask(&Task{
		ID: "paused", Group: "g", ChatID: "c", Prompt: "p",
		ScheduleType: schedule.TypeOnce, ScheduleValue: "2026-01-01T00:00:00",
		Status: TaskPaused,
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	due, err := s.DueTasks(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("paused task reported due: %v", taskIDs(due))
	}
}

func TestCompleteRunInterval(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	task := &Task{
		ID: "t1", Group: "g", ChatID: "c", Prompt: "p",
		ScheduleType: schedule.TypeInterval, ScheduleValue: "60000",
	}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	runAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next, err := schedule.NextRun(task.ScheduleType, task.ScheduleValue, runAt)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	log := &RunLog{TaskID: "t1", RunAt: runAt, DurationMs: 1234, Status: RunSuccess, Result: "done"}
	if err := s.CompleteRun("t1", log, next, "sess-1"); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, _ := s.GetTask("t1")
	if got.Status != TaskActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.NextRun == nil || !got.NextRun.Equal(runAt.Add(time.Minute)) {
		t.Errorf("next_run = %v, want %v", got.NextRun, runAt.Add(time.Minute))
	}
	if got.LastResult != "done" || got.SessionID != "sess-1" {
		t.Errorf("got = %+v", got)
	}
	if got.LastRun == nil || !got.LastRun.Equal(runAt) {
		t.Errorf("last_run = %v, want %v", got.LastRun, runAt)
	}

	logs, err := s.RunLogs("t1", 10)
	if err != nil {
		t.Fatalf("RunLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].DurationMs != 1234 || logs[0].Status != RunSuccess {
		t.Errorf("logs = %+v", logs)
	}
}

func TestCompleteRunOnceCompletesEvenOnError(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	task := &Task{
		ID: "t1", Group: "g", ChatID: "c", Prompt: "p",
		ScheduleType: schedule.TypeOnce, ScheduleValue: "2026-02-20T00:30:00",
	}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	log := &RunLog{TaskID: "t1", RunAt: time.Now(), Status: RunError, Error: "agent timed out"}
	if err := s.CompleteRun("t1", log, nil, ""); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, _ := s.GetTask("t1")
	if got.Status != TaskCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.NextRun != nil {
		t.Errorf("next_run = %v, want nil", got.NextRun)
	}
	if got.LastResult != "agent timed out" {
		t.Errorf("last_result = %q", got.LastResult)
	}
}

func TestCompleteRunKeepsPausedStatus(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	task := &Task{
		ID: "t1", Group: "g", ChatID: "c", Prompt: "p",
		ScheduleType: schedule.TypeInterval, ScheduleValue: "60000",
	}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Pause lands while a run is in flight; finishing the run must not
	// resurrect the task.
	if err := s.SetTaskStatus("t1", TaskPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}

	runAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := runAt.Add(time.Minute)
	log := &RunLog{TaskID: "t1", RunAt: runAt, Status: RunSuccess, Result: "done"}
	if err := s.CompleteRun("t1", log, &next, ""); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, _ := s.GetTask("t1")
	if got.Status != TaskPaused {
		t.Errorf("status = %s, want paused", got.Status)
	}
	if got.NextRun == nil || !got.NextRun.Equal(next) {
		t.Errorf("next_run = %v, want %v", got.NextRun, next)
	}
}

func TestDeleteTaskCascadesRunLogs(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	task := &Task{
		ID: "t1", Group: "g", ChatID: "c", Prompt: "p",
		ScheduleType: schedule.TypeInterval, ScheduleValue: "1000",
	}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	for i := 0; i < 3; i++ {
		next := time.Now().Add(time.Second)
		log := &RunLog{TaskID: "t1", RunAt: time.Now(), Status: RunSuccess, Result: "r"}
		if err := s.CompleteRun("t1", log, &next, ""); err != nil {
			t.Fatalf("CompleteRun: %v", err)
		}
	}

	if err := s.DeleteTask("t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM task_run_logs WHERE task_id = 't1'`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("run logs remaining after cascade delete: %d", count)
	}
}

func TestDeleteTaskMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.DeleteTask("nope"); err == nil {
		t.Error("expected error deleting unknown task")
	}
}

func TestSetTaskStatus(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	task := &Task{
		ID: "t1", Group: "g", ChatID: "c", Prompt: "p",
		ScheduleType: schedule.TypeInterval, ScheduleValue: "60000",
	}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := s.SetTaskStatus("t1", TaskPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, _ := s.GetTask("t1")
	if got.Status != TaskPaused {
		t.Errorf("status = %s, want paused", got.Status)
	}

	if err := s.SetTaskStatus("t1", TaskActive); err != nil {
		t.Fatalf("resume: %v", err)
	}
	got, _ = s.GetTask("t1")
	if got.Status != TaskActive || got.NextRun == nil {
		t.Errorf("resumed task = %+v", got)
	}

	// Complete the task; it can no longer change status.
	if err := s.CompleteRun("t1", &RunLog{TaskID: "t1", RunAt: time.Now(), Status: RunSuccess}, nil, ""); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if err := s.SetTaskStatus("t1", TaskActive); err == nil {
		t.Error("expected error resuming a completed task")
	}
}

func TestImportLegacyTasks(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	legacy := `{
		"morning-brief": {
			"schedule": "0 8 * * *",
			"type": "cron",
			"command": "post the morning brief",
			"chat_id": "chat-1",
			"enabled": true,
			"isolate_session": true,
			"created_at": "2025-11-01T10:00:00Z"
		},
		"reminder": {
			"schedule": "2099-06-01T09:00:00",
			"type": "at",
			"command": "remind about renewal",
			"chat_id": "chat-2",
			"enabled": false
		},
		"weird": {
			"schedule": "???",
			"type": "sometimes",
			"command": "x",
			"chat_id": "c"
		}
	}`
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	n, err := s.ImportLegacyTasks(path)
	if err != nil {
		t.Fatalf("ImportLegacyTasks: %v", err)
	}
	if n != 2 {
		t.Errorf("imported = %d, want 2", n)
	}

	brief, _ := s.GetTask("morning-brief")
	if brief == nil || brief.ScheduleType != schedule.TypeCron || brief.ContextMode != ContextIsolated {
		t.Errorf("morning-brief = %+v", brief)
	}
	reminder, _ := s.GetTask("reminder")
	if reminder == nil || reminder.Status != TaskPaused || reminder.ScheduleType != schedule.TypeOnce {
		t.Errorf("reminder = %+v", reminder)
	}

	// Re-import is idempotent.
	n, err = s.ImportLegacyTasks(path)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if n != 0 {
		t.Errorf("re-import = %d, want 0", n)
	}
}

func taskIDs(tasks []*Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
