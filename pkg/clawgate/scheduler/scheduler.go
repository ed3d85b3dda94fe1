// Package scheduler drives scheduled agent tasks. A poll loop discovers due
// tasks from the store at a fixed cadence and executes each one in its own
// goroutine, at most one execution per task at a time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pmendler/clawgate/pkg/clawgate/agent"
	"github.com/pmendler/clawgate/pkg/clawgate/schedule"
	"github.com/pmendler/clawgate/pkg/clawgate/store"
)

// Runner executes one agent invocation for a group workspace.
type Runner interface {
	Run(ctx context.Context, group string, inv agent.Invocation, onStart agent.OnStart, onFragment agent.OnFragment) agent.Outcome
}

// Notifier delivers a task's result text to its chat. nil disables delivery.
type Notifier interface {
	Deliver(chatID, text string) error
}

// Scheduler polls the store for due tasks and runs them through the Runner.
type Scheduler struct {
	store    *store.Store
	runner   Runner
	notifier Notifier

	pollInterval time.Duration

	// inFlight tracks task IDs currently executing so a poll cycle never
	// re-triggers a task whose previous run is still active.
	inFlight map[string]bool

	logger *slog.Logger
	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. notifier may be nil.
func New(st *store.Store, runner Runner, notifier Notifier, pollInterval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Scheduler{
		store:        st,
		runner:       runner,
		notifier:     notifier,
		pollInterval: pollInterval,
		inFlight:     make(map[string]bool),
		logger:       logger.With("component", "scheduler"),
	}
}

// Start launches the poll loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		s.logger.Info("scheduler started", "poll_interval", s.pollInterval.String())
		s.pollOnce()
		for {
			select {
			case <-ticker.C:
				s.pollOnce()
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Stop shuts down the poll loop and waits for in-flight executions.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn("scheduler stop timed out waiting for running tasks")
	}
	s.logger.Info("scheduler stopped")
}

// pollOnce discovers due tasks and dispatches each one. A storage failure is
// logged and the cycle ends; the next tick retries.
func (s *Scheduler) pollOnce() {
	now := time.Now().UTC()
	due, err := s.store.DueTasks(now)
	if err != nil {
		s.logger.Error("due-task query failed", "error", err)
		return
	}

	for _, task := range due {
		s.mu.Lock()
		if s.inFlight[task.ID] {
			s.mu.Unlock()
			s.logger.Debug("skipping task, previous run still active", "id", task.ID)
			continue
		}
		s.inFlight[task.ID] = true
		s.mu.Unlock()

		s.wg.Add(1)
		go func(t *store.Task) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.inFlight, t.ID)
				s.mu.Unlock()
			}()
			if err := s.ExecuteTask(s.ctx, t); err != nil {
				s.logger.Error("task execution not recorded", "id", t.ID, "error", err)
			}
		}(task)
	}
}

// ExecuteTask runs one task through the agent and records the outcome. The
// returned error reports storage failures only; an agent error outcome is a
// recorded result, not an error of ExecuteTask.
func (s *Scheduler) ExecuteTask(ctx context.Context, task *store.Task) error {
	logger := s.logger.With("id", task.ID, "group", task.Group)
	logger.Info("executing task", "schedule_type", task.ScheduleType)

	inv := agent.Invocation{
		Prompt: task.Prompt,
		ChatID: task.ChatID,
	}
	if task.ContextMode == store.ContextShared {
		// Shared mode threads the session from the previous run so the
		// agent keeps its conversational memory across executions.
		inv.SessionID = task.SessionID
	}

	runAt := time.Now().UTC()
	outcome := s.runner.Run(ctx, task.Group, inv, nil, func(fragment string) error {
		logger.Debug("agent output", "fragment", fragment)
		return nil
	})
	duration := time.Since(runAt)

	log := &store.RunLog{
		TaskID:     task.ID,
		RunAt:      runAt,
		DurationMs: duration.Milliseconds(),
	}
	if outcome.IsSuccess() {
		log.Status = store.RunSuccess
		log.Result = outcome.Result
		logger.Info("task completed", "duration", duration.String())
	} else {
		log.Status = store.RunError
		log.Error = outcome.ErrorMessage
		logger.Error("task failed", "duration", duration.String(), "error", outcome.ErrorMessage)
	}

	// once tasks complete after a single attempt regardless of outcome;
	// other types compute their next occurrence and stay active.
	var nextRun *time.Time
	if task.ScheduleType != schedule.TypeOnce {
		next, err := schedule.NextRun(task.ScheduleType, task.ScheduleValue, time.Now().UTC())
		if err != nil {
			logger.Error("next run computation failed, completing task", "error", err)
		} else {
			nextRun = next
		}
	}

	sessionID := task.SessionID
	if task.ContextMode == store.ContextShared && outcome.NewSessionID != "" {
		sessionID = outcome.NewSessionID
	}

	if err := s.store.CompleteRun(task.ID, log, nextRun, sessionID); err != nil {
		return fmt.Errorf("recording run for task %q: %w", task.ID, err)
	}

	if s.notifier != nil && outcome.IsSuccess() && outcome.Result != "" && task.ChatID != "" {
		if err := s.notifier.Deliver(task.ChatID, outcome.Result); err != nil {
			logger.Error("result delivery failed", "chat_id", task.ChatID, "error", err)
		}
	}
	return nil
}
