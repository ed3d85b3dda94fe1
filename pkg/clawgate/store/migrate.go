// Package store – migrate.go imports legacy JSON task files into the
// database. Earlier deployments kept scheduled tasks as a single JSON object
// keyed by task ID; the importer maps those records onto the current schema.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pmendler/clawgate/pkg/clawgate/schedule"
)

// legacyTask mirrors the old JSON file format.
type legacyTask struct {
	ID        string    `json:"id"`
	Schedule  string    `json:"schedule"`
	Type      string    `json:"type"`
	Command   string    `json:"command"`
	ChatID    string    `json:"chat_id"`
	Group     string    `json:"group"`
	Enabled   bool      `json:"enabled"`
	Isolate   bool      `json:"isolate_session"`
	CreatedAt time.Time `json:"created_at"`
}

// legacyTypeMap translates old schedule type names.
var legacyTypeMap = map[string]string{
	"cron":  schedule.TypeCron,
	"every": schedule.TypeInterval,
	"at":    schedule.TypeOnce,
}

// ImportLegacyTasks reads a legacy JSON task file and inserts its tasks.
// Records that already exist (by ID) or fail validation are skipped with a
// warning. Returns the number of tasks imported.
func (s *Store) ImportLegacyTasks(jsonPath string) (int, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return 0, fmt.Errorf("reading legacy task file: %w", err)
	}

	var legacy map[string]*legacyTask
	if err := json.Unmarshal(data, &legacy); err != nil {
		return 0, fmt.Errorf("parsing legacy task file: %w", err)
	}

	imported := 0
	for id, lt := range legacy {
		if lt.ID == "" {
			lt.ID = id
		}

		existing, err := s.GetTask(lt.ID)
		if err != nil {
			return imported, err
		}
		if existing != nil {
			s.logger.Warn("skipping legacy task, already imported", "id", lt.ID)
			continue
		}

		schedType, ok := legacyTypeMap[lt.Type]
		if !ok {
			s.logger.Warn("skipping legacy task with unknown type", "id", lt.ID, "type", lt.Type)
			continue
		}

		status := TaskActive
		if !lt.Enabled {
			status = TaskPaused
		}
		contextMode := ContextShared
		if lt.Isolate {
			contextMode = ContextIsolated
		}
		group := lt.Group
		if group == "" {
			group = "main"
		}

		t := &Task{
			ID:            lt.ID,
			Group:         group,
			ChatID:        lt.ChatID,
			Prompt:        lt.Command,
			ScheduleType:  schedType,
			ScheduleValue: lt.Schedule,
			Status:        status,
			ContextMode:   contextMode,
			CreatedAt:     lt.CreatedAt,
		}
		if err := s.CreateTask(t); err != nil {
			s.logger.Warn("skipping legacy task", "id", lt.ID, "error", err)
			continue
		}
		imported++
	}

	s.logger.Info("legacy tasks imported", "count", imported, "file", jsonPath)
	return imported, nil
}
