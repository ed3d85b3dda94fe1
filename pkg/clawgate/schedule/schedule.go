// Package schedule implements schedule value parsing and next-run computation
// for scheduled tasks. Cron expressions are handled by robfig/cron; one-shot
// timestamps follow a strict UTC policy so schedules stay portable across
// deployment hosts.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule types persisted in the task store.
const (
	TypeCron     = "cron"
	TypeInterval = "interval"
	TypeOnce     = "once"
)

// onceLayouts are the zone-less timestamp layouts accepted for one-shot
// schedules. time.Parse interprets these in UTC, which is exactly the policy:
// a timestamp without a zone designator means UTC, never host-local time.
var onceLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseOnceTime converts a one-shot schedule string into a canonical UTC
// instant with millisecond precision. Timestamps carrying an explicit zone
// designator (Z, z, or a ±HH:MM offset) are converted to UTC; timestamps
// without one are taken as already being UTC. Returns ok=false for anything
// that does not parse, including the empty string.
func ParseOnceTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	// RFC 3339 requires an uppercase zone designator; accept lowercase too.
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC().Truncate(time.Millisecond), true
	}

	for _, layout := range onceLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Millisecond), true
		}
	}

	return time.Time{}, false
}

// FirstRun computes the initial next_run for a newly created task.
func FirstRun(schedType, value string, now time.Time) (*time.Time, error) {
	switch schedType {
	case TypeCron:
		return cronNext(value, now)
	case TypeInterval:
		return intervalNext(value, now)
	case TypeOnce:
		t, ok := ParseOnceTime(value)
		if !ok {
			return nil, fmt.Errorf("invalid one-shot timestamp %q", value)
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("unknown schedule type %q", schedType)
	}
}

// NextRun computes the next_run for a task that has just finished a run.
// One-shot tasks never run again: the result is nil, which the store pairs
// with status=completed.
func NextRun(schedType, value string, now time.Time) (*time.Time, error) {
	switch schedType {
	case TypeCron:
		return cronNext(value, now)
	case TypeInterval:
		return intervalNext(value, now)
	case TypeOnce:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown schedule type %q", schedType)
	}
}

// cronNext returns the next matching instant strictly after now.
func cronNext(expr string, now time.Time) (*time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	next := sched.Next(now.UTC())
	return &next, nil
}

// intervalNext returns now + interval. The persisted encoding is integer
// milliseconds; a Go duration string ("5m", "1h30m") is accepted as well.
func intervalNext(value string, now time.Time) (*time.Time, error) {
	d, err := ParseInterval(value)
	if err != nil {
		return nil, err
	}
	next := now.UTC().Add(d)
	return &next, nil
}

// ParseInterval parses an interval schedule value.
func ParseInterval(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("interval must be positive, got %dms", ms)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d, nil
	}
	return 0, fmt.Errorf("invalid interval %q", value)
}

// Validate checks a schedule type/value pair without computing anything.
func Validate(schedType, value string) error {
	switch schedType {
	case TypeCron:
		_, err := cron.ParseStandard(value)
		if err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", value, err)
		}
		return nil
	case TypeInterval:
		_, err := ParseInterval(value)
		return err
	case TypeOnce:
		if _, ok := ParseOnceTime(value); !ok {
			return fmt.Errorf("invalid one-shot timestamp %q", value)
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule type %q", schedType)
	}
}
