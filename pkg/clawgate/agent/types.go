// Package agent implements the container agent runtime: it launches one
// isolated agent process per invocation, exchanges structured results over the
// process's output stream using a line-marker framing protocol, and enforces a
// two-tier (idle + hard) timeout policy with an exactly-once resolution
// guarantee.
package agent

import (
	"time"

	"github.com/pmendler/clawgate/pkg/clawgate/mounts"
)

// Invocation is one agent invocation request. Immutable once constructed.
type Invocation struct {
	// Prompt is the full prompt text handed to the agent.
	Prompt string `json:"prompt"`

	// ChatID is the target chat the agent is acting for.
	ChatID string `json:"chatId"`

	// IsMain marks an invocation for the always-on main channel, as opposed
	// to an isolated sub-task.
	IsMain bool `json:"isMain"`

	// SessionID is the prior agent session to resume, if any.
	SessionID string `json:"sessionId,omitempty"`
}

// Outcome statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Outcome is the structured result of one invocation. Exactly one Outcome is
// produced per invocation, regardless of how timeout and exit events race.
type Outcome struct {
	// Status is "success" or "error".
	Status string

	// Result is the agent's result text (success only).
	Result string

	// NewSessionID is the session identifier for continuing the
	// conversation in a later invocation (success only).
	NewSessionID string

	// ErrorMessage describes the failure (error only).
	ErrorMessage string
}

// IsSuccess reports whether the invocation succeeded.
func (o Outcome) IsSuccess() bool { return o.Status == StatusSuccess }

func successOutcome(result, sessionID string) Outcome {
	return Outcome{Status: StatusSuccess, Result: result, NewSessionID: sessionID}
}

func errorOutcome(message string) Outcome {
	return Outcome{Status: StatusError, ErrorMessage: message}
}

// OnStart is called once the agent process has been spawned.
type OnStart func(pid int)

// OnFragment receives diagnostic output fragments in emission order. The
// runtime awaits each call before processing further output, so a slow
// consumer backpressures its own invocation only.
type OnFragment func(fragment string) error

// Config holds container agent runtime configuration.
type Config struct {
	// Image is the container image to run.
	Image string `yaml:"image"`

	// ContainerPrefix names spawned containers ("<prefix>-<group>-<ts>").
	ContainerPrefix string `yaml:"container_prefix"`

	// Memory is the container memory limit (docker syntax, e.g. "2g").
	Memory string `yaml:"memory"`

	// CPUs is the container CPU limit (docker syntax, e.g. "2").
	CPUs string `yaml:"cpus"`

	// IdleTimeout kills the container when no output has arrived for this
	// long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// HardTimeoutMargin is added to IdleTimeout to form the absolute
	// ceiling from invocation start. The hard timer is never reset.
	HardTimeoutMargin time.Duration `yaml:"hard_timeout_margin"`

	// MaxOutputBytes caps the buffered output per invocation; bytes beyond
	// the cap are discarded to bound memory.
	MaxOutputBytes int `yaml:"max_output_bytes"`

	// AllowedMountRoots is the allowlist for extra bind mounts.
	AllowedMountRoots []string `yaml:"allowed_mount_roots"`

	// ExtraMounts are additional bind mounts requested for every
	// invocation; they must pass validation against AllowedMountRoots.
	ExtraMounts []mounts.Mount `yaml:"extra_mounts"`

	// Command overrides the container command line entirely (the
	// invocation JSON is still written to stdin). Used by tests; when
	// empty, "docker run" is used.
	Command []string `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Image:             "clawgate-agent:latest",
		ContainerPrefix:   "clawgate",
		Memory:            "2g",
		CPUs:              "2",
		IdleTimeout:       3 * time.Minute,
		HardTimeoutMargin: 30 * time.Second,
		MaxOutputBytes:    512 * 1024,
	}
}
