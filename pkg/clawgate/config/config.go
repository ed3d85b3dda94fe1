// Package config defines all configuration structures for the clawgate daemon.
package config

import (
	"time"

	"github.com/pmendler/clawgate/pkg/clawgate/agent"
	"github.com/pmendler/clawgate/pkg/clawgate/channels/local"
	"github.com/pmendler/clawgate/pkg/clawgate/channels/telegram"
	"github.com/pmendler/clawgate/pkg/clawgate/channels/whatsapp"
)

// Config holds all daemon configuration.
type Config struct {
	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// Database configures the SQLite store.
	Database DatabaseConfig `yaml:"database"`

	// Agent configures the container agent runtime.
	Agent agent.Config `yaml:"agent"`

	// Scheduler configures the task polling loop.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Channels configures communication channels.
	Channels ChannelsConfig `yaml:"channels"`

	// GroupsDir is the root directory for per-group agent workspaces.
	GroupsDir string `yaml:"groups_dir"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	// PollInterval is how often due tasks are discovered.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ContextMessages is how many recent chat messages are rendered
	// into the prompt context for main-channel invocations.
	ContextMessages int `yaml:"context_messages"`
}

// ChannelsConfig configures all communication channels.
type ChannelsConfig struct {
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
	Telegram telegram.Config `yaml:"telegram"`
	Local    local.Config    `yaml:"local"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Database: DatabaseConfig{
			Path: "./data/clawgate.db",
		},
		Agent: agent.DefaultConfig(),
		Scheduler: SchedulerConfig{
			PollInterval:    30 * time.Second,
			ContextMessages: 50,
		},
		Channels: ChannelsConfig{
			WhatsApp: whatsapp.DefaultConfig(),
			Telegram: telegram.DefaultConfig(),
			Local:    local.DefaultConfig(),
		},
		GroupsDir: "./groups",
	}
}
