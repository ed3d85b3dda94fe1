// Package commands implements the clawgate CLI commands using cobra.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pmendler/clawgate/pkg/clawgate/config"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clawgate",
		Short: "clawgate - chat gateway for a containerized AI agent",
		Long: `clawgate routes messages between chat channels (WhatsApp, Telegram,
local) and a containerized AI agent, and runs scheduled agent tasks.

Examples:
  clawgate serve
  clawgate task list
  clawgate task add --prompt "morning summary" --cron "0 8 * * *" --chat main
  clawgate migrate tasks.json`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newTaskCmd(),
		newMigrateCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "clawgate.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// loadConfig reads the config file named by the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	return config.Load(path)
}

// buildLogger constructs the slog logger per config and the --verbose flag.
func buildLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
