// Package commands – task.go implements task management subcommands.
package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pmendler/clawgate/pkg/clawgate/schedule"
	"github.com/pmendler/clawgate/pkg/clawgate/store"
)

// newTaskCmd creates the `clawgate task` command group.
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage scheduled tasks",
	}
	cmd.AddCommand(
		newTaskListCmd(),
		newTaskAddCmd(),
		newTaskPauseCmd(),
		newTaskResumeCmd(),
		newTaskDeleteCmd(),
		newTaskLogsCmd(),
	)
	return cmd
}

// openStore opens the task store using the configured database path.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Database.Path, buildLogger(cmd, cfg))
}

func newTaskListCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			tasks, err := st.ListTasks(group)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("no tasks")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSCHEDULE\tNEXT RUN\tPROMPT")
			for _, t := range tasks {
				next := "-"
				if t.NextRun != nil {
					next = t.NextRun.Format("2006-01-02 15:04:05")
				}
				prompt := t.Prompt
				if len(prompt) > 40 {
					prompt = prompt[:40] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%s\n",
					t.ID, t.Status, t.ScheduleType, t.ScheduleValue, next, prompt)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "filter by workspace group")
	return cmd
}

func newTaskAddCmd() *cobra.Command {
	var (
		prompt   string
		chatID   string
		group    string
		cronExpr string
		interval string
		once     string
		isolated bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled task",
		Long: `Add a scheduled task. Exactly one of --cron, --interval, or --once
must be given.

Examples:
  clawgate task add --prompt "morning summary" --chat main --cron "0 8 * * *"
  clawgate task add --prompt "check feeds" --chat main --interval 30m
  clawgate task add --prompt "renewal reminder" --chat 123456 --once 2026-06-01T09:00:00`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schedType, schedValue, err := pickSchedule(cronExpr, interval, once)
			if err != nil {
				return err
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			contextMode := store.ContextShared
			if isolated {
				contextMode = store.ContextIsolated
			}
			task := &store.Task{
				Group:         group,
				ChatID:        chatID,
				Prompt:        prompt,
				ScheduleType:  schedType,
				ScheduleValue: schedValue,
				ContextMode:   contextMode,
			}
			if err := st.CreateTask(task); err != nil {
				return err
			}
			fmt.Printf("task %s created, next run %s\n",
				task.ID, task.NextRun.Format("2006-01-02 15:04:05 UTC"))
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt for the agent (required)")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat address for the result (required)")
	cmd.Flags().StringVar(&group, "group", "main", "agent workspace group")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression schedule")
	cmd.Flags().StringVar(&interval, "interval", "", "interval schedule (duration or milliseconds)")
	cmd.Flags().StringVar(&once, "once", "", "one-shot schedule timestamp (no zone means UTC)")
	cmd.Flags().BoolVar(&isolated, "isolated", false, "fresh agent session for each run")
	_ = cmd.MarkFlagRequired("prompt")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}

// pickSchedule resolves the mutually exclusive schedule flags.
func pickSchedule(cronExpr, interval, once string) (string, string, error) {
	set := 0
	schedType, schedValue := "", ""
	if cronExpr != "" {
		set++
		schedType, schedValue = schedule.TypeCron, cronExpr
	}
	if interval != "" {
		set++
		schedType, schedValue = schedule.TypeInterval, interval
	}
	if once != "" {
		set++
		schedType, schedValue = schedule.TypeOnce, once
	}
	if set != 1 {
		return "", "", fmt.Errorf("exactly one of --cron, --interval, --once is required")
	}
	return schedType, schedValue, nil
}

func newTaskPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.SetTaskStatus(args[0], store.TaskPaused)
		},
	}
}

func newTaskResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.SetTaskStatus(args[0], store.TaskActive)
		},
	}
}

func newTaskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and its run history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.DeleteTask(args[0])
		},
	}
}

func newTaskLogsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show recent runs of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			logs, err := st.RunLogs(args[0], limit)
			if err != nil {
				return err
			}
			if len(logs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN AT\tSTATUS\tDURATION\tRESULT")
			for _, l := range logs {
				result := l.Result
				if l.Status == store.RunError {
					result = l.Error
				}
				if len(result) > 60 {
					result = result[:60] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%dms\t%s\n",
					l.RunAt.Format("2006-01-02 15:04:05"), l.Status, l.DurationMs, result)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	return cmd
}
