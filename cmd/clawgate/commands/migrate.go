// Package commands – migrate.go imports legacy JSON task files.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newMigrateCmd creates the `clawgate migrate` command.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <tasks.json>",
		Short: "Import tasks from a legacy JSON task file",
		Long: `Import scheduled tasks from the legacy JSON task file format into the
database. Tasks that already exist or fail validation are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.ImportLegacyTasks(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%d task(s) imported\n", n)
			return nil
		},
	}
}
