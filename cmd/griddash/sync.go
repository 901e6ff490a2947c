package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var syncOwner string

var syncCmd = &cobra.Command{
	Use:   "sync [table-id]",
	Short: "Pull spreadsheet content into local tables",
	Long: `Run one explicit sync.

With a table id, pulls that table's linked spreadsheet and replaces the
stored sheet-bound rows if the remote diverged. Without arguments, runs
a single sweep over every linked table.

Dashboard-only columns are never touched by a pull.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.close()

		ctx := context.Background()

		if len(args) == 0 {
			e.orch.Sweep(ctx)
			fmt.Println("Sweep complete")
			return
		}

		if syncOwner == "" {
			fmt.Fprintf(os.Stderr, "Error: --owner is required when syncing a single table\n")
			os.Exit(1)
		}
		if err := e.orch.SyncTable(ctx, syncOwner, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Table %s synced\n", args[0])
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncOwner, "owner", "", "owner id of the table")
}
