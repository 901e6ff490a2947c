package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/griddash/griddash/internal/gridsync"
	"github.com/griddash/griddash/internal/model"
)

var (
	tableOwner      string
	tableColumns    []string
	tableSheetURL   string
	tableNewRemote  bool
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Manage tables from the terminal",
}

var tableListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tables for an owner",
	Run: func(cmd *cobra.Command, args []string) {
		e := mustEnv()
		defer e.close()

		tables, err := e.orch.ListTables(context.Background(), requireOwner())
		if err != nil {
			fail(err)
		}
		if len(tables) == 0 {
			fmt.Println("No tables")
			return
		}
		for _, t := range tables {
			linked := "local-only"
			if t.Spreadsheet != nil {
				linked = t.Spreadsheet.ExternalID
			}
			status := ""
			if t.LastSyncError != "" {
				status = " [sync error: " + t.LastSyncError + "]"
			}
			fmt.Printf("%s  %-20s  %d columns  %d rows  %s%s\n",
				t.ID, t.Name, len(t.Columns), len(t.Rows), linked, status)
		}
	},
}

var tableCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a table",
	Long: `Create a table with typed columns.

Columns are given as name:type[:dashboard], for example:
  griddash table create Expenses --owner u1 \
      --column Amount:number --column Date:date --column Notes:text:dashboard

Use --sheet-url to link an existing spreadsheet, or --create-remote to
provision a new one.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cols, err := parseColumns(tableColumns)
		if err != nil {
			fail(err)
		}

		e := mustEnv()
		defer e.close()

		t, warning, err := e.orch.CreateTable(context.Background(), requireOwner(), args[0], cols, gridsync.CreateOptions{
			SpreadsheetURL: tableSheetURL,
			CreateRemote:   tableNewRemote,
		})
		if err != nil {
			fail(err)
		}

		fmt.Printf("Created table %s (%s)\n", t.ID, t.Name)
		if t.Spreadsheet != nil {
			fmt.Printf("Linked spreadsheet: %s\n", t.Spreadsheet.ExternalID)
		}
		if warning != "" {
			fmt.Printf("Warning: %s\n", warning)
		}
	},
}

var tableLinkCmd = &cobra.Command{
	Use:   "link <table-id> <sharing-url>",
	Short: "Link a table to a spreadsheet sharing URL",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e := mustEnv()
		defer e.close()

		t, warning, err := e.orch.LinkSpreadsheet(context.Background(), requireOwner(), args[0], args[1])
		if err != nil {
			fail(err)
		}

		fmt.Printf("Table %s linked to %s\n", t.ID, t.Spreadsheet.ExternalID)
		if warning != "" {
			fmt.Printf("Warning: initial sync failed: %s\n", warning)
		}
	},
}

func init() {
	tableCmd.PersistentFlags().StringVar(&tableOwner, "owner", "", "owner id")
	tableCreateCmd.Flags().StringArrayVar(&tableColumns, "column", nil, "column as name:type[:dashboard] (repeatable)")
	tableCreateCmd.Flags().StringVar(&tableSheetURL, "sheet-url", "", "sharing URL of an existing spreadsheet to link")
	tableCreateCmd.Flags().BoolVar(&tableNewRemote, "create-remote", false, "provision a new remote spreadsheet")

	tableCmd.AddCommand(tableListCmd)
	tableCmd.AddCommand(tableCreateCmd)
	tableCmd.AddCommand(tableLinkCmd)
}

// parseColumns turns name:type[:dashboard] specs into column models.
func parseColumns(specs []string) ([]model.Column, error) {
	var cols []model.Column
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("%w: column spec %q, want name:type[:dashboard]", model.ErrValidation, spec)
		}
		col := model.Column{
			Name: parts[0],
			Type: model.ColumnType(parts[1]),
		}
		if len(parts) == 3 {
			if parts[2] != "dashboard" {
				return nil, fmt.Errorf("%w: column spec %q, third part must be \"dashboard\"", model.ErrValidation, spec)
			}
			col.DashboardOnly = true
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func mustEnv() *env {
	e, err := openEnv(nil)
	if err != nil {
		fail(err)
	}
	return e
}

func requireOwner() string {
	if tableOwner == "" {
		fmt.Fprintf(os.Stderr, "Error: --owner is required\n")
		os.Exit(1)
	}
	return tableOwner
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
