package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/griddash/griddash/internal/model"
)

// setupTestStore creates a temporary database for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return s
}

func newTestTable(owner string) *model.Table {
	return &model.Table{
		ID:      model.NewTableID(),
		OwnerID: owner,
		Name:    "Expenses",
		Columns: []model.Column{
			{Name: "Amount", Type: model.TypeNumber},
			{Name: "Notes", Type: model.TypeText, DashboardOnly: true},
		},
	}
}

func TestCreateAndGetTable(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tbl := newTestTable("user-1")
	if err := s.CreateTableContext(ctx, tbl); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	got, err := s.GetTableContext(ctx, "user-1", tbl.ID)
	if err != nil {
		t.Fatalf("GetTable failed: %v", err)
	}
	if got.Name != "Expenses" {
		t.Errorf("expected name Expenses, got %s", got.Name)
	}
	if len(got.Columns) != 2 {
		t.Errorf("expected 2 columns, got %d", len(got.Columns))
	}
	if got.Spreadsheet != nil {
		t.Error("new table should be local-only")
	}
}

func TestCrossOwnerAccessIsNotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tbl := newTestTable("user-1")
	if err := s.CreateTableContext(ctx, tbl); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	// Another user must see NotFound, not a Forbidden variant that
	// would leak the table's existence.
	_, err := s.GetTableContext(ctx, "user-2", tbl.ID)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = s.UpdateRow(ctx, "user-2", tbl.ID, "row-x", map[string]any{})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cross-owner update, got %v", err)
	}
}

func TestAppendUpdateDeleteRow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tbl := newTestTable("user-1")
	if err := s.CreateTableContext(ctx, tbl); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	row1 := model.Row{ID: model.NewRowID(), Values: map[string]any{"Amount": 10.0}}
	row2 := model.Row{ID: model.NewRowID(), Values: map[string]any{"Amount": 20.0}}

	got, err := s.AppendRow(ctx, "user-1", tbl.ID, row1)
	if err != nil {
		t.Fatalf("AppendRow failed: %v", err)
	}
	if got, err = s.AppendRow(ctx, "user-1", tbl.ID, row2); err != nil {
		t.Fatalf("AppendRow failed: %v", err)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got.Rows))
	}
	if got.Rows[0].ID != row1.ID || got.Rows[1].ID != row2.ID {
		t.Error("rows not ordered by position")
	}

	got, err = s.UpdateRow(ctx, "user-1", tbl.ID, row1.ID, map[string]any{"Amount": 99.0})
	if err != nil {
		t.Fatalf("UpdateRow failed: %v", err)
	}
	if got.Rows[0].Values["Amount"] != 99.0 {
		t.Errorf("expected Amount 99, got %v", got.Rows[0].Values["Amount"])
	}

	got, err = s.DeleteRow(ctx, "user-1", tbl.ID, row1.ID)
	if err != nil {
		t.Fatalf("DeleteRow failed: %v", err)
	}
	if len(got.Rows) != 1 || got.Rows[0].ID != row2.ID {
		t.Fatalf("expected only row2 to remain, got %v", got.Rows)
	}

	// Position compaction: row2 must now correlate to remote index 0.
	got2, err := s.AppendRow(ctx, "user-1", tbl.ID,
		model.Row{ID: model.NewRowID(), Values: map[string]any{"Amount": 30.0}})
	if err != nil {
		t.Fatalf("AppendRow after delete failed: %v", err)
	}
	if got2.Rows[0].ID != row2.ID {
		t.Error("positions not compacted after delete")
	}
}

func TestUpdateMissingRow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tbl := newTestTable("user-1")
	if err := s.CreateTableContext(ctx, tbl); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	_, err := s.UpdateRow(ctx, "user-1", tbl.ID, "row-missing", map[string]any{})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = s.DeleteRow(ctx, "user-1", tbl.ID, "row-missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReplaceRows(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tbl := newTestTable("user-1")
	tbl.Rows = []model.Row{
		{ID: "row-a", Values: map[string]any{"Amount": 1.0}},
		{ID: "row-b", Values: map[string]any{"Amount": 2.0}},
	}
	if err := s.CreateTableContext(ctx, tbl); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	replacement := []model.Row{
		{ID: "row-a", Values: map[string]any{"Amount": 10.0}},
		{ID: "row-c", Values: map[string]any{"Amount": 3.0}},
		{ID: "row-d", Values: map[string]any{"Amount": 4.0}},
	}
	if err := s.ReplaceRows(ctx, tbl.ID, replacement); err != nil {
		t.Fatalf("ReplaceRows failed: %v", err)
	}

	got, err := s.GetTableContext(ctx, "user-1", tbl.ID)
	if err != nil {
		t.Fatalf("GetTable failed: %v", err)
	}
	if len(got.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got.Rows))
	}
	if got.Rows[0].ID != "row-a" || got.Rows[1].ID != "row-c" || got.Rows[2].ID != "row-d" {
		t.Errorf("row order not preserved: %v", got.Rows)
	}
}

func TestAddColumn(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tbl := newTestTable("user-1")
	if err := s.CreateTableContext(ctx, tbl); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	got, err := s.AddColumn(ctx, "user-1", tbl.ID, model.Column{Name: "Paid", Type: model.TypeBoolean})
	if err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}
	if len(got.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(got.Columns))
	}

	_, err = s.AddColumn(ctx, "user-1", tbl.ID, model.Column{Name: "Amount", Type: model.TypeNumber})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for duplicate column, got %v", err)
	}
}

func TestSpreadsheetRefAndSyncStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tbl := newTestTable("user-1")
	if err := s.CreateTableContext(ctx, tbl); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	ref := &model.SpreadsheetRef{ExternalID: "sheet-abc", ExternalURL: "https://sheets.griddash.dev/d/sheet-abc/edit"}
	if err := s.SetSpreadsheetRef(ctx, "user-1", tbl.ID, ref); err != nil {
		t.Fatalf("SetSpreadsheetRef failed: %v", err)
	}

	linked, err := s.ListLinked(ctx)
	if err != nil {
		t.Fatalf("ListLinked failed: %v", err)
	}
	if len(linked) != 1 || linked[0].Spreadsheet.ExternalID != "sheet-abc" {
		t.Fatalf("linked table not listed: %v", linked)
	}

	if err := s.SetSyncError(ctx, tbl.ID, "remote header missing columns: Amount"); err != nil {
		t.Fatalf("SetSyncError failed: %v", err)
	}
	got, _ := s.GetTableContext(ctx, "user-1", tbl.ID)
	if got.LastSyncError == "" || got.LastSyncedAt != nil {
		t.Fatalf("sync error not recorded correctly: %+v", got)
	}

	now := time.Now()
	if err := s.SetSynced(ctx, tbl.ID, now); err != nil {
		t.Fatalf("SetSynced failed: %v", err)
	}
	got, _ = s.GetTableContext(ctx, "user-1", tbl.ID)
	if got.LastSyncedAt == nil {
		t.Fatal("lastSyncedAt not stamped")
	}
	if got.LastSyncError != "" {
		t.Errorf("sync error not cleared on success: %q", got.LastSyncError)
	}
}

func TestListByOwner(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.CreateTableContext(ctx, newTestTable("user-1")); err != nil {
			t.Fatalf("CreateTable failed: %v", err)
		}
	}
	if err := s.CreateTableContext(ctx, newTestTable("user-2")); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	tables, err := s.ListByOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(tables) != 3 {
		t.Fatalf("expected 3 tables for user-1, got %d", len(tables))
	}
}
