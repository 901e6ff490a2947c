// Package model provides the data structures shared by the row store,
// side store, spreadsheet adapter and sync orchestrator.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ColumnType enumerates the supported cell value types.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeDate    ColumnType = "date"
	TypeNumber  ColumnType = "number"
	TypeBoolean ColumnType = "boolean"
)

// Valid reports whether the column type is one of the supported types.
func (ct ColumnType) Valid() bool {
	switch ct {
	case TypeText, TypeDate, TypeNumber, TypeBoolean:
		return true
	}
	return false
}

// Column describes one typed column of a table.
//
// A column's name is its identity: it must be unique within the table
// and is matched against the remote spreadsheet's header row. Renaming
// a column breaks that matching, so names are immutable once created.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`

	// DashboardOnly routes the column's values to the side store.
	// Dashboard-only values are never mirrored to the spreadsheet.
	DashboardOnly bool `json:"isDashboardOnly"`
}

// Validate checks that the column has a usable name and type.
func (c Column) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: column name is required", ErrValidation)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown column type %q", ErrValidation, c.Type)
	}
	return nil
}

// Row is one logical record of a table.
//
// The Values held here depend on context: the row store persists only
// the sheet-bound projection, while merged rows returned to callers
// carry every column.
type Row struct {
	// ID is generated once at creation and never reused.
	ID     string         `json:"id"`
	Values map[string]any `json:"values"`
}

// Clone returns a deep copy of the row. Values maps are copied one
// level deep, which is sufficient for the flat cell values used here.
func (r Row) Clone() Row {
	values := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return Row{ID: r.ID, Values: values}
}

// SpreadsheetRef identifies the external spreadsheet linked to a table.
type SpreadsheetRef struct {
	// ExternalID is the opaque id of the remote spreadsheet.
	ExternalID string `json:"externalId"`
	// ExternalURL is the user-facing sharing URL.
	ExternalURL string `json:"externalUrl"`
}

// Table is a user-owned tabular schema plus its sheet-bound row data.
type Table struct {
	ID      string   `json:"id"`
	OwnerID string   `json:"ownerId"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`

	// Rows hold the sheet-bound projection only. Use the merge package
	// to obtain fully populated rows.
	Rows []Row `json:"rows"`

	// Spreadsheet is nil for local-only tables: no sync occurs.
	Spreadsheet *SpreadsheetRef `json:"spreadsheetRef,omitempty"`

	LastSyncedAt  *time.Time `json:"lastSyncedAt,omitempty"`
	LastSyncError string     `json:"lastSyncError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks table-level invariants: a name, at least one column,
// valid columns, and unique column names.
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: table name is required", ErrValidation)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("%w: at least one column is required", ErrValidation)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, col := range t.Columns {
		if err := col.Validate(); err != nil {
			return err
		}
		if seen[col.Name] {
			return fmt.Errorf("%w: duplicate column %q", ErrValidation, col.Name)
		}
		seen[col.Name] = true
	}
	return nil
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// SheetColumns returns the non-dashboard-only columns in table order.
// Their names form the remote spreadsheet's expected header row.
func (t *Table) SheetColumns() []Column {
	var cols []Column
	for _, col := range t.Columns {
		if !col.DashboardOnly {
			cols = append(cols, col)
		}
	}
	return cols
}

// DashboardColumns returns the dashboard-only columns in table order.
func (t *Table) DashboardColumns() []Column {
	var cols []Column
	for _, col := range t.Columns {
		if col.DashboardOnly {
			cols = append(cols, col)
		}
	}
	return cols
}

// RowIndex returns the position of the row with the given id, or -1.
// Row positions correlate 1:1 with remote spreadsheet data rows.
func (t *Table) RowIndex(rowID string) int {
	for i, row := range t.Rows {
		if row.ID == rowID {
			return i
		}
	}
	return -1
}

// NewID returns a fresh random identifier with the given prefix,
// e.g. "tbl-9f2c4a81d03b7e56". IDs are generated once and never reused.
func NewID(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails if the OS entropy source is broken
		panic(fmt.Sprintf("model: cannot generate id: %v", err))
	}
	return prefix + "-" + hex.EncodeToString(buf)
}

// NewTableID returns a fresh table identifier.
func NewTableID() string { return NewID("tbl") }

// NewRowID returns a fresh row identifier.
func NewRowID() string { return NewID("row") }
