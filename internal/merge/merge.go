// Package merge composes sheet-bound and dashboard-only projections
// into fully populated logical rows.
//
// Merging is the read-path composition function: it is pure, allocates
// fresh rows, and never fails. A missing or corrupt side-store overlay
// degrades to the sheet-bound projection alone.
package merge

import "github.com/griddash/griddash/internal/model"

// Row composes one logical row from its sheet-bound projection and its
// side-store overlay.
//
// Every column of the table appears in the result; columns absent from
// both projections are filled with nil. Keys present in the overlay win
// over the stored projection - dashboard edits beat stale synced data.
func Row(t *model.Table, row model.Row, overlay map[string]any) model.Row {
	values := make(map[string]any, len(t.Columns))
	for _, col := range t.Columns {
		values[col.Name] = nil
	}
	for name, v := range row.Values {
		if _, ok := t.Column(name); ok {
			values[name] = v
		}
	}
	for name, v := range overlay {
		if _, ok := t.Column(name); ok {
			values[name] = v
		}
	}
	return model.Row{ID: row.ID, Values: values}
}

// Table composes every row of the table with the side-store overlays
// keyed by row id (as returned by the side store's GetAll). Rows with
// no overlay pass through with nil-filled dashboard columns.
func Table(t *model.Table, overlays map[string]map[string]any) []model.Row {
	rows := make([]model.Row, 0, len(t.Rows))
	for _, r := range t.Rows {
		rows = append(rows, Row(t, r, overlays[r.ID]))
	}
	return rows
}
