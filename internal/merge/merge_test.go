package merge

import (
	"testing"

	"github.com/griddash/griddash/internal/model"
)

func testTable() *model.Table {
	return &model.Table{
		ID:      "tbl-1",
		OwnerID: "user-1",
		Name:    "Expenses",
		Columns: []model.Column{
			{Name: "Amount", Type: model.TypeNumber},
			{Name: "Notes", Type: model.TypeText, DashboardOnly: true},
		},
	}
}

func TestRowRoundTrip(t *testing.T) {
	tbl := testTable()
	stored := model.Row{ID: "row-1", Values: map[string]any{"Amount": 10.0}}
	overlay := map[string]any{"Notes": "x"}

	got := Row(tbl, stored, overlay)

	if got.ID != "row-1" {
		t.Errorf("row id lost: %s", got.ID)
	}
	if got.Values["Amount"] != 10.0 {
		t.Errorf("sheet-bound value lost: %v", got.Values["Amount"])
	}
	if got.Values["Notes"] != "x" {
		t.Errorf("dashboard value lost: %v", got.Values["Notes"])
	}
}

func TestOverlayWinsOnConflict(t *testing.T) {
	tbl := testTable()
	// Side store wins on key collision: dashboard edits beat stale
	// synced data.
	stored := model.Row{ID: "row-1", Values: map[string]any{"Amount": 10.0}}
	overlay := map[string]any{"Amount": 99.0}

	got := Row(tbl, stored, overlay)
	if got.Values["Amount"] != 99.0 {
		t.Fatalf("overlay did not win: %v", got.Values["Amount"])
	}
}

func TestAbsentColumnsDefaultToNil(t *testing.T) {
	tbl := testTable()
	stored := model.Row{ID: "row-1", Values: map[string]any{}}

	got := Row(tbl, stored, nil)
	for _, col := range tbl.Columns {
		v, ok := got.Values[col.Name]
		if !ok {
			t.Errorf("column %s missing from merged row", col.Name)
		}
		if v != nil {
			t.Errorf("column %s should default to nil, got %v", col.Name, v)
		}
	}
}

func TestUnknownKeysDropped(t *testing.T) {
	tbl := testTable()
	stored := model.Row{ID: "row-1", Values: map[string]any{"Ghost": 1.0}}
	overlay := map[string]any{"Phantom": 2.0}

	got := Row(tbl, stored, overlay)
	if _, ok := got.Values["Ghost"]; ok {
		t.Error("unknown stored key leaked into merged row")
	}
	if _, ok := got.Values["Phantom"]; ok {
		t.Error("unknown overlay key leaked into merged row")
	}
}

func TestTableMerge(t *testing.T) {
	tbl := testTable()
	tbl.Rows = []model.Row{
		{ID: "row-1", Values: map[string]any{"Amount": 1.0}},
		{ID: "row-2", Values: map[string]any{"Amount": 2.0}},
	}
	overlays := map[string]map[string]any{
		"row-2": {"Notes": "only this one"},
	}

	rows := Table(tbl, overlays)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Values["Notes"] != nil {
		t.Errorf("row without overlay should have nil Notes, got %v", rows[0].Values["Notes"])
	}
	if rows[1].Values["Notes"] != "only this one" {
		t.Errorf("overlay not applied: %v", rows[1].Values["Notes"])
	}

	// Merge is pure: the stored rows must be untouched.
	if _, ok := tbl.Rows[1].Values["Notes"]; ok {
		t.Error("merge mutated the stored row")
	}
}

func TestTableMergeNilOverlays(t *testing.T) {
	tbl := testTable()
	tbl.Rows = []model.Row{{ID: "row-1", Values: map[string]any{"Amount": 1.0}}}

	// A missing/corrupt side store degrades to nil overlays; the read
	// path must still succeed.
	rows := Table(tbl, nil)
	if len(rows) != 1 || rows[0].Values["Amount"] != 1.0 {
		t.Fatalf("merge with nil overlays broken: %v", rows)
	}
}
