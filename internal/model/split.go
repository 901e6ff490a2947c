package model

// RowInput is the mutation payload accepted from the API layer for row
// create and update operations.
//
// Data holds the full logical row keyed by column name. DashboardOnly
// optionally overrides the storage routing per column; when a column is
// absent from the map, its table definition decides.
type RowInput struct {
	Data          map[string]any  `json:"data"`
	DashboardOnly map[string]bool `json:"isDashboardOnly,omitempty"`
}

// Split partitions input values into the sheet-bound projection and
// the dashboard projection for the given table.
//
// Values under names that are not columns of the table are dropped:
// every persisted row key must be a subset of the table's columns.
func (in RowInput) Split(t *Table) (sheetBound, dashboard map[string]any) {
	sheetBound = make(map[string]any)
	dashboard = make(map[string]any)
	for name, value := range in.Data {
		col, ok := t.Column(name)
		if !ok {
			continue
		}
		only := col.DashboardOnly
		if flag, ok := in.DashboardOnly[name]; ok {
			only = flag
		}
		if only {
			dashboard[name] = value
		} else {
			sheetBound[name] = value
		}
	}
	return sheetBound, dashboard
}

// SheetProjection restricts values to the table's sheet-bound columns.
func SheetProjection(t *Table, values map[string]any) map[string]any {
	out := make(map[string]any)
	for _, col := range t.SheetColumns() {
		if v, ok := values[col.Name]; ok {
			out[col.Name] = v
		}
	}
	return out
}
