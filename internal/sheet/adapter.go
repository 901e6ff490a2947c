// Package sheet translates between the external spreadsheet's flat
// string-cell grid and griddash's typed row model.
//
// The adapter owns header validation, type coercion in both directions,
// and positional row correlation. It never writes local state: pull
// results are returned to the orchestrator, which decides whether to
// commit them.
package sheet

import (
	"context"
	"fmt"
	"log"
	"os"
	"regexp"

	"github.com/griddash/griddash/internal/model"
)

// externalIDPattern matches the path segment between /d/ and the next
// slash of a spreadsheet sharing URL.
var externalIDPattern = regexp.MustCompile(`/d/([^/]+)`)

// ExtractExternalID parses a sharing URL and returns the external
// spreadsheet id, or "" if the URL doesn't match the expected shape.
func ExtractExternalID(url string) string {
	m := externalIDPattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// CorrelateRow preserves row identity across pulls by matching pulled
// rows to stored rows positionally. A pulled row at an index with no
// stored counterpart gets a freshly minted id.
//
// Positional correlation is fragile by nature (a remote row inserted in
// the middle shifts every identity after it); it is kept for
// compatibility with the remote's addressing and isolated here so a
// stable-key strategy can replace it in one place.
func CorrelateRow(index int, existing []model.Row) string {
	if index >= 0 && index < len(existing) {
		return existing[index].ID
	}
	return model.NewRowID()
}

// PullResult is the outcome of a successful pull.
type PullResult struct {
	// Rows are the typed rows read from the remote, identity-correlated
	// with the table's stored rows.
	Rows []model.Row

	// Degraded lists sheet-bound columns missing from the remote header
	// that should be downgraded to dashboard-only rather than failing
	// the pull. Empty when the header matches the schema.
	Degraded []string
}

// Adapter converts between the remote grid and the typed row model.
type Adapter struct {
	svc    Service
	logger *log.Logger
}

// New creates an adapter over the given spreadsheet backend.
// If logger is nil, a default logger writing to stderr is used.
func New(svc Service, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(os.Stderr, "[sheet] ", log.LstdFlags)
	}
	return &Adapter{svc: svc, logger: logger}
}

// Service returns the underlying backend.
func (a *Adapter) Service() Service {
	return a.svc
}

// CreateRemote provisions a new remote spreadsheet whose header row is
// the ordered names of the table's sheet-bound columns.
func (a *Adapter) CreateRemote(ctx context.Context, t *model.Table) (string, error) {
	headers := make([]string, 0, len(t.Columns))
	for _, col := range t.SheetColumns() {
		headers = append(headers, col.Name)
	}
	externalID, err := a.svc.Create(ctx, t.Name, headers)
	if err != nil {
		return "", fmt.Errorf("failed to create remote spreadsheet: %w", err)
	}
	a.logger.Printf("Created remote spreadsheet %s for table %s", externalID, t.ID)
	return externalID, nil
}

// CheckReachable verifies the remote resolves and responds. It is the
// validation step that must succeed before any local link state is
// written.
func (a *Adapter) CheckReachable(ctx context.Context, externalID string) error {
	if _, err := a.svc.Header(ctx, externalID); err != nil {
		return err
	}
	return nil
}

// Pull loads the remote grid and converts it to typed rows.
//
// The remote header must contain the table's sheet-bound column names.
// If every sheet-bound column is absent the pull fails with
// MissingColumnsError; if only some are absent those columns are
// reported in Degraded so the caller can downgrade them to
// dashboard-only instead of failing the whole operation.
func (a *Adapter) Pull(ctx context.Context, t *model.Table) (*PullResult, error) {
	headers, err := a.svc.Header(ctx, t.Spreadsheet.ExternalID)
	if err != nil {
		return nil, err
	}

	headerIndex := make(map[string]int, len(headers))
	for i, name := range headers {
		if _, seen := headerIndex[name]; !seen {
			headerIndex[name] = i
		}
	}

	sheetCols := t.SheetColumns()
	var missing []string
	for _, col := range sheetCols {
		if _, ok := headerIndex[col.Name]; !ok {
			missing = append(missing, col.Name)
		}
	}
	if len(missing) > 0 && len(missing) == len(sheetCols) {
		return nil, &model.MissingColumnsError{Columns: missing}
	}

	grid, err := a.svc.Rows(ctx, t.Spreadsheet.ExternalID)
	if err != nil {
		return nil, err
	}

	rows := make([]model.Row, 0, len(grid))
	for i, cells := range grid {
		values := make(map[string]any, len(sheetCols))
		for _, col := range sheetCols {
			idx, ok := headerIndex[col.Name]
			if !ok {
				continue // degraded column, values stay dashboard-side
			}
			raw := ""
			if idx < len(cells) {
				raw = cells[idx]
			}
			values[col.Name] = CoerceCell(raw, col.Type)
		}
		rows = append(rows, model.Row{ID: CorrelateRow(i, t.Rows), Values: values})
	}

	return &PullResult{Rows: rows, Degraded: missing}, nil
}

// PushRowUpsert formats the sheet-bound fields and writes them into the
// remote data row at rowIndex (0-based, correlated to the row store's
// row order).
//
// Fails with RowIndexOutOfBoundsError when rowIndex is at or beyond the
// remote's data row count; the remote is left unmodified. New rows go
// through PushRowAppend.
func (a *Adapter) PushRowUpsert(ctx context.Context, t *model.Table, rowIndex int, fields map[string]any) error {
	count, err := a.svc.RowCount(ctx, t.Spreadsheet.ExternalID)
	if err != nil {
		return err
	}
	if rowIndex < 0 || rowIndex >= count {
		return &model.RowIndexOutOfBoundsError{Index: rowIndex, RowCount: count}
	}

	cells, err := a.formatRow(ctx, t, fields)
	if err != nil {
		return err
	}
	return a.svc.UpdateRow(ctx, t.Spreadsheet.ExternalID, rowIndex, cells)
}

// PushRowAppend formats the sheet-bound fields and appends them as a
// new remote data row.
func (a *Adapter) PushRowAppend(ctx context.Context, t *model.Table, fields map[string]any) error {
	cells, err := a.formatRow(ctx, t, fields)
	if err != nil {
		return err
	}
	return a.svc.AppendRow(ctx, t.Spreadsheet.ExternalID, cells)
}

// PushRowDelete removes one remote row. remoteRowNumber is the remote's
// native 1-based row number including the header offset: the data row
// at store position i is remote row i+2.
func (a *Adapter) PushRowDelete(ctx context.Context, t *model.Table, remoteRowNumber int) error {
	return a.svc.DeleteRow(ctx, t.Spreadsheet.ExternalID, remoteRowNumber)
}

// PushHeader rewrites the remote header row from the table's current
// sheet-bound columns. Used after a column is added locally.
func (a *Adapter) PushHeader(ctx context.Context, t *model.Table) error {
	headers := make([]string, 0, len(t.Columns))
	for _, col := range t.SheetColumns() {
		headers = append(headers, col.Name)
	}
	return a.svc.SetHeader(ctx, t.Spreadsheet.ExternalID, headers)
}

// formatRow produces cells aligned to the remote header, formatting
// each sheet-bound field per its column type. Header slots that don't
// correspond to a known sheet-bound column are left empty.
func (a *Adapter) formatRow(ctx context.Context, t *model.Table, fields map[string]any) ([]string, error) {
	headers, err := a.svc.Header(ctx, t.Spreadsheet.ExternalID)
	if err != nil {
		return nil, err
	}

	cells := make([]string, len(headers))
	for i, name := range headers {
		col, ok := t.Column(name)
		if !ok || col.DashboardOnly {
			continue
		}
		cells[i] = FormatCell(fields[name], col.Type)
	}
	return cells, nil
}
