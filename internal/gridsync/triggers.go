package gridsync

import (
	"context"
	"fmt"
	"time"

	"github.com/griddash/griddash/internal/merge"
	"github.com/griddash/griddash/internal/model"
	"github.com/griddash/griddash/internal/sheet"
)

// RowResult is the response shape for row mutations: the affected
// merged row, the table with its full merged row view, and an optional
// non-fatal warning when the paired remote mutation failed.
type RowResult struct {
	Row     model.Row    `json:"row"`
	Table   *model.Table `json:"table"`
	Rows    []model.Row  `json:"rows"`
	Warning string       `json:"warning,omitempty"`
}

// CreateOptions controls spreadsheet linkage at table creation.
type CreateOptions struct {
	// SpreadsheetURL links an existing remote spreadsheet by sharing
	// URL. Reachability is validated before any local write.
	SpreadsheetURL string

	// CreateRemote provisions a fresh remote spreadsheet after the
	// local table is created. Remote failure does not roll the local
	// table back.
	CreateRemote bool
}

// CreateTable creates a table for the owner, optionally linked to a
// spreadsheet. Returns the table and a warning if a best-effort remote
// step failed.
func (o *Orchestrator) CreateTable(ctx context.Context, ownerID, name string, columns []model.Column, opts CreateOptions) (*model.Table, string, error) {
	t := &model.Table{
		ID:      model.NewTableID(),
		OwnerID: ownerID,
		Name:    name,
		Columns: columns,
	}
	if err := t.Validate(); err != nil {
		return nil, "", err
	}

	if opts.SpreadsheetURL != "" {
		externalID := sheet.ExtractExternalID(opts.SpreadsheetURL)
		if externalID == "" {
			return nil, "", fmt.Errorf("%w: malformed spreadsheet URL %q", model.ErrValidation, opts.SpreadsheetURL)
		}
		rctx, cancel := context.WithTimeout(ctx, o.config.RemoteTimeout)
		err := o.adapter.CheckReachable(rctx, externalID)
		cancel()
		if err != nil {
			// Reachability must succeed before any local write.
			return nil, "", err
		}
		t.Spreadsheet = &model.SpreadsheetRef{
			ExternalID:  externalID,
			ExternalURL: opts.SpreadsheetURL,
		}
	}

	if err := o.store.CreateTableContext(ctx, t); err != nil {
		return nil, "", err
	}

	var warning string
	if opts.CreateRemote && t.Spreadsheet == nil {
		warning = o.provisionRemote(ctx, t)
	}

	if t.Spreadsheet != nil && opts.SpreadsheetURL != "" {
		// Initial pull; failure is recorded, not fatal to the create.
		if _, err := o.syncLinked(ctx, t); err != nil {
			o.recordSyncFailure(ctx, t.ID, err)
			warning = err.Error()
		}
	}

	return o.reload(ctx, ownerID, t.ID, warning)
}

// provisionRemote creates a remote spreadsheet for a freshly created
// table. Best-effort: failure is returned as a warning string.
func (o *Orchestrator) provisionRemote(ctx context.Context, t *model.Table) string {
	rctx, cancel := context.WithTimeout(ctx, o.config.RemoteTimeout)
	defer cancel()

	externalID, err := o.adapter.CreateRemote(rctx, t)
	if err != nil {
		o.recordSyncFailure(ctx, t.ID, err)
		return err.Error()
	}

	ref := &model.SpreadsheetRef{ExternalID: externalID}
	if ws, ok := o.adapter.Service().(*sheet.WorkbookService); ok {
		ref.ExternalURL = ws.ShareURL(externalID)
	}
	if err := o.store.SetSpreadsheetRef(ctx, t.OwnerID, t.ID, ref); err != nil {
		return err.Error()
	}
	t.Spreadsheet = ref
	return ""
}

// LinkSpreadsheet points an existing table at a spreadsheet sharing URL
// and runs an initial sync. Reachability is validated before the link
// is written; a failing initial sync leaves the link in place with the
// failure recorded on the table and returned as a warning.
func (o *Orchestrator) LinkSpreadsheet(ctx context.Context, ownerID, tableID, url string) (*model.Table, string, error) {
	externalID := sheet.ExtractExternalID(url)
	if externalID == "" {
		return nil, "", fmt.Errorf("%w: malformed spreadsheet URL %q", model.ErrValidation, url)
	}

	t, err := o.store.GetTableContext(ctx, ownerID, tableID)
	if err != nil {
		return nil, "", err
	}

	rctx, cancel := context.WithTimeout(ctx, o.config.RemoteTimeout)
	err = o.adapter.CheckReachable(rctx, externalID)
	cancel()
	if err != nil {
		return nil, "", err
	}

	ref := &model.SpreadsheetRef{ExternalID: externalID, ExternalURL: url}
	if err := o.store.SetSpreadsheetRef(ctx, ownerID, tableID, ref); err != nil {
		return nil, "", err
	}
	t.Spreadsheet = ref

	var warning string
	if _, err := o.syncLinked(ctx, t); err != nil {
		o.recordSyncFailure(ctx, t.ID, err)
		warning = err.Error()
	}

	return o.reload(ctx, ownerID, tableID, warning)
}

// AddRow appends a row from a mutation payload. Sheet-bound fields go
// to the row store and, best-effort, to the remote; dashboard-only
// fields go to the side store.
func (o *Orchestrator) AddRow(ctx context.Context, ownerID, tableID string, input model.RowInput) (*RowResult, error) {
	t, err := o.store.GetTableContext(ctx, ownerID, tableID)
	if err != nil {
		return nil, err
	}

	sheetBound, dashboard := input.Split(t)
	row := model.Row{ID: model.NewRowID(), Values: sheetBound}

	t, err = o.store.AppendRow(ctx, ownerID, tableID, row)
	if err != nil {
		return nil, err
	}
	if len(dashboard) > 0 {
		if err := o.side.Save(tableID, row.ID, dashboard); err != nil {
			return nil, err
		}
	}

	var warning string
	if t.Spreadsheet != nil {
		warning = o.bestEffort(ctx, t.ID, func(rctx context.Context) error {
			return o.adapter.PushRowAppend(rctx, t, sheetBound)
		})
	}

	return o.rowResult(t, row.ID, warning), nil
}

// UpdateRow replaces a row from a mutation payload. The stored
// sheet-bound projection is replaced atomically by row id; the last
// write commits when two users race on the same row.
func (o *Orchestrator) UpdateRow(ctx context.Context, ownerID, tableID, rowID string, input model.RowInput) (*RowResult, error) {
	t, err := o.store.GetTableContext(ctx, ownerID, tableID)
	if err != nil {
		return nil, err
	}

	sheetBound, dashboard := input.Split(t)

	t, err = o.store.UpdateRow(ctx, ownerID, tableID, rowID, sheetBound)
	if err != nil {
		return nil, err
	}
	if len(dashboard) > 0 {
		if err := o.side.Save(tableID, rowID, dashboard); err != nil {
			return nil, err
		}
	}

	var warning string
	if t.Spreadsheet != nil {
		rowIndex := t.RowIndex(rowID)
		warning = o.bestEffort(ctx, t.ID, func(rctx context.Context) error {
			return o.adapter.PushRowUpsert(rctx, t, rowIndex, sheetBound)
		})
	}

	return o.rowResult(t, rowID, warning), nil
}

// DeleteRow removes a row from both stores in the same logical
// operation - the dashboard projection never outlives the row - and,
// if a spreadsheet is linked, from the remote. No remote call is
// attempted for local-only tables.
func (o *Orchestrator) DeleteRow(ctx context.Context, ownerID, tableID, rowID string) (*RowResult, error) {
	t, err := o.store.GetTableContext(ctx, ownerID, tableID)
	if err != nil {
		return nil, err
	}
	rowIndex := t.RowIndex(rowID)
	if rowIndex < 0 {
		return nil, model.ErrNotFound
	}

	t, err = o.store.DeleteRow(ctx, ownerID, tableID, rowID)
	if err != nil {
		return nil, err
	}
	if err := o.side.Delete(tableID, rowID); err != nil {
		return nil, err
	}

	var warning string
	if t.Spreadsheet != nil {
		// Data row i is remote row i+2: 1-based plus the header row.
		remoteRowNumber := rowIndex + 2
		warning = o.bestEffort(ctx, t.ID, func(rctx context.Context) error {
			return o.adapter.PushRowDelete(rctx, t, remoteRowNumber)
		})
	}

	merged := merge.Table(t, o.side.GetAll(t.ID))
	o.notifier.TableUpdated(t.ID, merged)
	view := *t
	view.Rows = merged
	return &RowResult{Table: &view, Rows: merged, Warning: warning}, nil
}

// AddColumn appends a column to the table schema and, for sheet-bound
// columns on linked tables, pushes the updated header best-effort.
func (o *Orchestrator) AddColumn(ctx context.Context, ownerID, tableID string, col model.Column) (*model.Table, string, error) {
	t, err := o.store.AddColumn(ctx, ownerID, tableID, col)
	if err != nil {
		return nil, "", err
	}

	var warning string
	if t.Spreadsheet != nil && !col.DashboardOnly {
		warning = o.bestEffort(ctx, t.ID, func(rctx context.Context) error {
			return o.adapter.PushHeader(rctx, t)
		})
	}

	return o.reload(ctx, ownerID, tableID, warning)
}

// Merged returns the table with its fully merged row view. The read
// path never fails due to side-store problems; a corrupt overlay
// degrades to the sheet-bound projection alone.
func (o *Orchestrator) Merged(ctx context.Context, ownerID, tableID string) (*model.Table, error) {
	t, err := o.store.GetTableContext(ctx, ownerID, tableID)
	if err != nil {
		return nil, err
	}
	view := *t
	view.Rows = merge.Table(t, o.side.GetAll(tableID))
	return &view, nil
}

// ListTables returns every table of the owner with merged rows.
func (o *Orchestrator) ListTables(ctx context.Context, ownerID string) ([]*model.Table, error) {
	tables, err := o.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	views := make([]*model.Table, 0, len(tables))
	for _, t := range tables {
		view := *t
		view.Rows = merge.Table(t, o.side.GetAll(t.ID))
		views = append(views, &view)
	}
	return views, nil
}

// bestEffort runs a remote mutation under the configured timeout.
// Failures are swallowed: logged, recorded as the table's sync error,
// and returned as a warning string for the response. The next
// successful sweep reconciles the remote.
func (o *Orchestrator) bestEffort(ctx context.Context, tableID string, fn func(context.Context) error) string {
	rctx, cancel := context.WithTimeout(ctx, o.config.RemoteTimeout)
	defer cancel()

	if err := fn(rctx); err != nil {
		o.recordSyncFailure(ctx, tableID, err)
		return err.Error()
	}
	return ""
}

// rowResult assembles the mutation response and notifies subscribers.
func (o *Orchestrator) rowResult(t *model.Table, rowID, warning string) *RowResult {
	merged := merge.Table(t, o.side.GetAll(t.ID))
	o.notifier.TableUpdated(t.ID, merged)

	res := &RowResult{Rows: merged, Warning: warning}
	for _, r := range merged {
		if r.ID == rowID {
			res.Row = r
			break
		}
	}
	view := *t
	view.Rows = merged
	res.Table = &view
	return res
}

// reload fetches the table fresh and attaches merged rows plus the
// warning produced by a preceding best-effort step.
func (o *Orchestrator) reload(ctx context.Context, ownerID, tableID, warning string) (*model.Table, string, error) {
	view, err := o.Merged(ctx, ownerID, tableID)
	if err != nil {
		return nil, warning, err
	}
	return view, warning, nil
}

// WaitUntilIdle blocks until no sweep is in flight or the timeout
// elapses. Intended for graceful shutdown.
func (o *Orchestrator) WaitUntilIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if o.sweepState.tryAcquire() {
			o.sweepState.release()
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
