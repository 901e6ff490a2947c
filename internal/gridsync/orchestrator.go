package gridsync

import (
	"context"
	"fmt"
	"log"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/griddash/griddash/internal/merge"
	"github.com/griddash/griddash/internal/model"
	"github.com/griddash/griddash/internal/sheet"
	"github.com/griddash/griddash/internal/sidestore"
	"github.com/griddash/griddash/internal/store"
)

// Notifier receives change notifications for subscribers of a table.
// The hub package provides the websocket implementation.
type Notifier interface {
	// TableUpdated delivers the table's full merged row view after an
	// accepted change.
	TableUpdated(tableID string, rows []model.Row)

	// SyncError reports a failed sweep or explicit sync for a table.
	SyncError(tableID string, err error)
}

// NopNotifier discards all notifications. Useful for CLI one-shot
// commands and tests.
type NopNotifier struct{}

func (NopNotifier) TableUpdated(string, []model.Row) {}
func (NopNotifier) SyncError(string, error)          {}

// Config holds orchestrator configuration.
type Config struct {
	// SweepInterval is how often the periodic sweep runs. Seconds in
	// development, minutes in production.
	SweepInterval time.Duration

	// RemoteTimeout bounds every call to the spreadsheet backend. On
	// timeout the call is treated as an adapter failure; a sweep never
	// hangs indefinitely on one table.
	RemoteTimeout time.Duration

	// Logger for orchestrator activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SweepInterval: 30 * time.Second,
		RemoteTimeout: 10 * time.Second,
		Logger:        log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// inflight is the sweep's process-wide mutual exclusion state. It is an
// explicit per-orchestrator object rather than a package global so
// tests can run independent orchestrators side by side.
type inflight struct {
	mu   sync.Mutex
	busy bool
}

// tryAcquire reports whether the caller now holds the in-flight slot.
func (f *inflight) tryAcquire() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return false
	}
	f.busy = true
	return true
}

func (f *inflight) release() {
	f.mu.Lock()
	f.busy = false
	f.mu.Unlock()
}

// Orchestrator coordinates the row store, side store, spreadsheet
// adapter and notifier.
type Orchestrator struct {
	store    *store.Store
	side     *sidestore.Store
	adapter  *sheet.Adapter
	notifier Notifier
	config   *Config

	sweepState inflight

	// tableLocks serializes syncs per table so the sweep and an
	// explicit sync cannot pull the same table concurrently.
	tableLocksMu sync.Mutex
	tableLocks   map[string]*sync.Mutex
}

// New creates an orchestrator. notifier may be nil, in which case
// notifications are discarded.
func New(st *store.Store, side *sidestore.Store, adapter *sheet.Adapter, notifier Notifier, config *Config) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		store:      st,
		side:       side,
		adapter:    adapter,
		notifier:   notifier,
		config:     config,
		tableLocks: make(map[string]*sync.Mutex),
	}
}

// Run executes the periodic sweep until ctx is cancelled. One sweep
// runs immediately at startup.
func (o *Orchestrator) Run(ctx context.Context) {
	o.config.Logger.Printf("Sweep loop starting (interval %s)", o.config.SweepInterval)

	o.Sweep(ctx)

	ticker := time.NewTicker(o.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.config.Logger.Println("Sweep loop stopped")
			return
		case <-ticker.C:
			o.Sweep(ctx)
		}
	}
}

// Sweep runs one pull-and-reconcile pass over every linked table.
//
// If a sweep is already in flight the tick is skipped entirely and
// Sweep returns false. Per-table failures are recorded on the table,
// reported through the notifier, and do not abort the sweep for the
// remaining tables.
func (o *Orchestrator) Sweep(ctx context.Context) bool {
	if !o.sweepState.tryAcquire() {
		o.config.Logger.Println("Sweep already in flight, skipping tick")
		return false
	}
	defer o.sweepState.release()

	tables, err := o.store.ListLinked(ctx)
	if err != nil {
		o.config.Logger.Printf("Sweep aborted, cannot list linked tables: %v", err)
		return true
	}

	var changed, failed int
	for _, t := range tables {
		didChange, err := o.syncLinked(ctx, t)
		if err != nil {
			failed++
			o.recordSyncFailure(ctx, t.ID, err)
			continue
		}
		if didChange {
			changed++
		}
	}

	if len(tables) > 0 || failed > 0 {
		o.config.Logger.Printf("Sweep complete: tables=%d changed=%d failed=%d",
			len(tables), changed, failed)
	}
	return true
}

// SyncTable runs an explicit pull for one table on behalf of its owner.
// Unlike the sweep, the failure is also returned to the caller.
func (o *Orchestrator) SyncTable(ctx context.Context, ownerID, tableID string) error {
	t, err := o.store.GetTableContext(ctx, ownerID, tableID)
	if err != nil {
		return err
	}
	if t.Spreadsheet == nil {
		return fmt.Errorf("%w: table %s has no linked spreadsheet", model.ErrValidation, tableID)
	}

	if _, err := o.syncLinked(ctx, t); err != nil {
		o.recordSyncFailure(ctx, t.ID, err)
		return err
	}
	return nil
}

// syncLinked pulls one linked table and reconciles the row store.
// Returns whether the stored projection changed.
func (o *Orchestrator) syncLinked(ctx context.Context, t *model.Table) (bool, error) {
	lock := o.lockFor(t.ID)
	lock.Lock()
	defer lock.Unlock()

	rctx, cancel := context.WithTimeout(ctx, o.config.RemoteTimeout)
	defer cancel()

	res, err := o.adapter.Pull(rctx, t)
	if err != nil {
		return false, err
	}

	if len(res.Degraded) > 0 {
		if err := o.degradeColumns(ctx, t, res.Degraded); err != nil {
			return false, err
		}
	}

	// Remote wins up to its current length; extra local rows beyond the
	// remote's row count are preserved, never deleted by a pull.
	newRows := res.Rows
	if len(t.Rows) > len(newRows) {
		for _, r := range t.Rows[len(newRows):] {
			newRows = append(newRows, r.Clone())
		}
	}

	if rowsEqual(t.Rows, newRows) {
		return false, nil
	}

	if err := o.store.ReplaceRows(ctx, t.ID, newRows); err != nil {
		return false, err
	}
	if err := o.store.SetSynced(ctx, t.ID, time.Now()); err != nil {
		return false, err
	}

	t.Rows = newRows
	o.notifyUpdated(t)
	o.config.Logger.Printf("Synced table %s: %d rows", t.ID, len(newRows))
	return true, nil
}

// degradeColumns downgrades sheet-bound columns that vanished from the
// remote header to dashboard-only, migrating their stored values to the
// side store so no row loses a column value.
func (o *Orchestrator) degradeColumns(ctx context.Context, t *model.Table, names []string) error {
	degraded := make(map[string]bool, len(names))
	for _, name := range names {
		degraded[name] = true
	}

	for _, row := range t.Rows {
		moved := make(map[string]any)
		for name := range degraded {
			if v, ok := row.Values[name]; ok {
				moved[name] = v
			}
		}
		if len(moved) == 0 {
			continue
		}
		if err := o.side.Save(t.ID, row.ID, moved); err != nil {
			return fmt.Errorf("failed to migrate degraded column values: %w", err)
		}
	}

	for i := range t.Columns {
		if degraded[t.Columns[i].Name] {
			t.Columns[i].DashboardOnly = true
		}
	}
	if err := o.store.UpdateColumns(ctx, t.ID, t.Columns); err != nil {
		return err
	}

	o.config.Logger.Printf("Table %s: columns %v no longer in remote header, degraded to dashboard-only",
		t.ID, names)
	return nil
}

// recordSyncFailure refreshes the table's last sync error and notifies
// subscribers. The previous lastSyncedAt stamp is left untouched.
func (o *Orchestrator) recordSyncFailure(ctx context.Context, tableID string, cause error) {
	o.config.Logger.Printf("WARNING: sync failed for table %s: %v", tableID, cause)
	if err := o.store.SetSyncError(ctx, tableID, cause.Error()); err != nil {
		o.config.Logger.Printf("Failed to record sync error for table %s: %v", tableID, err)
	}
	o.notifier.SyncError(tableID, cause)
}

// notifyUpdated emits the table's merged row view to subscribers.
func (o *Orchestrator) notifyUpdated(t *model.Table) {
	o.notifier.TableUpdated(t.ID, merge.Table(t, o.side.GetAll(t.ID)))
}

// lockFor returns the per-table sync mutex, creating it on first use.
func (o *Orchestrator) lockFor(tableID string) *sync.Mutex {
	o.tableLocksMu.Lock()
	defer o.tableLocksMu.Unlock()
	lock, ok := o.tableLocks[tableID]
	if !ok {
		lock = &sync.Mutex{}
		o.tableLocks[tableID] = lock
	}
	return lock
}

// rowsEqual deep-compares two sheet-bound row slices. nil and empty
// slices compare equal so a pull of an empty remote is a no-op against
// a rowless table.
func rowsEqual(a, b []model.Row) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
