// Package store provides the primary row store for griddash tables.
//
// The store is an embedded SQLite database (WAL mode for concurrent
// reads) holding each table's schema and the sheet-bound projection of
// its rows. Dashboard-only values live in the side store and are never
// written here.
//
// Every operation that touches user data takes an explicit ownerID.
// Cross-owner access fails with model.ErrNotFound, never a Forbidden
// variant, so callers cannot probe for the existence of other users'
// tables.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/griddash/griddash/internal/model"
)

// Store wraps the SQLite connection with table/row persistence.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent
// reads. If it doesn't exist it is created; call InitSchema afterwards.
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS tables (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		columns TEXT NOT NULL,  -- JSON array of column definitions
		spreadsheet_id TEXT,
		spreadsheet_url TEXT,
		last_synced_at TEXT,
		last_sync_error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rows (
		table_id TEXT NOT NULL,
		row_id TEXT NOT NULL,
		position INTEGER NOT NULL,  -- correlates with remote data row order
		cells TEXT NOT NULL,        -- JSON object, sheet-bound projection only
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (table_id, row_id),
		FOREIGN KEY (table_id) REFERENCES tables(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tables_owner ON tables(owner_id);
	CREATE INDEX IF NOT EXISTS idx_tables_linked ON tables(spreadsheet_id)
	    WHERE spreadsheet_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_rows_position ON rows(table_id, position);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// CreateTable inserts a new table with its columns and initial rows.
func (s *Store) CreateTable(t *model.Table) error {
	return s.CreateTableContext(context.Background(), t)
}

// CreateTableContext inserts a new table with context support.
func (s *Store) CreateTableContext(ctx context.Context, t *model.Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", model.ErrValidation)
	}

	columnsJSON, err := json.Marshal(t.Columns)
	if err != nil {
		return fmt.Errorf("failed to marshal columns: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tables (
			id, owner_id, name, columns,
			spreadsheet_id, spreadsheet_url,
			last_synced_at, last_sync_error,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.OwnerID,
		t.Name,
		string(columnsJSON),
		refID(t.Spreadsheet),
		refURL(t.Spreadsheet),
		timeToNullString(t.LastSyncedAt),
		nullIfEmpty(t.LastSyncError),
		t.CreatedAt.Format(time.RFC3339),
		t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert table: %w", err)
	}

	for i, row := range t.Rows {
		if err := insertRow(ctx, tx, t.ID, row, i, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTable retrieves a table with its rows ordered by position.
// Returns model.ErrNotFound if the table is absent or owned by another
// user.
func (s *Store) GetTable(ownerID, tableID string) (*model.Table, error) {
	return s.GetTableContext(context.Background(), ownerID, tableID)
}

// GetTableContext retrieves a table with context support.
func (s *Store) GetTableContext(ctx context.Context, ownerID, tableID string) (*model.Table, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, owner_id, name, columns,
		       spreadsheet_id, spreadsheet_url,
		       last_synced_at, last_sync_error,
		       created_at, updated_at
		FROM tables
		WHERE id = ? AND owner_id = ?`,
		tableID, ownerID)

	t, err := scanTable(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if t.Rows, err = s.loadRows(ctx, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

// ListByOwner retrieves all tables owned by a user, rows included,
// ordered by creation time.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*model.Table, error) {
	return s.listTables(ctx, `
		SELECT id, owner_id, name, columns,
		       spreadsheet_id, spreadsheet_url,
		       last_synced_at, last_sync_error,
		       created_at, updated_at
		FROM tables
		WHERE owner_id = ?
		ORDER BY created_at ASC`, ownerID)
}

// ListLinked retrieves every table with a non-null spreadsheet ref,
// across all owners. Used by the periodic sweep, which runs as the
// system rather than on behalf of one user.
func (s *Store) ListLinked(ctx context.Context) ([]*model.Table, error) {
	return s.listTables(ctx, `
		SELECT id, owner_id, name, columns,
		       spreadsheet_id, spreadsheet_url,
		       last_synced_at, last_sync_error,
		       created_at, updated_at
		FROM tables
		WHERE spreadsheet_id IS NOT NULL
		ORDER BY created_at ASC`)
}

// AppendRow adds a row at the end of the table. The supplied row values
// must already be restricted to the sheet-bound projection.
// Returns the updated table.
func (s *Store) AppendRow(ctx context.Context, ownerID, tableID string, row model.Row) (*model.Table, error) {
	if err := s.requireTable(ctx, ownerID, tableID); err != nil {
		return nil, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var position int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM rows WHERE table_id = ?`,
		tableID).Scan(&position)
	if err != nil {
		return nil, fmt.Errorf("failed to compute row position: %w", err)
	}

	now := time.Now().UTC()
	if err := insertRow(ctx, tx, tableID, row, position, now); err != nil {
		return nil, err
	}
	if err := touchTable(ctx, tx, tableID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s.GetTableContext(ctx, ownerID, tableID)
}

// UpdateRow replaces the stored sheet-bound projection of one row.
//
// This is an atomic replace-by-id: concurrent writers to the same row
// are not serialized, and the last write commits. Callers must strip
// dashboard-only fields before calling.
func (s *Store) UpdateRow(ctx context.Context, ownerID, tableID, rowID string, cells map[string]any) (*model.Table, error) {
	if err := s.requireTable(ctx, ownerID, tableID); err != nil {
		return nil, err
	}

	cellsJSON, err := json.Marshal(cells)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row values: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.conn.ExecContext(ctx,
		`UPDATE rows SET cells = ?, updated_at = ? WHERE table_id = ? AND row_id = ?`,
		string(cellsJSON), now, tableID, rowID)
	if err != nil {
		return nil, fmt.Errorf("failed to update row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, model.ErrNotFound
	}

	return s.GetTableContext(ctx, ownerID, tableID)
}

// DeleteRow removes a row and shifts the positions of the rows after it
// so positional correlation with the remote stays dense.
func (s *Store) DeleteRow(ctx context.Context, ownerID, tableID, rowID string) (*model.Table, error) {
	if err := s.requireTable(ctx, ownerID, tableID); err != nil {
		return nil, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var position int
	err = tx.QueryRowContext(ctx,
		`SELECT position FROM rows WHERE table_id = ? AND row_id = ?`,
		tableID, rowID).Scan(&position)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to locate row: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rows WHERE table_id = ? AND row_id = ?`, tableID, rowID); err != nil {
		return nil, fmt.Errorf("failed to delete row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE rows SET position = position - 1 WHERE table_id = ? AND position > ?`,
		tableID, position); err != nil {
		return nil, fmt.Errorf("failed to compact row positions: %w", err)
	}
	if err := touchTable(ctx, tx, tableID, time.Now().UTC()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s.GetTableContext(ctx, ownerID, tableID)
}

// ReplaceRows atomically replaces the table's entire row array.
//
// Used by the sync pull path: either every row is replaced (identity
// correlation included) or, on error, nothing is.
func (s *Store) ReplaceRows(ctx context.Context, tableID string, rows []model.Row) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rows WHERE table_id = ?`, tableID); err != nil {
		return fmt.Errorf("failed to clear rows: %w", err)
	}

	now := time.Now().UTC()
	for i, row := range rows {
		if err := insertRow(ctx, tx, tableID, row, i, now); err != nil {
			return err
		}
	}
	if err := touchTable(ctx, tx, tableID, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AddColumn appends a column to the table schema. The column name must
// not collide with an existing one.
func (s *Store) AddColumn(ctx context.Context, ownerID, tableID string, col model.Column) (*model.Table, error) {
	if err := col.Validate(); err != nil {
		return nil, err
	}

	t, err := s.GetTableContext(ctx, ownerID, tableID)
	if err != nil {
		return nil, err
	}
	if _, exists := t.Column(col.Name); exists {
		return nil, fmt.Errorf("%w: duplicate column %q", model.ErrValidation, col.Name)
	}

	t.Columns = append(t.Columns, col)
	if err := s.UpdateColumns(ctx, tableID, t.Columns); err != nil {
		return nil, err
	}
	return s.GetTableContext(ctx, ownerID, tableID)
}

// UpdateColumns replaces the table's column definitions wholesale.
//
// Used when the sync path degrades columns to dashboard-only after a
// remote header mismatch; names and order must be preserved by callers.
func (s *Store) UpdateColumns(ctx context.Context, tableID string, cols []model.Column) error {
	columnsJSON, err := json.Marshal(cols)
	if err != nil {
		return fmt.Errorf("failed to marshal columns: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.conn.ExecContext(ctx,
		`UPDATE tables SET columns = ?, updated_at = ? WHERE id = ?`,
		string(columnsJSON), now, tableID)
	if err != nil {
		return fmt.Errorf("failed to update columns: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// SetSpreadsheetRef links or unlinks (nil ref) the table's spreadsheet.
func (s *Store) SetSpreadsheetRef(ctx context.Context, ownerID, tableID string, ref *model.SpreadsheetRef) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.conn.ExecContext(ctx, `
		UPDATE tables
		SET spreadsheet_id = ?, spreadsheet_url = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		refID(ref), refURL(ref), now, tableID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to set spreadsheet ref: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// SetSynced stamps a successful sync: last_synced_at is updated and any
// previous sync error is cleared.
func (s *Store) SetSynced(ctx context.Context, tableID string, at time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE tables SET last_synced_at = ?, last_sync_error = NULL WHERE id = ?`,
		at.UTC().Format(time.RFC3339), tableID)
	if err != nil {
		return fmt.Errorf("failed to stamp sync time: %w", err)
	}
	return nil
}

// SetSyncError refreshes the table's last sync error without touching
// last_synced_at.
func (s *Store) SetSyncError(ctx context.Context, tableID, msg string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE tables SET last_sync_error = ? WHERE id = ?`, msg, tableID)
	if err != nil {
		return fmt.Errorf("failed to record sync error: %w", err)
	}
	return nil
}

// DeleteTable removes a table; rows cascade.
func (s *Store) DeleteTable(ctx context.Context, ownerID, tableID string) error {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM tables WHERE id = ? AND owner_id = ?`, tableID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete table: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// requireTable verifies existence and ownership without loading rows.
func (s *Store) requireTable(ctx context.Context, ownerID, tableID string) error {
	var one int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM tables WHERE id = ? AND owner_id = ?`, tableID, ownerID).Scan(&one)
	if err == sql.ErrNoRows {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check table: %w", err)
	}
	return nil
}

func (s *Store) listTables(ctx context.Context, query string, args ...any) ([]*model.Table, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []*model.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	for _, t := range tables {
		if t.Rows, err = s.loadRows(ctx, t.ID); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

func (s *Store) loadRows(ctx context.Context, tableID string) ([]model.Row, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT row_id, cells FROM rows WHERE table_id = ? ORDER BY position ASC`,
		tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		var r model.Row
		var cellsJSON string
		if err := rows.Scan(&r.ID, &cellsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(cellsJSON), &r.Values); err != nil {
			return nil, fmt.Errorf("failed to unmarshal row values: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// scanner abstracts sql.Row and sql.Rows for scanTable.
type scanner interface {
	Scan(dest ...any) error
}

func scanTable(sc scanner) (*model.Table, error) {
	var t model.Table
	var columnsJSON string
	var sheetID, sheetURL, lastSyncedAt, lastSyncError sql.NullString
	var createdAt, updatedAt string

	err := sc.Scan(
		&t.ID,
		&t.OwnerID,
		&t.Name,
		&columnsJSON,
		&sheetID,
		&sheetURL,
		&lastSyncedAt,
		&lastSyncError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(columnsJSON), &t.Columns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal columns: %w", err)
	}

	if sheetID.Valid {
		t.Spreadsheet = &model.SpreadsheetRef{
			ExternalID:  sheetID.String,
			ExternalURL: sheetURL.String,
		}
	}
	t.LastSyncedAt = nullStringToTime(lastSyncedAt)
	if lastSyncError.Valid {
		t.LastSyncError = lastSyncError.String
	}
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		t.UpdatedAt = ts
	}
	return &t, nil
}

func insertRow(ctx context.Context, tx *sql.Tx, tableID string, row model.Row, position int, now time.Time) error {
	if row.ID == "" {
		return fmt.Errorf("%w: row id is required", model.ErrValidation)
	}
	cellsJSON, err := json.Marshal(row.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal row values: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rows (table_id, row_id, position, cells, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tableID, row.ID, position, string(cellsJSON),
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert row %s: %w", row.ID, err)
	}
	return nil
}

func touchTable(ctx context.Context, tx *sql.Tx, tableID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE tables SET updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339), tableID); err != nil {
		return fmt.Errorf("failed to touch table: %w", err)
	}
	return nil
}

func refID(ref *model.SpreadsheetRef) sql.NullString {
	if ref == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: ref.ExternalID, Valid: true}
}

func refURL(ref *model.SpreadsheetRef) sql.NullString {
	if ref == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: ref.ExternalURL, Valid: true}
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
