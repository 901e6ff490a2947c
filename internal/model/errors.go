package model

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by store and sync operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, model.ErrNotFound) {
//	    // Table or row absent, or not owned by the caller
//	}
var (
	// ErrNotFound is returned when a table or row does not exist, or
	// exists but is owned by a different user. Ownership failures are
	// deliberately indistinguishable from absence to avoid leaking
	// which table IDs exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input is malformed (empty column
	// names, duplicate columns, unknown column types, and so on).
	ErrValidation = errors.New("validation failed")

	// ErrAdapterUnreachable is returned when the spreadsheet backend
	// cannot be reached or refuses the operation. It never implies any
	// local state was modified.
	ErrAdapterUnreachable = errors.New("spreadsheet backend unreachable")

	// ErrStorageCorruption is returned when the side-store document is
	// unreadable or contains invalid JSON. Read paths degrade to an
	// empty overlay rather than surfacing this to callers.
	ErrStorageCorruption = errors.New("side store document corrupt")
)

// MissingColumnsError is returned by a pull when the remote header row
// lacks every sheet-bound column of the local table.
type MissingColumnsError struct {
	// Columns lists the sheet-bound column names absent from the
	// remote header, in table column order.
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("remote header missing columns: %s", strings.Join(e.Columns, ", "))
}

// RowIndexOutOfBoundsError is returned by a push when the target row
// index is at or beyond the remote's current data row count.
type RowIndexOutOfBoundsError struct {
	Index    int
	RowCount int
}

func (e *RowIndexOutOfBoundsError) Error() string {
	return fmt.Sprintf("row index %d out of bounds (remote has %d rows)", e.Index, e.RowCount)
}
