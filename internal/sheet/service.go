package sheet

import "context"

// Service is the transport to the external spreadsheet backend.
//
// The adapter talks to the remote only through this interface, so the
// workbook implementation can be swapped for a cloud spreadsheet API
// client without touching adapter or orchestrator logic.
//
// Row addressing: data rows are 0-based and exclude the header row,
// except DeleteRow which takes the remote's native 1-based row number
// (header included) as dictated by its addressing scheme.
type Service interface {
	// Create provisions a new spreadsheet whose first row is the given
	// header and returns its external id.
	Create(ctx context.Context, title string, headers []string) (string, error)

	// Header returns the remote's header row. An error here means the
	// remote is unreachable or the id does not resolve.
	Header(ctx context.Context, externalID string) ([]string, error)

	// Rows returns all data rows below the header, as raw cell strings
	// aligned to the header.
	Rows(ctx context.Context, externalID string) ([][]string, error)

	// RowCount returns the number of data rows (header excluded).
	RowCount(ctx context.Context, externalID string) (int, error)

	// SetHeader rewrites the header row.
	SetHeader(ctx context.Context, externalID string, headers []string) error

	// UpdateRow replaces the data row at the given 0-based index with
	// cells aligned to the header.
	UpdateRow(ctx context.Context, externalID string, index int, cells []string) error

	// AppendRow adds a data row after the current last one.
	AppendRow(ctx context.Context, externalID string, cells []string) error

	// DeleteRow removes the remote row with the given 1-based row
	// number, header offset included (data row i is row number i+2).
	DeleteRow(ctx context.Context, externalID string, rowNumber int) error
}
