package sheet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/griddash/griddash/internal/model"
)

// worksheetName is the single worksheet every workbook uses.
const worksheetName = "Sheet1"

// WorkbookService implements Service against xlsx workbooks in a shared
// directory. Each external id maps to one workbook file, which stands
// in for the hosted spreadsheet during development and testing; the
// production deployment substitutes a cloud API client behind the same
// interface.
type WorkbookService struct {
	dir string
}

// NewWorkbookService creates a workbook-backed Service rooted at dir.
func NewWorkbookService(dir string) (*WorkbookService, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workbook directory: %w", err)
	}
	return &WorkbookService{dir: dir}, nil
}

// ShareURL returns the sharing URL for an external id. The path shape
// matches what ExtractExternalID parses.
func (w *WorkbookService) ShareURL(externalID string) string {
	return fmt.Sprintf("https://sheets.griddash.dev/d/%s/edit", externalID)
}

func (w *WorkbookService) path(externalID string) string {
	return filepath.Join(w.dir, externalID+".xlsx")
}

// open loads the workbook for an external id. Failures surface as
// adapter-unreachable: the id does not resolve to a reachable remote.
func (w *WorkbookService) open(ctx context.Context, externalID string) (*excelize.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAdapterUnreachable, err)
	}
	f, err := excelize.OpenFile(w.path(externalID))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", model.ErrAdapterUnreachable, externalID, err)
	}
	return f, nil
}

// Create implements Service.Create.
func (w *WorkbookService) Create(ctx context.Context, title string, headers []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrAdapterUnreachable, err)
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, name := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return "", fmt.Errorf("failed to compute header cell: %w", err)
		}
		if err := f.SetCellValue(worksheetName, cell, name); err != nil {
			return "", fmt.Errorf("failed to write header cell: %w", err)
		}
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: title}); err != nil {
		return "", fmt.Errorf("failed to set workbook title: %w", err)
	}

	externalID := model.NewID("sheet")
	if err := f.SaveAs(w.path(externalID)); err != nil {
		return "", fmt.Errorf("%w: save workbook: %v", model.ErrAdapterUnreachable, err)
	}
	return externalID, nil
}

// Header implements Service.Header.
func (w *WorkbookService) Header(ctx context.Context, externalID string) ([]string, error) {
	f, err := w.open(ctx, externalID)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(worksheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Rows implements Service.Rows. Cells are padded to header width so
// every returned row aligns with the header.
func (w *WorkbookService) Rows(ctx context.Context, externalID string) ([][]string, error) {
	f, err := w.open(ctx, externalID)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(worksheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	width := len(rows[0])
	data := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		padded := make([]string, width)
		copy(padded, row)
		data = append(data, padded)
	}
	return data, nil
}

// RowCount implements Service.RowCount.
func (w *WorkbookService) RowCount(ctx context.Context, externalID string) (int, error) {
	rows, err := w.Rows(ctx, externalID)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// SetHeader implements Service.SetHeader.
func (w *WorkbookService) SetHeader(ctx context.Context, externalID string, headers []string) error {
	return w.writeRow(ctx, externalID, 1, headers)
}

// UpdateRow implements Service.UpdateRow.
func (w *WorkbookService) UpdateRow(ctx context.Context, externalID string, index int, cells []string) error {
	return w.writeRow(ctx, externalID, index+2, cells)
}

// AppendRow implements Service.AppendRow.
func (w *WorkbookService) AppendRow(ctx context.Context, externalID string, cells []string) error {
	count, err := w.RowCount(ctx, externalID)
	if err != nil {
		return err
	}
	return w.writeRow(ctx, externalID, count+2, cells)
}

// DeleteRow implements Service.DeleteRow.
func (w *WorkbookService) DeleteRow(ctx context.Context, externalID string, rowNumber int) error {
	f, err := w.open(ctx, externalID)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.RemoveRow(worksheetName, rowNumber); err != nil {
		return fmt.Errorf("failed to remove row %d: %w", rowNumber, err)
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("%w: save workbook: %v", model.ErrAdapterUnreachable, err)
	}
	return nil
}

// writeRow writes cells into the 1-based worksheet row.
func (w *WorkbookService) writeRow(ctx context.Context, externalID string, rowNumber int, cells []string) error {
	f, err := w.open(ctx, externalID)
	if err != nil {
		return err
	}
	defer f.Close()

	for i, value := range cells {
		cell, err := excelize.CoordinatesToCellName(i+1, rowNumber)
		if err != nil {
			return fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := f.SetCellValue(worksheetName, cell, value); err != nil {
			return fmt.Errorf("failed to write cell %s: %w", cell, err)
		}
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("%w: save workbook: %v", model.ErrAdapterUnreachable, err)
	}
	return nil
}
