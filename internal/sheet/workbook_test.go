package sheet

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/griddash/griddash/internal/model"
)

func setupWorkbook(t *testing.T) (*WorkbookService, string) {
	t.Helper()
	svc, err := NewWorkbookService(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkbookService failed: %v", err)
	}
	id, err := svc.Create(context.Background(), "Expenses", []string{"Amount", "Due"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return svc, id
}

func TestWorkbookCreateAndHeader(t *testing.T) {
	svc, id := setupWorkbook(t)

	headers, err := svc.Header(context.Background(), id)
	if err != nil {
		t.Fatalf("Header failed: %v", err)
	}
	want := []string{"Amount", "Due"}
	if !reflect.DeepEqual(headers, want) {
		t.Errorf("header = %v, want %v", headers, want)
	}

	count, err := svc.RowCount(context.Background(), id)
	if err != nil {
		t.Fatalf("RowCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("fresh workbook should have 0 data rows, got %d", count)
	}
}

func TestWorkbookUnknownIDUnreachable(t *testing.T) {
	svc, _ := setupWorkbook(t)

	_, err := svc.Header(context.Background(), "no-such-sheet")
	if !errors.Is(err, model.ErrAdapterUnreachable) {
		t.Errorf("expected ErrAdapterUnreachable, got %v", err)
	}
}

func TestWorkbookRowLifecycle(t *testing.T) {
	svc, id := setupWorkbook(t)
	ctx := context.Background()

	if err := svc.AppendRow(ctx, id, []string{"10", "03/15/2024"}); err != nil {
		t.Fatalf("AppendRow failed: %v", err)
	}
	if err := svc.AppendRow(ctx, id, []string{"20", ""}); err != nil {
		t.Fatalf("AppendRow failed: %v", err)
	}

	rows, err := svc.Rows(ctx, id)
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	want := [][]string{{"10", "03/15/2024"}, {"20", ""}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}

	if err := svc.UpdateRow(ctx, id, 0, []string{"11", "03/16/2024"}); err != nil {
		t.Fatalf("UpdateRow failed: %v", err)
	}
	rows, _ = svc.Rows(ctx, id)
	if !reflect.DeepEqual(rows[0], []string{"11", "03/16/2024"}) {
		t.Errorf("updated row = %v", rows[0])
	}

	// Data row 0 is native row number 2.
	if err := svc.DeleteRow(ctx, id, 2); err != nil {
		t.Fatalf("DeleteRow failed: %v", err)
	}
	rows, _ = svc.Rows(ctx, id)
	if len(rows) != 1 || !reflect.DeepEqual(rows[0], []string{"20", ""}) {
		t.Errorf("rows after delete = %v", rows)
	}
}

func TestWorkbookSetHeader(t *testing.T) {
	svc, id := setupWorkbook(t)
	ctx := context.Background()

	if err := svc.SetHeader(ctx, id, []string{"Amount", "Due", "Category"}); err != nil {
		t.Fatalf("SetHeader failed: %v", err)
	}
	headers, _ := svc.Header(ctx, id)
	want := []string{"Amount", "Due", "Category"}
	if !reflect.DeepEqual(headers, want) {
		t.Errorf("header = %v, want %v", headers, want)
	}
}

func TestWorkbookRowsPaddedToHeader(t *testing.T) {
	svc, id := setupWorkbook(t)
	ctx := context.Background()

	// A short row comes back padded to header width.
	if err := svc.AppendRow(ctx, id, []string{"5"}); err != nil {
		t.Fatalf("AppendRow failed: %v", err)
	}
	rows, err := svc.Rows(ctx, id)
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if !reflect.DeepEqual(rows[0], []string{"5", ""}) {
		t.Errorf("row = %v, want [5 ]", rows[0])
	}
}

func TestWorkbookShareURLRoundTrip(t *testing.T) {
	svc, id := setupWorkbook(t)

	if got := ExtractExternalID(svc.ShareURL(id)); got != id {
		t.Errorf("ExtractExternalID(ShareURL(%s)) = %s", id, got)
	}
}
