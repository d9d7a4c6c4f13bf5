package source

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/qaimport/internal/core"
)

// Workbook reads a positional layout from an .xlsx worksheet.
type Workbook struct {
	Sheet
	// SheetName selects the worksheet; empty means the active sheet.
	SheetName string
}

var _ core.Source = (*Workbook)(nil)

// NewWorkbook returns a workbook source for layout l. startRow overrides
// the layout's default first data row when positive.
func NewWorkbook(path, sheet string, l core.Layout, startRow int) (*Workbook, error) {
	s, err := sheetFor(path, l, startRow)
	if err != nil {
		return nil, err
	}
	return &Workbook{Sheet: s, SheetName: sheet}, nil
}

func (w *Workbook) CursorKind() core.CursorKind { return core.CursorRow }

// Open reads the selected rows. Cell values are taken raw, so dates arrive
// as Excel serial numbers.
func (w *Workbook) Open(ctx context.Context, r core.Range) (core.Batch, error) {
	f, err := excelize.OpenFile(w.Path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	name := w.SheetName
	if name == "" {
		name = f.GetSheetName(f.GetActiveSheetIndex())
	}
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start, end := w.rowRange(r, len(rows))
	return &memBatch{
		rng:     core.Range{Start: core.RowCursor(start), End: core.RowCursor(end)},
		records: w.records(rows, start, end),
	}, nil
}

func sheetFor(path string, l core.Layout, startRow int) (Sheet, error) {
	first, err := excelize.ColumnNameToNumber(l.FirstColumn)
	if err != nil {
		return Sheet{}, fmt.Errorf("layout %s: %w", l.Key, err)
	}
	last, err := excelize.ColumnNameToNumber(l.LastColumn)
	if err != nil {
		return Sheet{}, fmt.Errorf("layout %s: %w", l.Key, err)
	}
	if last < first {
		return Sheet{}, fmt.Errorf("layout %s: column range %s:%s is reversed", l.Key, l.FirstColumn, l.LastColumn)
	}
	if startRow <= 0 {
		startRow = l.DefaultStartRow
	}
	return Sheet{Path: path, FirstColumn: first, LastColumn: last, StartRow: startRow}, nil
}
