// Package source reads QA records from spreadsheets and from the MosaiQ
// observation tables.
package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/qaimport/internal/core"
)

// Types accepted in the targets file.
const (
	TypeXLSX   = "xlsx"
	TypeCSV    = "csv"
	TypeMosaiQ = "mosaiq"
)

// memBatch is a batch whose records were materialized at Open.
type memBatch struct {
	rng     core.Range
	records []core.Record
}

func (b *memBatch) Len() int { return len(b.records) }
func (b *memBatch) Range() core.Range { return b.rng }
func (b *memBatch) Close() error { return nil }
func (b *memBatch) Record(ctx context.Context, i int) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return core.Record{}, err
	}
	if i < 0 || i >= len(b.records) {
		return core.Record{}, fmt.Errorf("record %d out of range (0-%d)", i, len(b.records)-1)
	}
	return b.records[i], nil
}

// Sheet holds what the tabular sources share: which columns to read and
// where data starts.
type Sheet struct {
	Path        string
	FirstColumn int // 1-based, inclusive
	LastColumn  int // 1-based, inclusive
	StartRow    int // default first data row
}

// rowRange resolves r against the sheet defaults and the number of rows
// present. The end is clamped to the last row; start > end yields no rows.
func (s Sheet) rowRange(r core.Range, lastRow int) (start, end int) {
	start = s.StartRow
	if !r.Start.IsZero() {
		start = r.Start.Row
	}
	if start < 1 {
		start = 1
	}
	end = lastRow
	if !r.End.IsZero() && r.End.Row < end {
		end = r.End.Row
	}
	return start, end
}

// records turns raw rows (index 0 = row 1) into records for [start, end].
func (s Sheet) records(rows [][]string, start, end int) []core.Record {
	if end < start {
		return nil
	}
	out := make([]core.Record, 0, end-start+1)
	for n := start; n <= end; n++ {
		var raw []string
		if n-1 < len(rows) {
			raw = rows[n-1]
		}
		out = append(out, core.Record{
			Ref:    "Row " + strconv.Itoa(n),
			Cursor: core.RowCursor(n),
			Next:   core.RowCursor(n + 1),
			Cells:  s.cells(raw),
		})
	}
	return out
}

func (s Sheet) cells(raw []string) []core.Cell {
	width := s.LastColumn - s.FirstColumn + 1
	cells := make([]core.Cell, width)
	for i := range cells {
		col := s.FirstColumn - 1 + i
		if col < len(raw) {
			cells[i] = parseCell(raw[col])
		}
	}
	return cells
}

// parseCell classifies a raw spreadsheet value. Numbers (including Excel
// date serials) become numeric cells; everything else is text.
func parseCell(raw string) core.Cell {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return core.Null()
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return core.Number(f)
	}
	return core.Text(raw)
}
