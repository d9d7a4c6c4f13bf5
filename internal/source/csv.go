package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JonMunkholm/qaimport/internal/core"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVFile reads a positional layout from a CSV export of the worksheet.
// Column letters address CSV fields the same way they address the sheet.
type CSVFile struct {
	Sheet
}

var _ core.Source = (*CSVFile)(nil)

// NewCSVFile returns a CSV source for layout l.
func NewCSVFile(path string, l core.Layout, startRow int) (*CSVFile, error) {
	s, err := sheetFor(path, l, startRow)
	if err != nil {
		return nil, err
	}
	return &CSVFile{Sheet: s}, nil
}

func (c *CSVFile) CursorKind() core.CursorKind { return core.CursorRow }

func (c *CSVFile) Open(ctx context.Context, r core.Range) (core.Batch, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	rows, err := parseCSV(data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start, end := c.rowRange(r, len(rows))
	return &memBatch{
		rng:     core.Range{Start: core.RowCursor(start), End: core.RowCursor(end)},
		records: c.records(rows, start, end),
	}, nil
}

// parseCSV strips a Windows BOM, replaces invalid UTF-8 and reads every
// record. Rows may have differing widths. Each record is one worksheet
// row even when a quoted cell spans several lines; blank lines between
// records are kept as empty rows so row numbers match the worksheet.
func parseCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	text := strings.ToValidUTF8(string(data), "?")

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	consumed, offset := 0, int64(0) // lines and bytes read through the previous record
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		line, _ := r.FieldPos(0)
		for blank := line - 1 - consumed; blank > 0; blank-- {
			rows = append(rows, nil)
		}
		rows = append(rows, rec)

		end := r.InputOffset()
		consumed += strings.Count(text[offset:end], "\n")
		offset = end
	}
	return rows, nil
}
