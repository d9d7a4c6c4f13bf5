// Package core provides the business logic for QA measurement import.
// This package has no UI dependencies and can be used by any frontend.
package core

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// CellKind identifies which member of a Cell is populated.
type CellKind int

const (
	CellNull CellKind = iota
	CellNumber
	CellString
	CellDate
)

// Cell is a single typed value read from a source record.
type Cell struct {
	Kind CellKind
	Num  float64
	Str  string
	Time time.Time
}

// Null returns an absent cell.
func Null() Cell { return Cell{} }

// Number returns a numeric cell.
func Number(f float64) Cell { return Cell{Kind: CellNumber, Num: f} }

// Text returns a string cell. Empty strings are treated as absent.
func Text(s string) Cell {
	if s == "" {
		return Cell{}
	}
	return Cell{Kind: CellString, Str: s}
}

// Date returns a date cell.
func Date(t time.Time) Cell { return Cell{Kind: CellDate, Time: t} }

// IsNull reports whether the cell holds no value.
func (c Cell) IsNull() bool { return c.Kind == CellNull }

// String renders the cell the way a spreadsheet would display it.
func (c Cell) String() string {
	switch c.Kind {
	case CellNumber:
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	case CellString:
		return c.Str
	case CellDate:
		return c.Time.Format("2006-01-02")
	default:
		return ""
	}
}

// Observation is one coded value of an observation set. Either side may be
// null; mappers decide which one they need.
type Observation struct {
	Code  string
	Float Cell
	Text  Cell
}

// Record is a single source record, normalized before mapping.
// Records are never modified after the source produces them.
type Record struct {
	// Ref is the human-readable position: "Row 57" or "20150102".
	Ref string

	// Cursor is the record's own position; Next is the resume position
	// once this record has been handled.
	Cursor Cursor
	Next   Cursor

	// Time is the base timestamp used for work_started/work_completed.
	Time time.Time

	// Cells holds positional values. Index 0 is the first column read.
	Cells []Cell

	// Observations holds coded values for observation-set sources.
	Observations []Observation
}

// Cell returns the cell at position i, or a null cell when out of range.
func (r Record) Cell(i int) Cell {
	if i < 0 || i >= len(r.Cells) {
		return Null()
	}
	return r.Cells[i]
}

// Observation returns the first observation with the given code.
func (r Record) Observation(code string) (Observation, bool) {
	for _, o := range r.Observations {
		if o.Code == code {
			return o, true
		}
	}
	return Observation{}, false
}

// Range is a bounded record range. Zero cursors mean "use the source default".
// Both ends are inclusive.
type Range struct {
	Start Cursor
	End   Cursor
}

// String renders the range for status messages.
func (r Range) String() string {
	start, end := r.Start.String(), r.End.String()
	if start == "" {
		start = "the beginning"
	}
	if end == "" {
		end = "the latest record"
	}
	return fmt.Sprintf("%s to %s", start, end)
}

// ParseRange parses optional start and end cursors of the given kind.
func ParseRange(kind CursorKind, start, end string) (Range, error) {
	s, err := ParseCursor(kind, start)
	if err != nil {
		return Range{}, err
	}
	e, err := ParseCursor(kind, end)
	if err != nil {
		return Range{}, err
	}
	if !s.IsZero() && !e.IsZero() && e.Before(s) {
		return Range{}, fmt.Errorf("invalid range: end %s is before start %s", e, s)
	}
	return Range{Start: s, End: e}, nil
}

// Batch is an opened record range.
type Batch interface {
	// Len is the number of records in the range.
	Len() int
	// Range is the range after defaults were applied.
	Range() Range
	// Record fetches the i-th record (0-based) in source order.
	Record(ctx context.Context, i int) (Record, error)
	Close() error
}

// Source yields records for a bounded range.
type Source interface {
	// CursorKind reports whether this source is addressed by rows or dates.
	CursorKind() CursorKind
	Open(ctx context.Context, r Range) (Batch, error)
}

// Mapped is the result of mapping one record.
type Mapped struct {
	Form Form
	// Skip is true when the record carries no activity and must not be submitted.
	Skip bool
}

// Mapper turns one source record into a submission form.
type Mapper interface {
	Map(rec Record) (Mapped, error)
}

// Submitter submits forms for a target over an authenticated session.
type Submitter interface {
	Submit(ctx context.Context, targetID string, form Form) ([]byte, error)
}

// Connector establishes a new authenticated session. It is called once per run.
type Connector func(ctx context.Context) (Submitter, error)

// ProgressStore is a durable targetID → cursor mapping.
type ProgressStore interface {
	// Load returns the stored cursor. ok is false when none is stored.
	Load(ctx context.Context, targetID string, kind CursorKind) (c Cursor, ok bool, err error)
	Save(ctx context.Context, targetID string, c Cursor) error
}

// Target describes one remote test collection and where its data comes from.
type Target struct {
	// ID is the remote unit test collection id, also the progress key.
	ID     string
	Name   string
	Type   string
	Source Source
	Mapper Mapper
}
