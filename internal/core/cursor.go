package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CursorKind identifies how a source addresses its records.
type CursorKind int

const (
	CursorRow CursorKind = iota + 1
	CursorDate
)

func (k CursorKind) String() string {
	switch k {
	case CursorRow:
		return "row"
	case CursorDate:
		return "date"
	default:
		return "unknown"
	}
}

// CursorDateLayout is the persisted form of date cursors.
const CursorDateLayout = "20060102"

// cursorKeySep separates the timestamp and key of a positioned date cursor,
// as in "2015-01-02T08:30:00Z/4411".
const cursorKeySep = "/"

// Cursor is a resume position: a row number or a calendar date.
// A date cursor with a Key points just past the record created at Date
// with that key, so a run can resume in the middle of a day.
// The zero Cursor means "unset".
type Cursor struct {
	Kind CursorKind
	Row  int
	Date time.Time
	Key  string
}

// RowCursor returns a row cursor.
func RowCursor(n int) Cursor { return Cursor{Kind: CursorRow, Row: n} }

// DateCursor returns a date cursor truncated to the day.
func DateCursor(t time.Time) Cursor {
	y, m, d := t.Date()
	return Cursor{Kind: CursorDate, Date: time.Date(y, m, d, 0, 0, 0, 0, t.Location())}
}

// AfterCursor returns a date cursor positioned just past the record created
// at t with the given key.
func AfterCursor(t time.Time, key string) Cursor {
	return Cursor{Kind: CursorDate, Date: t, Key: key}
}

// Positioned reports whether c is a date cursor inside a day.
func (c Cursor) Positioned() bool { return c.Kind == CursorDate && c.Key != "" }

// IsZero reports whether the cursor is unset.
func (c Cursor) IsZero() bool { return c.Kind == 0 }

// Next returns the position immediately after c. For dates that is the
// start of the following day.
func (c Cursor) Next() Cursor {
	switch c.Kind {
	case CursorRow:
		return RowCursor(c.Row + 1)
	case CursorDate:
		return DateCursor(c.Date.AddDate(0, 0, 1))
	default:
		return c
	}
}

// Before reports whether c sorts strictly before o. Both must share a kind.
func (c Cursor) Before(o Cursor) bool {
	if c.Kind == CursorDate {
		if !c.Date.Equal(o.Date) {
			return c.Date.Before(o.Date)
		}
		return c.Key < o.Key
	}
	return c.Row < o.Row
}

func (c Cursor) String() string {
	switch c.Kind {
	case CursorRow:
		return strconv.Itoa(c.Row)
	case CursorDate:
		if c.Key != "" {
			return c.Date.Format(time.RFC3339Nano) + cursorKeySep + c.Key
		}
		return c.Date.Format(CursorDateLayout)
	default:
		return ""
	}
}

// ParseCursor parses s as a cursor of the given kind. Dates accept
// YYYYMMDD, YYYY-MM-DD and the positioned form "<RFC 3339 time>/<key>".
func ParseCursor(kind CursorKind, s string) (Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Cursor{}, nil
	}
	switch kind {
	case CursorRow:
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return Cursor{}, fmt.Errorf("invalid row cursor %q", s)
		}
		return RowCursor(n), nil
	case CursorDate:
		if ts, key, ok := strings.Cut(s, cursorKeySep); ok {
			t, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil || key == "" {
				return Cursor{}, fmt.Errorf("invalid date cursor %q", s)
			}
			return AfterCursor(t, key), nil
		}
		for _, layout := range []string{CursorDateLayout, "2006-01-02"} {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return DateCursor(t), nil
			}
		}
		return Cursor{}, fmt.Errorf("invalid date cursor %q", s)
	default:
		return Cursor{}, fmt.Errorf("unknown cursor kind %d", kind)
	}
}

// MarshalJSON writes rows as numbers and dates as strings: "YYYYMMDD" for
// a whole day, the positioned form otherwise.
func (c Cursor) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CursorRow:
		return []byte(strconv.Itoa(c.Row)), nil
	case CursorDate:
		return json.Marshal(c.String())
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a number (row) or a string (date, or a row written
// as text by older tools).
func (c *Cursor) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*c = Cursor{}
		return nil
	}
	if !strings.HasPrefix(s, `"`) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid cursor %s", s)
		}
		*c = RowCursor(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if len(str) == len(CursorDateLayout) || strings.Contains(str, cursorKeySep) {
		parsed, err := ParseCursor(CursorDate, str)
		if err == nil {
			*c = parsed
			return nil
		}
	}
	parsed, err := ParseCursor(CursorRow, str)
	if err != nil {
		return fmt.Errorf("invalid cursor %q", str)
	}
	*c = parsed
	return nil
}

// As converts a decoded cursor to the kind a source expects. A row stored
// for a date source (or vice versa) is an error.
func (c Cursor) As(kind CursorKind) (Cursor, error) {
	if c.IsZero() || c.Kind == kind {
		return c, nil
	}
	// An 8-digit number persisted for a date source is a date.
	if c.Kind == CursorRow && kind == CursorDate {
		return ParseCursor(CursorDate, strconv.Itoa(c.Row))
	}
	return Cursor{}, fmt.Errorf("cursor %s is a %s, want %s", c, c.Kind, kind)
}
