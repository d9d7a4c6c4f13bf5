package core

// convert.go coerces source cells to the kinds a form expects.
//
// Spreadsheets and observation tables are messy: numbers arrive as text with
// thousands separators, dates arrive as Excel serials or in several regional
// layouts, and marks arrive as "X", "yes" or 1. Every function here returns
// ok=false for an absent cell so callers can mark the field skipped, and an
// error only when a present value cannot be coerced.

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// groupedRegex matches numbers whose only commas group digits in threes.
// Any other comma (a decimal comma such as "1,5") makes the value invalid.
var groupedRegex = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// excelEpoch is day zero of the 1900 date system as Excel counts it.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02 15:04:05", "2006-01-02T15:04:05",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
)

// truthy is the set of textual marks read as "1".
var truthy = map[string]bool{
	"x": true, "true": true, "t": true, "yes": true, "y": true, "1": true,
}

// CellFloat returns the numeric value of c.
func CellFloat(c Cell) (float64, bool, error) {
	switch c.Kind {
	case CellNull:
		return 0, false, nil
	case CellNumber:
		return c.Num, true, nil
	case CellString:
		s := CleanCell(c.Str)
		if s == "" {
			return 0, false, nil
		}
		if strings.Contains(s, ",") {
			if !groupedRegex.MatchString(s) {
				return 0, false, fmt.Errorf("invalid number %q", c.Str)
			}
			s = strings.ReplaceAll(s, ",", "")
		}
		if !numericRegex.MatchString(s) {
			return 0, false, fmt.Errorf("invalid number %q", c.Str)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid number %q: %w", c.Str, err)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("invalid number: got date %s", c)
	}
}

// CellInt returns the value of c truncated toward zero.
func CellInt(c Cell) (int, bool, error) {
	f, ok, err := CellFloat(c)
	if !ok || err != nil {
		return 0, ok, err
	}
	return int(math.Trunc(f)), true, nil
}

// CellBool reads c as a mark. Numbers are true when non-zero; text is true
// when it is one of the truthy tokens.
func CellBool(c Cell) (bool, bool) {
	switch c.Kind {
	case CellNumber:
		return c.Num != 0, true
	case CellString:
		s := strings.ToLower(CleanCell(c.Str))
		if s == "" {
			return false, false
		}
		return truthy[s], true
	case CellDate:
		return true, true
	default:
		return false, false
	}
}

// CellText returns c rendered as text with trailing whitespace removed.
func CellText(c Cell) (string, bool) {
	if c.IsNull() {
		return "", false
	}
	s := strings.TrimRight(c.String(), " \t\r\n")
	if s == "" {
		return "", false
	}
	return s, true
}

// CellTime reads c as a date. Numbers are Excel serial dates.
func CellTime(c Cell) (time.Time, bool, error) {
	switch c.Kind {
	case CellNull:
		return time.Time{}, false, nil
	case CellDate:
		return c.Time, true, nil
	case CellNumber:
		if c.Num <= 0 {
			return time.Time{}, false, fmt.Errorf("invalid date serial %v", c.Num)
		}
		return ExcelSerialTime(c.Num), true, nil
	default:
		t, err := ParseDate(c.Str)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}
}

// ExcelSerialTime converts an Excel 1900-system serial to a time.
func ExcelSerialTime(serial float64) time.Time {
	days := math.Floor(serial)
	frac := serial - days
	t := excelEpoch.AddDate(0, 0, int(days))
	return t.Add(time.Duration(math.Round(frac*86400)) * time.Second)
}

// ParseDate parses s using the supported layouts, handling 2-digit years
// with TwoDigitYearPivot.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("invalid date: empty")
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// AtClock returns the calendar day of t at hour:minute.
func AtClock(t time.Time, hour, minute int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, t.Location())
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}
