package core

import (
	"fmt"
	"strconv"
	"strings"
)

// PositionalMapper maps spreadsheet rows using a registered Layout.
type PositionalMapper struct {
	layout Layout
}

// NewPositionalMapper returns a mapper for the given layout.
func NewPositionalMapper(l Layout) *PositionalMapper {
	return &PositionalMapper{layout: l}
}

// Layout returns the layout this mapper applies.
func (m *PositionalMapper) Layout() Layout { return m.layout }

// Map converts one row. Rows whose activity cell is empty or contains the
// no-activity marker are skipped before any other cell is read.
func (m *PositionalMapper) Map(rec Record) (Mapped, error) {
	l := m.layout

	activity, ok := CellText(rec.Cell(l.ActivityColumn))
	if !ok || (l.NoActivity != "" && strings.Contains(strings.ToUpper(activity), strings.ToUpper(l.NoActivity))) {
		return Mapped{Skip: true}, nil
	}

	day, ok, err := CellTime(rec.Cell(l.DateColumn))
	if err != nil {
		return Mapped{}, &MappingError{Ref: rec.Ref, Field: columnName(l.DateColumn), Err: err}
	}
	if !ok {
		if rec.Time.IsZero() {
			return Mapped{}, &MappingError{Ref: rec.Ref, Field: columnName(l.DateColumn), Err: fmt.Errorf("missing date")}
		}
		day = rec.Time
	}

	form := NewForm()
	for _, f := range l.Fields {
		if err := m.mapField(form, rec, f); err != nil {
			return Mapped{}, &MappingError{Ref: rec.Ref, Field: columnName(f.Column), Err: err}
		}
	}

	started := AtClock(day, l.StartHour, l.StartMinute)
	form[KeyWorkStarted] = started.Format(WorkTimeLayout)
	form[KeyWorkCompleted] = started.Add(l.Duration).Format(WorkTimeLayout)
	form[KeyStatus] = l.Status

	lines := []string{"Performed by " + activity, rec.Ref}
	if l.CommentColumn >= 0 {
		if text, ok := CellText(rec.Cell(l.CommentColumn)); ok {
			lines = append(lines, text)
		}
	}
	form[KeyComment] = joinLines(lines...)
	form.SetCounts(len(l.Fields))

	return Mapped{Form: form}, nil
}

func (m *PositionalMapper) mapField(form Form, rec Record, f LayoutField) error {
	cell := rec.Cell(f.Column)

	if f.Kind == KindBool {
		text, ok := CellText(cell)
		if !ok {
			form.Skip(f.Index)
			return nil
		}
		if strings.EqualFold(strings.TrimSpace(text), m.layout.MarkToken) {
			form.SetValue(f.Index, "1")
		} else {
			form.SetValue(f.Index, "0")
		}
		return nil
	}

	if f.Kind == KindString {
		if text, ok := CellText(cell); ok {
			form.SetValue(f.Index, text)
		} else {
			form.Skip(f.Index)
		}
		return nil
	}

	v, ok, err := CellFloat(cell)
	if err != nil {
		return err
	}
	if !ok {
		form.Skip(f.Index)
		return nil
	}

	switch {
	case f.Rebase != 0:
		form.SetValue(f.Index, strconv.Itoa(int(v)-f.Rebase))
	case f.Indicator > 0:
		dir, _ := CellText(rec.Cell(f.Indicator))
		if strings.EqualFold(strings.TrimSpace(dir), f.Marker) {
			v = -v
		}
		form.SetFloat(f.Index, v)
	default:
		form.SetFloat(f.Index, v)
	}
	return nil
}

// columnName renders a record position for error messages.
func columnName(pos int) string {
	return "column " + strconv.Itoa(pos)
}

// joinLines joins the non-empty lines with newlines.
func joinLines(lines ...string) string {
	out := lines[:0:0]
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
