package core

import (
	"fmt"
	"time"
)

// DefaultWorkDuration is the work window for records with an explicit start time.
const DefaultWorkDuration = 30 * time.Minute

// CodedMapper maps observation sets using a code → rule table.
type CodedMapper struct {
	mapping  FieldMapping
	count    int
	duration time.Duration
}

// NewCodedMapper validates the mapping and returns a mapper for it.
// A nil or empty mapping selects DefaultMapping.
func NewCodedMapper(mapping FieldMapping) (*CodedMapper, error) {
	if len(mapping) == 0 {
		mapping = DefaultMapping()
	}
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	return &CodedMapper{
		mapping:  mapping,
		count:    len(mapping.Indices()),
		duration: DefaultWorkDuration,
	}, nil
}

// Map converts one observation set. Sets without any mapped observation
// carry no activity and are skipped.
func (m *CodedMapper) Map(rec Record) (Mapped, error) {
	active := false
	for _, o := range rec.Observations {
		if _, ok := m.mapping[o.Code]; ok {
			active = true
			break
		}
	}
	if !active {
		return Mapped{Skip: true}, nil
	}

	form := NewForm()
	var operator, reviewer, comment string

	for _, code := range m.mapping.Codes() {
		rule := m.mapping[code]
		obs, found := rec.Observation(code)

		if rule.IsRole() {
			if !found {
				continue
			}
			text, _ := observationText(obs)
			switch rule.Role {
			case RoleOperator:
				operator = text
			case RoleReviewer:
				reviewer = text
			case RoleComment:
				comment = text
			}
			continue
		}

		if !found {
			form.Skip(rule.Index)
			continue
		}
		if err := setObservation(form, rule, obs); err != nil {
			return Mapped{}, &MappingError{Ref: rec.Ref, Field: "code " + code, Err: err}
		}
	}

	form[KeyStatus] = StatusUnreviewed
	var lines []string
	if operator != "" {
		lines = append(lines, "Performed by "+operator)
	}
	if reviewer != "" {
		lines = append(lines, "Reviewed by "+reviewer)
		form[KeyStatus] = StatusApproved
	}
	lines = append(lines, comment, rec.Ref)
	form[KeyComment] = joinLines(lines...)

	if rec.Time.IsZero() {
		return Mapped{}, &MappingError{Ref: rec.Ref, Field: "timestamp", Err: fmt.Errorf("missing date")}
	}
	form[KeyWorkStarted] = rec.Time.Format(WorkTimeLayout)
	form[KeyWorkCompleted] = rec.Time.Add(m.duration).Format(WorkTimeLayout)
	form.SetCounts(m.count)

	return Mapped{Form: form}, nil
}

func setObservation(form Form, rule FieldRule, obs Observation) error {
	switch rule.Kind {
	case KindBool:
		if !obs.Float.IsNull() {
			v, _, err := CellFloat(obs.Float)
			if err != nil {
				return err
			}
			form.SetValue(rule.Index, boolString(v != 0))
			return nil
		}
		b, ok := CellBool(obs.Text)
		if !ok {
			form.Skip(rule.Index)
			return nil
		}
		form.SetValue(rule.Index, boolString(b))

	case KindFloat:
		cell := obs.Float
		if cell.IsNull() {
			cell = obs.Text
		}
		v, ok, err := CellFloat(cell)
		if err != nil {
			return err
		}
		if !ok {
			form.Skip(rule.Index)
			return nil
		}
		form.SetFloat(rule.Index, v)

	case KindString:
		text, ok := observationText(obs)
		if !ok {
			form.Skip(rule.Index)
			return nil
		}
		form.SetValue(rule.Index, text)

	default:
		return fmt.Errorf("unknown kind %q", rule.Kind)
	}
	return nil
}

// observationText prefers the textual side and falls back to the number.
func observationText(o Observation) (string, bool) {
	if s, ok := CellText(o.Text); ok {
		return s, true
	}
	return CellText(o.Float)
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
