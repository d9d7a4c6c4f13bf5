package core

import (
	"fmt"
	"sort"
	"strings"
)

// FieldKind is how a source value is coerced into a form value.
type FieldKind string

const (
	KindBool   FieldKind = "bool"
	KindFloat  FieldKind = "float"
	KindString FieldKind = "str"
)

// ParseFieldKind accepts the kind names used in mapping tables.
func ParseFieldKind(s string) (FieldKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "boolean":
		return KindBool, nil
	case "float", "number", "numeric":
		return KindFloat, nil
	case "str", "string", "text":
		return KindString, nil
	default:
		return "", fmt.Errorf("unknown field kind %q", s)
	}
}

// Role is a mapping target that feeds the comment and status instead of a
// test index.
type Role string

const (
	RoleNone     Role = ""
	RoleOperator Role = "user"
	RoleReviewer Role = "approval"
	RoleComment  Role = "comment"
)

// ParseRole accepts the role names used in mapping tables.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "operator":
		return RoleOperator, nil
	case "approval", "reviewer":
		return RoleReviewer, nil
	case "comment":
		return RoleComment, nil
	default:
		return RoleNone, fmt.Errorf("unknown mapping target %q", s)
	}
}

// FieldRule maps one source code to either a test index or a role.
// Exactly one of Index (when Role is empty) and Role is meaningful.
type FieldRule struct {
	Index int
	Role  Role
	Kind  FieldKind
}

// IsRole reports whether the rule targets a role rather than a test index.
func (r FieldRule) IsRole() bool { return r.Role != RoleNone }

func (r FieldRule) String() string {
	if r.IsRole() {
		return fmt.Sprintf("%s:%s", r.Role, r.Kind)
	}
	return fmt.Sprintf("%d:%s", r.Index, r.Kind)
}

// FieldMapping maps source field codes to rules.
type FieldMapping map[string]FieldRule

// Indices returns the test indices targeted by the mapping, ascending.
func (m FieldMapping) Indices() []int {
	out := make([]int, 0, len(m))
	for _, r := range m {
		if !r.IsRole() {
			out = append(out, r.Index)
		}
	}
	sort.Ints(out)
	return out
}

// Codes returns the mapped codes in a stable order.
func (m FieldMapping) Codes() []string {
	out := make([]string, 0, len(m))
	for code := range m {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Validate checks that test indices are unique and contiguous from zero,
// that each role appears at most once, and that every kind is known.
func (m FieldMapping) Validate() error {
	var errs []string
	seenIdx := make(map[int]string)
	seenRole := make(map[Role]string)

	for _, code := range m.Codes() {
		r := m[code]
		switch r.Kind {
		case KindBool, KindFloat, KindString:
		default:
			errs = append(errs, fmt.Sprintf("code %s: unknown kind %q", code, r.Kind))
		}
		if r.IsRole() {
			if prev, ok := seenRole[r.Role]; ok {
				errs = append(errs, fmt.Sprintf("code %s: role %s already mapped by %s", code, r.Role, prev))
			}
			seenRole[r.Role] = code
			continue
		}
		if r.Index < 0 {
			errs = append(errs, fmt.Sprintf("code %s: negative index %d", code, r.Index))
			continue
		}
		if prev, ok := seenIdx[r.Index]; ok {
			errs = append(errs, fmt.Sprintf("code %s: index %d already mapped by %s", code, r.Index, prev))
		}
		seenIdx[r.Index] = code
	}

	if len(seenIdx) == 0 {
		errs = append(errs, "mapping has no test indices")
	}
	for i := 0; i < len(seenIdx); i++ {
		if _, ok := seenIdx[i]; !ok {
			errs = append(errs, fmt.Sprintf("index %d is not mapped; indices must run from 0 without gaps", i))
			break
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid mapping:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// DefaultMapping is the assessment mapping used when a target configures none.
func DefaultMapping() FieldMapping {
	return FieldMapping{
		"19607": {Index: 0, Kind: KindBool},
		"19608": {Index: 1, Kind: KindBool},
		"20740": {Index: 2, Kind: KindBool},
		"19609": {Index: 3, Kind: KindBool},
		"19635": {Index: 4, Kind: KindBool},
		"19610": {Index: 5, Kind: KindBool},
		"19661": {Index: 6, Kind: KindFloat},
		"19663": {Index: 7, Kind: KindFloat},
		"19874": {Index: 8, Kind: KindFloat},
		"19875": {Index: 9, Kind: KindFloat},
		"19873": {Index: 10, Kind: KindFloat},
		"21396": {Index: 11, Kind: KindBool},
		"21395": {Index: 12, Kind: KindBool},
		"21690": {Index: 13, Kind: KindBool},
		"19613": {Index: 14, Kind: KindBool},
		"19626": {Index: 15, Kind: KindBool},
		"19627": {Index: 16, Kind: KindBool},
		"19628": {Index: 17, Kind: KindBool},
		"19639": {Role: RoleOperator, Kind: KindString},
		"19640": {Role: RoleReviewer, Kind: KindString},
		"20269": {Role: RoleComment, Kind: KindString},
	}
}
