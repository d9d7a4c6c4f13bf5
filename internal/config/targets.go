package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/qaimport/internal/core"
)

// Target types.
const (
	TypeXLSX   = "xlsx"
	TypeCSV    = "csv"
	TypeMosaiQ = "mosaiq"
)

// TargetsFile is the parsed targets file:
//
//	qatrack:
//	  url: http://qatrack.local/
//	  username: physicist
//	targets:
//	  - id: "1"
//	    name: CT Daily QA
//	    type: xlsx
//	    layout: ct_daily
//	    file: CTDailyQA.xlsx
//	  - utc: "6"
//	    type: mosaiq
//	    view_id: "2435"
//	    mapping:
//	      "19607": [0, bool]
//	      "19639": {field: user, kind: str}
type TargetsFile struct {
	QATrack QATrackOverride `yaml:"qatrack"`
	Targets []TargetSpec    `yaml:"targets" validate:"required,min=1,unique=ID,dive"`
}

// QATrackOverride replaces the environment's server settings when set.
type QATrackOverride struct {
	URL      string `yaml:"url" validate:"omitempty,url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TargetSpec describes one test collection and its data source.
type TargetSpec struct {
	// ID is the QATrack+ unit test collection id. utc is accepted as an alias.
	ID   string `yaml:"id" validate:"required"`
	UTC  string `yaml:"utc"`
	Name string `yaml:"name"`
	Type string `yaml:"type" validate:"required,oneof=xlsx csv mosaiq"`

	// Spreadsheet sources.
	Layout   string `yaml:"layout"`
	File     string `yaml:"file" validate:"required_unless=Type mosaiq"`
	Sheet    string `yaml:"sheet"`
	Columns  string `yaml:"columns" validate:"omitempty,contains=:"`
	StartRow int    `yaml:"start_row" validate:"gte=0"`

	// Observation-set sources.
	ViewID    string                 `yaml:"view_id" validate:"required_if=Type mosaiq"`
	PatientID string                 `yaml:"patient_id"`
	Mapping   map[string]MappingRule `yaml:"mapping"`

	// FieldMapping is Mapping after conversion and validation.
	FieldMapping core.FieldMapping `yaml:"-"`
}

// DisplayName returns the name, falling back to the id.
func (t TargetSpec) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return "Test list " + t.ID
}

// CursorKind is the kind of resume cursor the target's source uses.
func (t TargetSpec) CursorKind() core.CursorKind {
	if t.Type == TypeMosaiQ {
		return core.CursorDate
	}
	return core.CursorRow
}

// MappingRule is one observation code's destination. It accepts the list
// form [field, kind] and the object form {field: ..., kind: ...}, where
// field is a test index or one of the roles user, approval, comment.
type MappingRule struct {
	Field string
	Kind  string
	line  int
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *MappingRule) UnmarshalYAML(n *yaml.Node) error {
	r.line = n.Line
	switch n.Kind {
	case yaml.SequenceNode:
		if len(n.Content) != 2 {
			return fmt.Errorf("line %d: mapping rule must be [field, kind]", n.Line)
		}
		r.Field, r.Kind = n.Content[0].Value, n.Content[1].Value
		return nil
	case yaml.MappingNode:
		var obj struct {
			Field string `yaml:"field"`
			Kind  string `yaml:"kind"`
		}
		if err := n.Decode(&obj); err != nil {
			return err
		}
		r.Field, r.Kind = obj.Field, obj.Kind
		return nil
	default:
		return fmt.Errorf("line %d: mapping rule must be a list or an object", n.Line)
	}
}

// Rule converts r into a core.FieldRule.
func (r MappingRule) Rule() (core.FieldRule, error) {
	kind, err := core.ParseFieldKind(r.Kind)
	if err != nil {
		return core.FieldRule{}, err
	}
	field := strings.TrimSpace(r.Field)
	if idx, err := strconv.Atoi(field); err == nil {
		return core.FieldRule{Index: idx, Kind: kind}, nil
	}
	role, err := core.ParseRole(field)
	if err != nil {
		return core.FieldRule{}, err
	}
	return core.FieldRule{Role: role, Kind: kind}, nil
}

// LoadTargets reads, validates and normalizes the targets file at path.
func LoadTargets(path string) (*TargetsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}
	tf, err := ParseTargets(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tf, nil
}

// ParseTargets parses a targets document. JSON documents are accepted.
func ParseTargets(data []byte) (*TargetsFile, error) {
	var tf TargetsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse targets: %w", err)
	}
	for i := range tf.Targets {
		t := &tf.Targets[i]
		if t.ID == "" {
			t.ID = t.UTC
		}
		t.Type = strings.ToLower(strings.TrimSpace(t.Type))
	}

	if err := newValidator().Struct(&tf); err != nil {
		return nil, formatValidation(err)
	}

	var errs []string
	for i := range tf.Targets {
		if err := tf.Targets[i].normalize(); err != nil {
			errs = append(errs, fmt.Sprintf("target %s: %v", tf.Targets[i].ID, err))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return &tf, nil
}

func (t *TargetSpec) normalize() error {
	switch t.Type {
	case TypeMosaiQ:
		if len(t.Mapping) == 0 {
			t.FieldMapping = core.DefaultMapping()
			return nil
		}
		fm := make(core.FieldMapping, len(t.Mapping))
		for code, r := range t.Mapping {
			rule, err := r.Rule()
			if err != nil {
				return fmt.Errorf("mapping %s (line %d): %w", code, r.line, err)
			}
			fm[code] = rule
		}
		if err := fm.Validate(); err != nil {
			return err
		}
		t.FieldMapping = fm
	default:
		if t.Layout == "" {
			t.Layout = "ct_daily"
		}
		if len(t.Mapping) > 0 {
			return errors.New("mapping only applies to mosaiq targets")
		}
	}
	return nil
}

// Apply copies the file's server overrides into cfg.
func (tf *TargetsFile) Apply(cfg *QATrackConfig) {
	if tf.QATrack.URL != "" {
		cfg.URL = tf.QATrack.URL
	}
	if tf.QATrack.Username != "" {
		cfg.Username = tf.QATrack.Username
	}
	if tf.QATrack.Password != "" {
		cfg.Password = tf.QATrack.Password
	}
}

// Find returns the target with the given id.
func (tf *TargetsFile) Find(id string) (TargetSpec, bool) {
	for _, t := range tf.Targets {
		if t.ID == id {
			return t, true
		}
	}
	return TargetSpec{}, false
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// formatValidation renders validator errors in the same list form as
// Config.Validate.
func formatValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "TargetsFile.")
		switch fe.Tag() {
		case "required", "required_unless", "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s (%q) must be one of: %s", field, fe.Value(), fe.Param()))
		case "unique":
			msgs = append(msgs, fmt.Sprintf("%s must have unique %s values", field, strings.ToLower(fe.Param())))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}
