package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/qaimport/internal/core"
)

const sampleTargets = `
qatrack:
  url: http://qatrack.local/
  username: physicist
targets:
  - id: "1"
    name: CT Daily QA
    type: xlsx
    file: CTDailyQA.xlsx
  - utc: "6"
    type: MosaiQ
    view_id: "2435"
    patient_id: QA01
    mapping:
      "19607": [0, bool]
      "19661": {field: 1, kind: float}
      "19639": [user, str]
      "20269": {field: comment, kind: str}
`

func TestParseTargets(t *testing.T) {
	tf, err := ParseTargets([]byte(sampleTargets))
	if err != nil {
		t.Fatalf("ParseTargets() error = %v", err)
	}
	if len(tf.Targets) != 2 {
		t.Fatalf("len(Targets) = %d, want 2", len(tf.Targets))
	}

	ct := tf.Targets[0]
	if ct.Layout != "ct_daily" {
		t.Errorf("Layout = %q, want ct_daily default", ct.Layout)
	}
	if ct.DisplayName() != "CT Daily QA" {
		t.Errorf("DisplayName() = %q", ct.DisplayName())
	}

	mq, ok := tf.Find("6")
	if !ok {
		t.Fatal("Find(6) = false, want utc alias to set the id")
	}
	if mq.Type != TypeMosaiQ {
		t.Errorf("Type = %q, want %q", mq.Type, TypeMosaiQ)
	}
	if mq.CursorKind() != core.CursorDate || ct.CursorKind() != core.CursorRow {
		t.Errorf("CursorKind() = %v/%v, want date/row", mq.CursorKind(), ct.CursorKind())
	}
	want := core.FieldMapping{
		"19607": {Index: 0, Kind: core.KindBool},
		"19661": {Index: 1, Kind: core.KindFloat},
		"19639": {Role: core.RoleOperator, Kind: core.KindString},
		"20269": {Role: core.RoleComment, Kind: core.KindString},
	}
	if len(mq.FieldMapping) != len(want) {
		t.Fatalf("FieldMapping = %+v, want %+v", mq.FieldMapping, want)
	}
	for code, rule := range want {
		if mq.FieldMapping[code] != rule {
			t.Errorf("FieldMapping[%s] = %+v, want %+v", code, mq.FieldMapping[code], rule)
		}
	}
}

func TestParseTargets_DefaultMapping(t *testing.T) {
	tf, err := ParseTargets([]byte(`{"targets": [{"id": "6", "type": "mosaiq", "view_id": "2435"}]}`))
	if err != nil {
		t.Fatalf("ParseTargets() error = %v", err)
	}
	if got, want := len(tf.Targets[0].FieldMapping), len(core.DefaultMapping()); got != want {
		t.Errorf("len(FieldMapping) = %d, want %d", got, want)
	}
}

func TestParseTargets_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "no targets",
			doc:     "targets: []",
			wantErr: "targets",
		},
		{
			name:    "missing id",
			doc:     "targets:\n  - type: xlsx\n    file: a.xlsx",
			wantErr: "targets[0].id is required",
		},
		{
			name:    "unknown type",
			doc:     "targets:\n  - id: '1'\n    type: ods\n    file: a.ods",
			wantErr: "must be one of",
		},
		{
			name:    "sheet without file",
			doc:     "targets:\n  - id: '1'\n    type: xlsx",
			wantErr: "targets[0].file is required",
		},
		{
			name:    "mosaiq without view",
			doc:     "targets:\n  - id: '6'\n    type: mosaiq",
			wantErr: "targets[0].view_id is required",
		},
		{
			name:    "duplicate ids",
			doc:     "targets:\n  - id: '1'\n    type: xlsx\n    file: a.xlsx\n  - id: '1'\n    type: csv\n    file: b.csv",
			wantErr: "unique",
		},
		{
			name:    "mapping gap",
			doc:     "targets:\n  - id: '6'\n    type: mosaiq\n    view_id: '1'\n    mapping:\n      '10': [0, bool]\n      '11': [2, bool]",
			wantErr: "index 1 is not mapped",
		},
		{
			name:    "mapping unknown kind",
			doc:     "targets:\n  - id: '6'\n    type: mosaiq\n    view_id: '1'\n    mapping:\n      '10': [0, date]",
			wantErr: "mapping 10",
		},
		{
			name:    "mapping unknown role",
			doc:     "targets:\n  - id: '6'\n    type: mosaiq\n    view_id: '1'\n    mapping:\n      '10': [boss, str]",
			wantErr: "mapping 10",
		},
		{
			name:    "mapping wrong arity",
			doc:     "targets:\n  - id: '6'\n    type: mosaiq\n    view_id: '1'\n    mapping:\n      '10': [0]",
			wantErr: "[field, kind]",
		},
		{
			name:    "mapping on sheet target",
			doc:     "targets:\n  - id: '1'\n    type: xlsx\n    file: a.xlsx\n    mapping:\n      '10': [0, bool]",
			wantErr: "only applies to mosaiq",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTargets([]byte(tt.doc))
			if err == nil {
				t.Fatalf("ParseTargets() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleTargets), 0o644); err != nil {
		t.Fatal(err)
	}

	tf, err := LoadTargets(path)
	if err != nil {
		t.Fatalf("LoadTargets() error = %v", err)
	}

	qc := QATrackConfig{URL: "http://127.0.0.1:8080/", Username: "admin", Password: "admin"}
	tf.Apply(&qc)
	if qc.URL != "http://qatrack.local/" || qc.Username != "physicist" {
		t.Errorf("Apply() = %+v, want overrides from file", qc)
	}
	if qc.Password != "admin" {
		t.Errorf("Apply() replaced password with %q, want env value kept", qc.Password)
	}

	if _, err := LoadTargets(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadTargets() expected error for missing file")
	}
}
