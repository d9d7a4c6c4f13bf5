package source

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/qaimport/internal/config"
	"github.com/JonMunkholm/qaimport/internal/core"
	_ "github.com/JonMunkholm/qaimport/internal/core/layouts" // Register all layouts
)

// ErrNoDatabase is returned when a mosaiq target is configured without a
// database connection.
var ErrNoDatabase = errors.New("mosaiq target requires MOSAIQ_DATABASE_URL")

// Build turns a validated target spec into a runnable target. db may be nil
// when no observation-set target is configured.
func Build(spec config.TargetSpec, db Querier) (core.Target, error) {
	t := core.Target{ID: spec.ID, Name: spec.DisplayName(), Type: spec.Type}

	switch spec.Type {
	case TypeXLSX, TypeCSV:
		l, ok := core.Get(spec.Layout)
		if !ok {
			return core.Target{}, fmt.Errorf("target %s: unknown layout %q (available: %s)", spec.ID, spec.Layout, layoutKeys())
		}
		if spec.Columns != "" {
			first, last, ok := strings.Cut(strings.ToUpper(spec.Columns), ":")
			if !ok || first == "" || last == "" {
				return core.Target{}, fmt.Errorf("target %s: columns %q must look like B:AE", spec.ID, spec.Columns)
			}
			l.FirstColumn, l.LastColumn = first, last
		}

		var err error
		if spec.Type == TypeXLSX {
			t.Source, err = NewWorkbook(spec.File, spec.Sheet, l, spec.StartRow)
		} else {
			t.Source, err = NewCSVFile(spec.File, l, spec.StartRow)
		}
		if err != nil {
			return core.Target{}, fmt.Errorf("target %s: %w", spec.ID, err)
		}
		t.Mapper = core.NewPositionalMapper(l)

	case TypeMosaiQ:
		if db == nil {
			return core.Target{}, fmt.Errorf("target %s: %w", spec.ID, ErrNoDatabase)
		}
		mapper, err := core.NewCodedMapper(spec.FieldMapping)
		if err != nil {
			return core.Target{}, fmt.Errorf("target %s: %w", spec.ID, err)
		}
		t.Source = &MosaiQ{DB: db, ViewID: spec.ViewID, PatientID: spec.PatientID}
		t.Mapper = mapper

	default:
		return core.Target{}, fmt.Errorf("target %s: unknown type %q", spec.ID, spec.Type)
	}
	return t, nil
}

// BuildAll builds every target in tf.
func BuildAll(tf *config.TargetsFile, db Querier) ([]core.Target, error) {
	targets := make([]core.Target, 0, len(tf.Targets))
	for _, spec := range tf.Targets {
		t, err := Build(spec, db)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// NeedsDatabase reports whether any target reads observation sets.
func NeedsDatabase(tf *config.TargetsFile) bool {
	for _, t := range tf.Targets {
		if t.Type == TypeMosaiQ {
			return true
		}
	}
	return false
}

func layoutKeys() string {
	layouts := core.All()
	keys := make([]string, len(layouts))
	for i, l := range layouts {
		keys[i] = l.Key
	}
	return strings.Join(keys, ", ")
}
