// Package progress persists per-target resume cursors.
//
// Every backend stores one cursor per QATrack+ test list id. The cursor is
// the next record to process, so a completed run that is started again
// resumes exactly where it stopped.
package progress

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/qaimport/internal/core"
)

// Store is a core.ProgressStore that can also enumerate and forget entries.
type Store interface {
	core.ProgressStore

	// All returns every stored cursor keyed by target id, as decoded.
	All(ctx context.Context) (map[string]core.Cursor, error)

	// Reset forgets the cursor for a target. Resetting an unknown target
	// is not an error.
	Reset(ctx context.Context, targetID string) error

	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	Path    string // progress file for the file backend, database path for sqlite
	DSN     string // connection string for postgres
}

// Open returns the store named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendFile:
		return NewFileStore(opts.Path), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		return OpenSQLite(ctx, opts.Path)
	case BackendPostgres:
		return OpenPostgres(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown progress backend %q", opts.Backend)
	}
}

// Targets returns the keys of m in sorted order.
func Targets(m map[string]core.Cursor) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func decode(raw core.Cursor, kind core.CursorKind) (core.Cursor, bool, error) {
	if raw.IsZero() {
		return core.Cursor{}, false, nil
	}
	c, err := raw.As(kind)
	if err != nil {
		return core.Cursor{}, false, err
	}
	return c, true, nil
}

// row is the column form shared by the SQL backends.
type row struct {
	kind     string
	position string
}

func encode(c core.Cursor) row {
	return row{kind: c.Kind.String(), position: c.String()}
}

func (r row) cursor() (core.Cursor, error) {
	switch r.kind {
	case core.CursorRow.String():
		return core.ParseCursor(core.CursorRow, r.position)
	case core.CursorDate.String():
		return core.ParseCursor(core.CursorDate, r.position)
	default:
		return core.Cursor{}, fmt.Errorf("unknown cursor kind %q", r.kind)
	}
}
