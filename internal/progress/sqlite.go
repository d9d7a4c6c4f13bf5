package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/qaimport/internal/core"
)

// DefaultSQLiteFile is the database used when no path is configured.
const DefaultSQLiteFile = "progress.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS qa_import_progress (
	target_id  TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	position   TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps cursors in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" || path == DefaultFile {
		path = DefaultSQLiteFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; concurrent runs serialize through the pool.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		sqliteSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize progress database: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, targetID string, kind core.CursorKind) (core.Cursor, bool, error) {
	var r row
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, position FROM qa_import_progress WHERE target_id = ?`, targetID,
	).Scan(&r.kind, &r.position)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Cursor{}, false, nil
	}
	if err != nil {
		return core.Cursor{}, false, fmt.Errorf("failed to load progress: %w", err)
	}

	raw, err := r.cursor()
	if err != nil {
		return core.Cursor{}, false, fmt.Errorf("progress for %s: %w", targetID, err)
	}
	return decode(raw, kind)
}

func (s *SQLiteStore) Save(ctx context.Context, targetID string, c core.Cursor) error {
	r := encode(c)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qa_import_progress (target_id, kind, position, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (target_id)
		DO UPDATE SET kind = excluded.kind, position = excluded.position, updated_at = CURRENT_TIMESTAMP`,
		targetID, r.kind, r.position,
	)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) All(ctx context.Context) (map[string]core.Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT target_id, kind, position FROM qa_import_progress`)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	all := make(map[string]core.Cursor)
	for rows.Next() {
		var id string
		var r row
		if err := rows.Scan(&id, &r.kind, &r.position); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		c, err := r.cursor()
		if err != nil {
			return nil, fmt.Errorf("progress for %s: %w", id, err)
		}
		all[id] = c
	}
	return all, rows.Err()
}

func (s *SQLiteStore) Reset(ctx context.Context, targetID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM qa_import_progress WHERE target_id = ?`, targetID); err != nil {
		return fmt.Errorf("failed to reset progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
