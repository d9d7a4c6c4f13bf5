package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/qaimport/internal/core"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS qa_import_progress (
	target_id  TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	position   TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// DBTX is the subset of pgx used by PostgresStore. Both *pgxpool.Pool and
// pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps cursors in the qa_import_progress table.
type PostgresStore struct {
	db   DBTX
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, creates the progress table if needed and
// returns a store that owns the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres progress backend requires PROGRESS_DSN")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create progress pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping progress database: %w", err)
	}

	s := &PostgresStore{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing connection. The caller owns it.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the progress table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to create progress table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, targetID string, kind core.CursorKind) (core.Cursor, bool, error) {
	var r row
	err := s.db.QueryRow(ctx,
		`SELECT kind, position FROM qa_import_progress WHERE target_id = $1`, targetID,
	).Scan(&r.kind, &r.position)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PostgresStore) Save(ctx context.Context, targetID string, c core.Cursor) error {
	r := encode(c)
	_, err := s.db.Exec(ctx, `
		INSERT INTO qa_import_progress (target_id, kind, position, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (target_id)
		DO UPDATE SET kind = EXCLUDED.kind, position = EXCLUDED.position, updated_at = now()`,
		targetID, r.kind, r.position,
	)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) All(ctx context.Context) (map[string]core.Cursor, error) {
	rows, err := s.db.Query(ctx, `SELECT target_id, kind, position FROM qa_import_progress`)
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

func (s *PostgresStore) Reset(ctx context.Context, targetID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM qa_import_progress WHERE target_id = $1`, targetID); err != nil {
		return fmt.Errorf("failed to reset progress: %w", err)
	}
	return nil
}

// Close releases the pool when the store opened it.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
