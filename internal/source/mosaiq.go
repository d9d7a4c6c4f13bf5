package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/qaimport/internal/core"
)

// DefaultMosaiQStart is the first date searched when no cursor is stored.
var DefaultMosaiQStart = time.Date(1901, 1, 1, 0, 0, 0, 0, time.Local)

// Querier is the subset of pgx used by the MosaiQ source.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// MosaiQ reads assessment observation sets for one observation view.
// Each set is one record; its cursor is the creation date, and a run
// resumes just past the last handled set so sets sharing a day with it
// are still read.
type MosaiQ struct {
	DB        Querier
	ViewID    string
	PatientID string // optional filter
}

var _ core.Source = (*MosaiQ)(nil)

func (m *MosaiQ) CursorKind() core.CursorKind { return core.CursorDate }

// obsReq is one observation set header.
type obsReq struct {
	SetID   string
	Created time.Time
}

// Open lists the observation sets created in [start, end] (whole days) in
// creation order. A positioned start excludes the set it names and every
// set ordered before it. Observations are fetched per record.
func (m *MosaiQ) Open(ctx context.Context, r core.Range) (core.Batch, error) {
	start := r.Start
	if start.IsZero() {
		start = core.DateCursor(DefaultMosaiQStart)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT obr_set_id::text, create_dttm FROM obsreq
		WHERE view_obd_id = $1`)
	args := []any{m.ViewID, start.Date}
	if start.Positioned() {
		args = append(args, start.Key)
		sb.WriteString(" AND (create_dttm, obr_set_id::text) > ($2, $3)")
	} else {
		sb.WriteString(" AND create_dttm >= $2")
	}
	if !r.End.IsZero() {
		args = append(args, r.End.Next().Date)
		fmt.Fprintf(&sb, " AND create_dttm < $%d", len(args))
	}
	if m.PatientID != "" {
		args = append(args, m.PatientID)
		fmt.Fprintf(&sb, " AND pat_id1 = $%d", len(args))
	}
	sb.WriteString(" ORDER BY create_dttm, obr_set_id::text")

	rows, err := m.DB.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query observation sets: %w", err)
	}
	var reqs []obsReq
	var req obsReq
	_, err = pgx.ForEachRow(rows, []any{&req.SetID, &req.Created}, func() error {
		reqs = append(reqs, req)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read observation sets: %w", err)
	}

	return &mosaiqBatch{
		db:   m.DB,
		rng:  core.Range{Start: start, End: r.End},
		reqs: reqs,
	}, nil
}

type mosaiqBatch struct {
	db   Querier
	rng  core.Range
	reqs []obsReq
}

func (b *mosaiqBatch) Len() int { return len(b.reqs) }
func (b *mosaiqBatch) Range() core.Range { return b.rng }
func (b *mosaiqBatch) Close() error { return nil }

// Record fetches the observations of the i-th set.
func (b *mosaiqBatch) Record(ctx context.Context, i int) (core.Record, error) {
	if i < 0 || i >= len(b.reqs) {
		return core.Record{}, fmt.Errorf("record %d out of range (0-%d)", i, len(b.reqs)-1)
	}
	req := b.reqs[i]

	rows, err := b.db.Query(ctx, `SELECT obd_id::text, obs_float, obs_string
		FROM observe WHERE obr_set_id::text = $1 ORDER BY obx_id`, req.SetID)
	if err != nil {
		return core.Record{}, fmt.Errorf("query observations for set %s: %w", req.SetID, err)
	}

	var obs []core.Observation
	var code string
	var f *float64
	var s *string
	_, err = pgx.ForEachRow(rows, []any{&code, &f, &s}, func() error {
		o := core.Observation{Code: code, Float: core.Null(), Text: core.Null()}
		if f != nil {
			o.Float = core.Number(*f)
		}
		if s != nil {
			o.Text = core.Text(*s)
		}
		obs = append(obs, o)
		return nil
	})
	if err != nil {
		return core.Record{}, fmt.Errorf("read observations for set %s: %w", req.SetID, err)
	}

	return core.Record{
		Ref:          "Row " + req.SetID,
		Cursor:       core.DateCursor(req.Created),
		Next:         core.AfterCursor(req.Created, req.SetID),
		Time:         req.Created,
		Observations: obs,
	}, nil
}

// PoolConfig sizes the MosaiQ connection pool.
type PoolConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// OpenPool connects to the MosaiQ database and verifies the connection.
func OpenPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
