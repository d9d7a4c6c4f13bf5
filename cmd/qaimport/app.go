package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/qaimport/internal/config"
	"github.com/JonMunkholm/qaimport/internal/core"
	"github.com/JonMunkholm/qaimport/internal/progress"
	"github.com/JonMunkholm/qaimport/internal/qatrack"
	"github.com/JonMunkholm/qaimport/internal/source"
)

// app is the wired import pipeline shared by the run and serve commands.
type app struct {
	cfg     *config.Config
	targets *config.TargetsFile
	store   progress.Store
	pool    *pgxpool.Pool
	service *core.Service
}

// loadTargets reads the targets file and applies its server overrides.
func (c *cli) loadTargets() (*config.TargetsFile, error) {
	tf, err := config.LoadTargets(c.cfg.Targets.File)
	if err != nil {
		return nil, err
	}
	tf.Apply(&c.cfg.QATrack)
	return tf, nil
}

func (c *cli) openStore(ctx context.Context) (progress.Store, error) {
	store, err := progress.Open(ctx, progress.Options{
		Backend: c.cfg.Progress.Backend,
		Path:    c.cfg.Progress.File,
		DSN:     c.cfg.Progress.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open progress store: %w", err)
	}
	return store, nil
}

func qatrackConfig(c config.QATrackConfig) qatrack.Config {
	return qatrack.Config{
		URL:             c.URL,
		Username:        c.Username,
		Password:        c.Password,
		Timeout:         c.Timeout,
		RetryMaxElapsed: c.ConnectRetry,
		Rate:            c.SubmitRate,
		ResponseFile:    c.ResponseFile,
		Strict:          c.StrictResponse,
	}
}

// newApp builds every configured target and the service that runs them.
// The MosaiQ pool is only opened when a mosaiq target is configured.
func (c *cli) newApp(ctx context.Context) (*app, error) {
	tf, err := c.loadTargets()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: c.cfg, targets: tf}

	if source.NeedsDatabase(tf) {
		if c.cfg.MosaiQ.URL == "" {
			return nil, source.ErrNoDatabase
		}
		a.pool, err = source.OpenPool(ctx, source.PoolConfig{
			URL:             c.cfg.MosaiQ.URL,
			MaxConns:        c.cfg.MosaiQ.MaxConns,
			MinConns:        c.cfg.MosaiQ.MinConns,
			MaxConnLifetime: c.cfg.MosaiQ.MaxConnLifetime,
			MaxConnIdleTime: c.cfg.MosaiQ.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("connected to MosaiQ database")
	}

	var db source.Querier
	if a.pool != nil {
		db = a.pool
	}
	targets, err := source.BuildAll(tf, db)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.store, err = c.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.service, err = core.NewService(
		qatrack.Connector(qatrackConfig(c.cfg.QATrack)),
		a.store,
		targets,
		core.ServiceOptions{
			MaxConcurrent: c.cfg.Run.MaxConcurrent,
			MaxWait:       c.cfg.Run.MaxWaitTime,
			RunTimeout:    c.cfg.Run.Timeout,
			HistorySize:   c.cfg.Run.HistorySize,
		},
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	slog.Info("targets loaded", "count", len(targets), "file", c.cfg.Targets.File)
	return a, nil
}

// Close releases the progress store and the database pool.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("failed to close progress store", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
