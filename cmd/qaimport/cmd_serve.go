package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/qaimport/internal/core"
	"github.com/JonMunkholm/qaimport/internal/web"
)

func (c *cli) serveCmd() *cobra.Command {
	var syncTargets []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the import dashboard and API",
		Long: `Serve starts the web dashboard and JSON API for starting, following and
cancelling imports. When SYNC_INTERVAL is set every target (or those given
with --sync) is also imported periodically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context(), syncTargets)
		},
	}
	cmd.Flags().StringSliceVar(&syncTargets, "sync", nil, "targets for the periodic sync (default: all)")
	return cmd
}

func (c *cli) serve(ctx context.Context, syncTargets []string) error {
	a, err := c.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"progress_backend", cfg.Progress.Backend,
		"run_max_concurrent", cfg.Run.MaxConcurrent,
		"sync_interval", cfg.Run.SyncInterval,
	)

	server := web.NewServer(a.service, a.store, web.Options{
		Server:            cfg.Server,
		Security:          cfg.Security,
		QATrackURL:        cfg.QATrack.URL,
		RequestsPerMinute: cfg.Security.RequestsPerMinute,
	})

	// Background jobs stop before the server drains.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()
	jobsDone := make(chan struct{})
	go func() {
		defer close(jobsDone)
		if cfg.Run.SyncInterval > 0 {
			a.service.StartSyncScheduler(jobCtx, core.SyncConfig{
				Interval: cfg.Run.SyncInterval,
				Targets:  syncTargets,
			})
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		cancelJobs()
		<-jobsDone
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	cancelJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if status := a.service.Limiter().Status(); status.Active > 0 {
		slog.Info("cancelling active runs", "active", status.Active)
	}
	if err := a.service.Shutdown(shutdownCtx); err != nil {
		slog.Warn("runs did not stop in time", "error", err)
	}
	<-jobsDone

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return err
	}
	slog.Info("server stopped")
	return nil
}
