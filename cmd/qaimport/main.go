// Command qaimport imports QA measurements from spreadsheets and the MosaiQ
// database into QATrack+.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/qaimport/internal/config"
	"github.com/JonMunkholm/qaimport/internal/core"
	"github.com/JonMunkholm/qaimport/internal/logging"
)

// cli holds the flags shared by every command and the configuration they
// resolve to.
type cli struct {
	envFile     string
	targetsFile string
	logLevel    string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "qaimport",
		Short: "Import QA measurements into QATrack+",
		Long: `qaimport reads QA measurement records from spreadsheets and the MosaiQ
database, maps them onto QATrack+ test lists and submits them, resuming
each target from where its previous run stopped.

Settings come from the environment (and an optional .env file); the
targets themselves are listed in a YAML file.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "environment file to load, empty to skip")
	root.PersistentFlags().StringVarP(&c.targetsFile, "targets", "t", "", "targets file (overrides TARGETS_FILE)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	root.AddCommand(
		c.runCmd(),
		c.serveCmd(),
		c.targetsCmd(),
		c.progressCmd(),
		c.submitCmd(),
	)
	return root
}

// setup loads the environment file and configuration, then configures
// logging.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if c.envFile != "" {
		// Overload overwrites existing env vars
		if err := godotenv.Overload(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", c.envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.targetsFile != "" {
		cfg.Targets.File = c.targetsFile
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	logging.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	c.cfg = cfg
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		}
		stop()
		os.Exit(1)
	}
}
