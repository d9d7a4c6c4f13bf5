package main

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/qaimport/internal/core"
)

type runFlags struct {
	start    string
	end      string
	dryRun   bool
	parallel int
}

func (c *cli) runCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run [target...]",
		Short: "Import new records into QATrack+",
		Long: `Run imports every record after the stored cursor of each named target,
or of every target when none is named.

--start and --end override the stored cursor and the source default for a
single target. Rows are spreadsheet row numbers; dates are YYYYMMDD.
With --dry-run records are read and mapped but nothing is submitted and
no progress is saved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runImport(cmd, args, f)
		},
	}

	cmd.Flags().StringVar(&f.start, "start", "", "first record to import (row or YYYYMMDD)")
	cmd.Flags().StringVar(&f.end, "end", "", "last record to import, inclusive")
	cmd.Flags().BoolVarP(&f.dryRun, "dry-run", "n", false, "map records without submitting")
	cmd.Flags().IntVarP(&f.parallel, "parallel", "p", 1, "targets to run at once")
	return cmd
}

func (c *cli) runImport(cmd *cobra.Command, ids []string, f runFlags) error {
	if (f.start != "" || f.end != "") && len(ids) != 1 {
		return errors.New("--start and --end need exactly one target")
	}

	ctx := cmd.Context()
	a, err := c.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := &lockedWriter{w: cmd.OutOrStdout()}
	opts := core.RunOptions{
		DryRun:   f.dryRun,
		OnStatus: func(msg string) { out.println(msg) },
	}

	if len(ids) == 1 {
		t, err := a.service.Target(ids[0])
		if err != nil {
			return err
		}
		opts.Range, err = core.ParseRange(t.Source.CursorKind(), f.start, f.end)
		if err != nil {
			return err
		}
		res, err := a.service.Run(ctx, t.ID, opts)
		if res != nil {
			printResult(out, res)
		}
		return err
	}

	results, err := a.service.RunAll(ctx, ids, opts, f.parallel)
	for _, br := range results {
		if br.Result != nil {
			printResult(out, br.Result)
		}
	}
	return err
}

func printResult(out *lockedWriter, res *core.RunResult) {
	line := fmt.Sprintf("[%s] %s: %d submitted, %d skipped", res.TargetID, res.Phase, res.Submitted, res.Skipped)
	if next := res.Resume.String(); next != "" {
		line += ", next " + next
	}
	if res.Error != "" {
		line += ": " + res.Error
	}
	out.println(line)
}

// lockedWriter serializes status lines from parallel runs.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) println(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}
