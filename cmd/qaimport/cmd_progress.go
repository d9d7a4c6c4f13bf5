package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/qaimport/internal/config"
	"github.com/JonMunkholm/qaimport/internal/core"
	"github.com/JonMunkholm/qaimport/internal/progress"
)

func (c *cli) progressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect or edit stored resume cursors",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every stored cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := store.All(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range progress.Targets(all) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, all[id])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <target> <cursor>",
		Short: "Set the next record to import for a target",
		Long: `Set stores the cursor the next run of the target starts from: a row
number for spreadsheet targets, a date (YYYYMMDD) for mosaiq targets.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := c.findTarget(args[0])
			if err != nil {
				return err
			}
			cur, err := core.ParseCursor(t.CursorKind(), args[1])
			if err != nil {
				return err
			}
			if cur.IsZero() {
				return fmt.Errorf("cursor is required")
			}

			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Save(cmd.Context(), t.ID, cur); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: next %s\n", t.ID, cur)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <target>",
		Short: "Forget the stored cursor so the target starts from its source default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := c.findTarget(args[0])
			if err != nil {
				return err
			}
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Reset(cmd.Context(), t.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: reset\n", t.ID)
			return nil
		},
	})

	return cmd
}

func (c *cli) findTarget(id string) (config.TargetSpec, error) {
	tf, err := c.loadTargets()
	if err != nil {
		return config.TargetSpec{}, err
	}
	t, ok := tf.Find(id)
	if !ok {
		return config.TargetSpec{}, fmt.Errorf("%w: %s", core.ErrUnknownTarget, id)
	}
	return t, nil
}
