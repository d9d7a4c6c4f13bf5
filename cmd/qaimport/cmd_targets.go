package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *cli) targetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List configured targets and their resume cursors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			tf, err := c.loadTargets()
			if err != nil {
				return err
			}
			store, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tNEXT")
			for _, t := range tf.Targets {
				next := "source default"
				cur, ok, err := store.Load(ctx, t.ID, t.CursorKind())
				if err != nil {
					return err
				}
				if ok {
					next = cur.String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.DisplayName(), t.Type, next)
			}
			return tw.Flush()
		},
	}
}
