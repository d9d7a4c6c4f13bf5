package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/qaimport/internal/qatrack"
)

func (c *cli) submitCmd() *cobra.Command {
	var (
		tests  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "submit <test-list-id>",
		Short: "Check connectivity by submitting a probe test list",
		Long: `Submit logs in to QATrack+ and posts one approved test list whose
tests all have the value 1. Use it against a scratch test list to check
credentials and the server URL before running an import.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tests < 1 {
				return errors.New("--tests must be at least 1")
			}
			// The targets file may override the server settings.
			if _, err := c.loadTargets(); err != nil && c.targetsFile != "" {
				return err
			}

			qc := qatrackConfig(c.cfg.QATrack)
			if output != "" {
				qc.ResponseFile = output
			}
			client, err := qatrack.Connect(cmd.Context(), qc)
			if err != nil {
				return err
			}

			body, err := client.Submit(cmd.Context(), args[0], qatrack.ProbeForm(tests, time.Now()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted %d tests to %s (%d byte response", tests, client.BaseURL(), len(body))
			if qc.ResponseFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " saved to %s", qc.ResponseFile)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ")")
			return nil
		},
	}
	cmd.Flags().IntVarP(&tests, "tests", "n", 1, "number of tests in the list")
	cmd.Flags().StringVarP(&output, "output", "o", "", "response file (overrides QATRACK_RESPONSE_FILE)")
	return cmd
}
