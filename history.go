package main

import (
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistoryList(cmd, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")

	cmd.AddCommand(&cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run and its failed files",
		Long:  "Show the summary of one recorded run. A unique prefix of the run id is enough.",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	})

	return cmd
}

func runHistoryList(cmd *cobra.Command, limit int) error {
	cc := mustCLIContext(cmd.Context())

	store, err := cc.openHistory(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		out := make([]summaryJSON, 0, len(runs))
		for i := range runs {
			out = append(out, summaryJSON{RunID: runs[i].ID, Summary: &runs[i].Summary})
		}

		return writeJSON(cmd.OutOrStdout(), out)
	}

	printRuns(cmd.OutOrStdout(), runs)

	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	store, err := cc.openHistory(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()

	if !cc.Flags.JSON {
		printTable(w, []string{"COMMAND", "SOURCE", "DEST", "STARTED", "OUTCOME"}, [][]string{
			{run.Command, run.Source, run.Dest, formatTime(run.Summary.StartedAt), runOutcome(run.Summary)},
		})
	}

	return printSummary(w, run.ID, &run.Summary, cc.Flags.JSON)
}
