package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/PyNishanth/taskq-system/job"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-state job counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			counts, err := s.Counts(ctx)
			if err != nil {
				return err
			}

			if a.jsonOut {
				out := make(map[string]int64, len(job.States))
				for _, st := range job.States {
					out[string(st)] = counts[st]
				}
				return printJSON(cmd.OutOrStdout(), out)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			var total int64
			for _, st := range job.States {
				fmt.Fprintf(tw, "%s\t%d\n", st, counts[st])
				total += counts[st]
			}
			fmt.Fprintf(tw, "total\t%d\n", total)
			return tw.Flush()
		},
	}
}
