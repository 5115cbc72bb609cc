package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PyNishanth/taskq-system/job"
)

func newListCmd(a *app) *cobra.Command {
	var (
		state  string
		queue  string
		limit  int
		offset int
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := job.Filter{
				Queue:  queue,
				Limit:  limit,
				Offset: offset,
			}
			if state != "" {
				st := job.State(state)
				if !st.Valid() {
					return fmt.Errorf("unknown state %q (valid: %v)", state, job.States)
				}
				filter.States = []job.State{st}
			}

			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			jobs, err := s.List(ctx, filter)
			if err != nil {
				return err
			}
			if len(jobs) == 0 && !a.jsonOut {
				fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
				return nil
			}
			return a.printJobs(cmd.OutOrStdout(), jobs)
		},
	}

	listCmd.Flags().StringVar(&state, "state", "", "filter by state")
	listCmd.Flags().StringVar(&queue, "queue", "", "filter by queue")
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs (0 = all)")
	listCmd.Flags().IntVar(&offset, "offset", 0, "number of jobs to skip")
	return listCmd
}
