package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PyNishanth/taskq-system/id"
)

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a single job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return fmt.Errorf("parse job id %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			j, err := s.Get(ctx, jobID)
			if err != nil {
				return err
			}
			return a.printJob(cmd.OutOrStdout(), j)
		},
	}
}
