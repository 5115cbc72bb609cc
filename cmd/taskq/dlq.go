package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PyNishanth/taskq-system/dlq"
	"github.com/PyNishanth/taskq-system/id"
)

func newDLQCmd(a *app) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and manage the dead letter queue",
	}
	dlqCmd.AddCommand(
		newDLQListCmd(a),
		newDLQRequeueCmd(a),
		newDLQPurgeCmd(a),
	)
	return dlqCmd
}

func newDLQListCmd(a *app) *cobra.Command {
	var (
		limit  int
		offset int
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			jobs, err := dlq.NewService(s).List(ctx, limit, offset)
			if err != nil {
				return err
			}
			if len(jobs) == 0 && !a.jsonOut {
				fmt.Fprintln(cmd.OutOrStdout(), "dead letter queue is empty")
				return nil
			}
			return a.printJobs(cmd.OutOrStdout(), jobs)
		},
	}

	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs (0 = all)")
	listCmd.Flags().IntVar(&offset, "offset", 0, "number of jobs to skip")
	return listCmd
}

func newDLQRequeueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <job-id>",
		Short: "Requeue a dead job with a fresh attempt budget",
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

			if err := dlq.NewService(s).Requeue(ctx, jobID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", jobID)
			return nil
		},
	}
}

func newDLQPurgeCmd(a *app) *cobra.Command {
	var all bool

	purgeCmd := &cobra.Command{
		Use:   "purge [job-id]",
		Short: "Delete dead jobs permanently",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass either a job id or --all")
			}

			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			svc := dlq.NewService(s)
			if all {
				n, err := svc.PurgeAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d dead jobs\n", n)
				return nil
			}

			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return fmt.Errorf("parse job id %q: %w", args[0], err)
			}
			if err := svc.Purge(ctx, jobID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", jobID)
			return nil
		},
	}

	purgeCmd.Flags().BoolVar(&all, "all", false, "purge every dead job")
	return purgeCmd
}
