package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PyNishanth/taskq-system/job"
)

func newEnqueueCmd(a *app) *cobra.Command {
	var (
		queue       string
		maxAttempts int
		timeout     time.Duration
		at          string
	)

	enqueueCmd := &cobra.Command{
		Use:   "enqueue <command...>",
		Short: "Enqueue a shell command as a job",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.TrimSpace(strings.Join(args, " "))
			if command == "" {
				return fmt.Errorf("empty command")
			}

			opts := job.Options{
				Queue:       queue,
				MaxAttempts: maxAttempts,
				Timeout:     timeout,
			}
			if opts.MaxAttempts == 0 {
				opts.MaxAttempts = a.cfg.MaxAttempts
			}
			if opts.Timeout == 0 {
				var err error
				if opts.Timeout, err = time.ParseDuration(a.cfg.Timeout); err != nil {
					return fmt.Errorf("config timeout: %w", err)
				}
			}
			if at != "" {
				runAt, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("parse --at %q: %w", at, err)
				}
				opts.RunAt = runAt
			}

			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			j := job.New("", []byte(command), opts)
			if err := s.Create(ctx, j); err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}

			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), j)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s on queue %q\n", j.ID, j.Queue)
			return nil
		},
	}

	enqueueCmd.Flags().StringVar(&queue, "queue", "default", "queue name")
	enqueueCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0,
		"total attempt budget (default from config)")
	enqueueCmd.Flags().DurationVar(&timeout, "timeout", 0,
		"per-attempt wall clock budget (default from config)")
	enqueueCmd.Flags().StringVar(&at, "at", "",
		"schedule the first run at an RFC3339 time instead of now")
	return enqueueCmd
}
