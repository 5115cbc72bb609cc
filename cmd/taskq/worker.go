package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	taskq "github.com/PyNishanth/taskq-system"
	"github.com/PyNishanth/taskq-system/engine"
)

func newWorkerCmd(a *app) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage workers",
	}
	workerCmd.AddCommand(newWorkerRunCmd(a))
	return workerCmd
}

func newWorkerRunCmd(a *app) *cobra.Command {
	var (
		count  int
		poll   time.Duration
		queues []string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a worker pool until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.cfg.dispatcherConfig()
			if err != nil {
				return err
			}
			if count > 0 {
				cfg.Concurrency = count
			}
			if poll > 0 {
				cfg.PollInterval = poll
			}
			if len(queues) > 0 {
				cfg.Queues = queues
			}

			ctx, stop := signal.NotifyContext(cmd.Context(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			d, err := taskq.New(
				taskq.WithStore(s),
				taskq.WithConfig(cfg),
				taskq.WithLogger(a.logger),
			)
			if err != nil {
				return err
			}
			eng, err := engine.Build(d)
			if err != nil {
				return err
			}

			if err := eng.Start(ctx); err != nil {
				return err
			}
			a.logger.Info("worker pool started",
				"concurrency", cfg.Concurrency, "queues", cfg.Queues)

			<-ctx.Done()
			a.logger.Info("shutting down")
			return eng.Stop(context.Background())
		},
	}

	runCmd.Flags().IntVar(&count, "count", 0,
		"worker goroutine count (default from config)")
	runCmd.Flags().DurationVar(&poll, "poll", 0,
		"store poll interval (default from config)")
	runCmd.Flags().StringSliceVar(&queues, "queues", nil,
		"queues to consume (default from config)")
	return runCmd
}
