package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PyNishanth/taskq-system/store"
	bunstore "github.com/PyNishanth/taskq-system/store/bun"
	"github.com/PyNishanth/taskq-system/store/memory"
	"github.com/PyNishanth/taskq-system/store/mongo"
	"github.com/PyNishanth/taskq-system/store/postgres"
	redisstore "github.com/PyNishanth/taskq-system/store/redis"
	"github.com/PyNishanth/taskq-system/store/sqlite"
)

// app carries the flags and configuration shared by every subcommand.
type app struct {
	configPath string
	storeDSN   string
	jsonOut    bool

	cfg    *cliConfig
	logger *slog.Logger

	// storeFactory overrides DSN-based store construction in tests.
	storeFactory func(ctx context.Context) (store.Store, error)
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "taskq",
		Short:         "taskq is a persistent background job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.configPath)
			if err != nil {
				return err
			}
			if a.storeDSN != "" {
				cfg.Store = a.storeDSN
			}
			a.cfg = cfg
			a.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "",
		"path to a YAML config file")
	root.PersistentFlags().StringVar(&a.storeDSN, "store", "",
		"store DSN (memory:// | sqlite://PATH | postgres://… | redis://… | mongodb://…)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false,
		"emit machine-readable JSON")

	root.AddCommand(
		newEnqueueCmd(a),
		newGetCmd(a),
		newListCmd(a),
		newStatusCmd(a),
		newWorkerCmd(a),
		newDLQCmd(a),
		newConfigCmd(a),
	)
	return root
}

// openStore connects to the backend named by the configured DSN and
// runs its migrations.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	if a.storeFactory != nil {
		return a.storeFactory(ctx)
	}

	dsn := a.cfg.Store
	var (
		s   store.Store
		err error
	)
	switch {
	case dsn == "" || dsn == "memory://":
		s = memory.New()
	case strings.HasPrefix(dsn, "sqlite://"):
		s, err = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"),
			sqlite.WithLogger(a.logger))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err = postgres.New(ctx, dsn, postgres.WithLogger(a.logger))
	case strings.HasPrefix(dsn, "bun+postgres://"):
		s = bunstore.NewFromDSN(strings.TrimPrefix(dsn, "bun+"),
			bunstore.WithLogger(a.logger))
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		s, err = redisstore.NewFromURL(dsn, redisstore.WithLogger(a.logger))
	case strings.HasPrefix(dsn, "mongodb://"), strings.HasPrefix(dsn, "mongodb+srv://"):
		s, err = mongo.NewFromURI(ctx, dsn, "taskq", mongo.WithLogger(a.logger))
	default:
		return nil, fmt.Errorf("unsupported store DSN %q", dsn)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
