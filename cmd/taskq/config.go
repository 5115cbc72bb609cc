package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	taskq "github.com/PyNishanth/taskq-system"
)

// cliConfig is the YAML config file shape. Durations are strings in
// time.ParseDuration syntax so the file stays hand-editable.
type cliConfig struct {
	Store             string   `yaml:"store"`
	Queues            []string `yaml:"queues"`
	Concurrency       int      `yaml:"concurrency"`
	PollInterval      string   `yaml:"poll_interval"`
	LeaseDuration     string   `yaml:"lease_duration"`
	HeartbeatInterval string   `yaml:"heartbeat_interval"`
	ReclaimInterval   string   `yaml:"reclaim_interval"`
	MaxAttempts       int      `yaml:"max_attempts"`
	Timeout           string   `yaml:"timeout"`
	ShutdownTimeout   string   `yaml:"shutdown_timeout"`
	RetentionPeriod   string   `yaml:"retention_period"`
	RetentionInterval string   `yaml:"retention_interval"`
}

// defaultCLIConfig mirrors taskq.DefaultConfig in file form.
func defaultCLIConfig() *cliConfig {
	d := taskq.DefaultConfig()
	return &cliConfig{
		Store:             "memory://",
		Queues:            d.Queues,
		Concurrency:       d.Concurrency,
		PollInterval:      d.PollInterval.String(),
		LeaseDuration:     d.LeaseDuration.String(),
		HeartbeatInterval: d.HeartbeatInterval.String(),
		ReclaimInterval:   d.ReclaimInterval.String(),
		MaxAttempts:       d.DefaultMaxAttempts,
		Timeout:           d.DefaultTimeout.String(),
		ShutdownTimeout:   d.ShutdownTimeout.String(),
		RetentionPeriod:   "0s",
		RetentionInterval: d.RetentionInterval.String(),
	}
}

// loadConfig reads the YAML file at path over the defaults. An empty
// path returns the defaults unchanged.
func loadConfig(path string) (*cliConfig, error) {
	cfg := defaultCLIConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// dispatcherConfig converts the file form into a validated taskq.Config.
func (c *cliConfig) dispatcherConfig() (taskq.Config, error) {
	cfg := taskq.DefaultConfig()
	cfg.Concurrency = c.Concurrency
	cfg.DefaultMaxAttempts = c.MaxAttempts
	if len(c.Queues) > 0 {
		cfg.Queues = c.Queues
	}

	for _, d := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"poll_interval", c.PollInterval, &cfg.PollInterval},
		{"lease_duration", c.LeaseDuration, &cfg.LeaseDuration},
		{"heartbeat_interval", c.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"reclaim_interval", c.ReclaimInterval, &cfg.ReclaimInterval},
		{"timeout", c.Timeout, &cfg.DefaultTimeout},
		{"shutdown_timeout", c.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"retention_period", c.RetentionPeriod, &cfg.RetentionPeriod},
		{"retention_interval", c.RetentionInterval, &cfg.RetentionInterval},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return taskq.Config{}, fmt.Errorf("config %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return taskq.Config{}, err
	}
	return cfg, nil
}

// set applies a key=value pair using the YAML field names. Values are
// validated here so a bad set never reaches the file.
func (c *cliConfig) set(key, value string) error {
	switch key {
	case "store":
		c.Store = value
	case "queues":
		c.Queues = strings.Split(value, ",")
	case "concurrency", "max_attempts":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("config %s: want a positive integer, got %q", key, value)
		}
		if key == "concurrency" {
			c.Concurrency = n
		} else {
			c.MaxAttempts = n
		}
	default:
		dst, ok := map[string]*string{
			"poll_interval":      &c.PollInterval,
			"lease_duration":     &c.LeaseDuration,
			"heartbeat_interval": &c.HeartbeatInterval,
			"reclaim_interval":   &c.ReclaimInterval,
			"timeout":            &c.Timeout,
			"shutdown_timeout":   &c.ShutdownTimeout,
			"retention_period":   &c.RetentionPeriod,
			"retention_interval": &c.RetentionInterval,
		}[key]
		if !ok {
			return fmt.Errorf("unknown config key %q", key)
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("config %s: %w", key, err)
		}
		*dst = value
	}
	return nil
}

func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), a.cfg)
			}
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value and write it back to the config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.configPath == "" {
				return fmt.Errorf("config set needs --config to know where to write")
			}

			// Re-read the file rather than a.cfg so a --store override
			// from this invocation is not persisted as a side effect.
			// A missing file starts from the defaults and gets created.
			cfg := defaultCLIConfig()
			if _, err := os.Stat(a.configPath); err == nil {
				if cfg, err = loadConfig(a.configPath); err != nil {
					return err
				}
			}
			if err := cfg.set(args[0], args[1]); err != nil {
				return err
			}
			if _, err := cfg.dispatcherConfig(); err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(a.configPath, data, 0o644); err != nil {
				return fmt.Errorf("write config %s: %w", a.configPath, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	}

	configCmd.AddCommand(showCmd, setCmd)
	return configCmd
}
