package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/bidindex/internal/config"
)

type rootOptions struct {
	configPath string
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "bidindex",
		Short:         "Index received bids per owner and trigger metadata reindexing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.toml", "path to configuration file")

	root.AddCommand(
		newRunCmd(opts),
		newMigrateCmd(opts),
		newPropagateCmd(opts),
		newJobsCmd(opts),
	)
	return root
}

// load reads the configuration, applies overrides from command flags,
// validates the result and installs the JSON logger at the configured level.
func (o *rootOptions) load(overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", o.configPath, err)
	}
	for _, apply := range overrides {
		apply(cfg)
	}
	o.logger = newLogger(cfg.LogLevel)
	slog.SetDefault(o.logger)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
