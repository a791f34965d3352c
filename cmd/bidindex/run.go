package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/bidindex/internal/app"
	"github.com/alanyoungcy/bidindex/internal/config"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker, the HTTP API, or both",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(func(c *config.Config) {
				if mode != "" {
					c.Mode = mode
				}
			})
			if err != nil {
				return err
			}
			logger := opts.logger

			logger.Info("bidindex starting",
				slog.String("mode", cfg.Mode),
				slog.String("config", opts.configPath),
			)

			application := app.New(cfg, logger)
			defer application.Close()

			err = application.Run(cmd.Context())
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("application exited with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("bidindex stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "override the configured mode (worker, server, full)")
	return cmd
}
