package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/bidindex/internal/app"
)

func newPropagateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "propagate <order-id>...",
		Short: "Enqueue received-bids fan-out for orders",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			deps, cleanup, err := app.Wire(cmd.Context(), cfg, opts.logger)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := deps.ReceivedBids.Enqueue(cmd.Context(), args...); err != nil {
				return err
			}
			opts.logger.Info("fan-out enqueued",
				slog.String("queue", cfg.Queue.Fanout.Name),
				slog.Int("orders", len(args)),
			)
			return nil
		},
	}
}
