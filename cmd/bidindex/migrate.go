package main

import (
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/bidindex/internal/store/postgres"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			pc := cfg.Postgres
			client, err := postgres.New(cmd.Context(), postgres.ClientConfig{
				DSN:      pc.DSN,
				Host:     pc.Host,
				Port:     pc.Port,
				Database: pc.Database,
				User:     pc.User,
				Password: pc.Password,
				SSLMode:  pc.SSLMode,
				MaxConns: pc.PoolMaxConns,
				MinConns: pc.PoolMinConns,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.RunMigrations(cmd.Context()); err != nil {
				return err
			}
			opts.logger.Info("migrations applied")
			return nil
		},
	}
}
