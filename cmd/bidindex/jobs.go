package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/bidindex/internal/app"
	"github.com/alanyoungcy/bidindex/internal/cache/redis"
	"github.com/alanyoungcy/bidindex/internal/config"
	"github.com/alanyoungcy/bidindex/internal/domain"
)

func newJobsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and recover queued jobs",
	}
	cmd.AddCommand(
		newJobsListCmd(opts),
		newJobsRetryCmd(opts),
		newJobsStatsCmd(opts),
		newJobsArchiveCmd(opts),
	)
	return cmd
}

// openQueue connects to Redis only; the job commands need nothing else.
func openQueue(cmd *cobra.Command, opts *rootOptions) (domain.JobQueue, func(), error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, nil, err
	}
	rc := cfg.Redis
	client, err := redis.New(cmd.Context(), redis.ClientConfig{
		URL:        rc.URL,
		Addr:       rc.Addr,
		Password:   rc.Password,
		DB:         rc.DB,
		PoolSize:   rc.PoolSize,
		MaxRetries: rc.MaxRetries,
		TLSEnabled: rc.TLSEnabled,
	})
	if err != nil {
		return nil, nil, err
	}
	return redis.NewJobQueue(client, ""), func() { _ = client.Close() }, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newJobsListCmd(opts *rootOptions) *cobra.Command {
	var (
		state string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list <queue>",
		Short: "List retained jobs in a state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := openQueue(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			records, err := q.Records(cmd.Context(), args[0], domain.JobState(state), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, records)
		},
	}
	cmd.Flags().StringVar(&state, "state", string(domain.JobFailed), "job state: failed, completed, waiting, active or delayed")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to print")
	return cmd
}

func newJobsRetryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <queue> <job-id>",
		Short: "Move a failed job back to the wait list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := openQueue(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := q.Retry(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s requeued on %s\n", args[1], args[0])
			return nil
		},
	}
}

func newJobsStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <queue>",
		Short: "Print per-state job counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := openQueue(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			stats, err := q.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

func newJobsArchiveCmd(opts *rootOptions) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "archive <queue>",
		Short: "Upload the queue's failed jobs to object storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(func(c *config.Config) { c.Archive.Enabled = true })
			if err != nil {
				return err
			}
			deps, cleanup, err := app.Wire(cmd.Context(), cfg, opts.logger)
			if err != nil {
				return err
			}
			defer cleanup()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			res, err := deps.Archiver.ArchiveFailed(cmd.Context(), args[0], from)
			if err != nil {
				return err
			}
			if res.Count == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no failed jobs to archive")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d jobs to %s\n", res.Count, res.Path)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only archive jobs that failed within this window (0 for all)")
	return cmd
}
