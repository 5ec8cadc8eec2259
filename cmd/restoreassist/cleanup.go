package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/restoreassist/pkg/config"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run the housekeeping jobs once",
	Long: `Delete expired invitations and API key usage logs past API_KEY_LOG_RETENTION.
When S3 is configured, also delete cached downloads older than
FILES_DOWNLOAD_CACHE_TTL and evict the oldest ones until the cache fits in
FILES_DOWNLOAD_CACHE_MAX_BYTES. serve runs the same jobs on CLEANUP_SCHEDULE.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		logger := newLogger(cfg)
		ctx := context.Background()

		b, err := openBackends(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer b.close()

		runner := housekeeping(cfg, logger, nil, b)
		if err := runner.RunOnce(ctx); err != nil {
			return err
		}
		log.WithField("jobs", runner.Jobs()).Info("cleanup finished")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
