package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"netoffice/internal/approval"
	"netoffice/internal/archive"
	"netoffice/internal/config"
	"netoffice/internal/logging"
	"netoffice/internal/queue"
	"netoffice/internal/store"
)

// Worker consumes queue messages and archives entries and resolutions.
func main() {
	root := &cobra.Command{
		Use:           "netoffice-worker",
		Short:         "Archive attendance entries and approval resolutions from the event queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withArchive(cmd, runWorker)
		},
	}
	root.PersistentFlags().String("config", "", "config file (yaml, json or toml)")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create the archive tables and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withArchive(cmd, func(context.Context, config.App, *archive.Repository, *logrus.Logger) error {
				return nil
			})
		},
	}

	report := &cobra.Command{
		Use:   "report",
		Short: "Print archived entries and resolutions as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			limit, _ := cmd.Flags().GetInt("limit")
			return withArchive(cmd, func(ctx context.Context, _ config.App, repo *archive.Repository, _ *logrus.Logger) error {
				entries, err := repo.ListEntries(ctx, owner, limit, 0)
				if err != nil {
					return fmt.Errorf("list entries: %w", err)
				}
				resolutions, err := repo.ListResolutions(ctx, limit, approval.Approved, approval.Rejected)
				if err != nil {
					return fmt.Errorf("list resolutions: %w", err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"entries": entries, "resolutions": resolutions})
			})
		},
	}
	report.Flags().String("owner", "", "only entries of this user")
	report.Flags().Int("limit", 50, "maximum rows per table")

	root.AddCommand(migrate, report)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type archiveFunc func(ctx context.Context, cfg config.App, repo *archive.Repository, log *logrus.Logger) error

// withArchive loads config, opens and migrates the archive database, then runs fn.
func withArchive(cmd *cobra.Command, fn archiveFunc) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New("netoffice-worker", cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect failed: %w", err)
	}
	defer db.Close()

	repo := archive.NewRepository(db.Client, db.Driver)
	if err := repo.Migrate(ctx); err != nil {
		return err
	}
	return fn(ctx, cfg, repo, log)
}

func runWorker(ctx context.Context, cfg config.App, repo *archive.Repository, log *logrus.Logger) error {
	if cfg.QueueBackend == "memory" {
		return errors.New("the memory queue lives inside the api process; run the worker with QUEUE_BACKEND=redis")
	}
	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.WithField("addr", cfg.RedisAddr).Warn("redis not reachable yet, consumer will retry")
	}

	w := &archive.Worker{
		Queue: queue.NewRedisQueue(redisClient.Client, cfg.QueueKey),
		Repo:  repo,
		Log:   log.WithField("queue", cfg.QueueKey),
	}
	return w.Run(ctx)
}
