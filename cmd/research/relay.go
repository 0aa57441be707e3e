package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maltedev/product-research/internal/database"
)

func newRelayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Forward outbox events to the Redis stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Database.Enabled {
				return fmt.Errorf("database.enabled is false; nothing to relay")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := a.openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			redisClient := a.redisClient()
			defer redisClient.Close()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to connect to Redis: %w", err)
			}

			relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, a.logger, database.RelayConfig{
				PollInterval: a.cfg.Relay.PollInterval,
				BatchSize:    a.cfg.Relay.BatchSize,
				StreamMaxLen: a.cfg.Relay.StreamMaxLen,
			})

			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the research tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info("schema applied")
			return nil
		},
	}
}
