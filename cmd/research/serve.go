package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/product-research/internal/api"
	"github.com/maltedev/product-research/internal/database"
	"github.com/maltedev/product-research/internal/events"
	"github.com/maltedev/product-research/internal/profile"
	"github.com/maltedev/product-research/internal/profit"
	"github.com/maltedev/product-research/internal/queue"
	"github.com/maltedev/product-research/internal/research"
	"github.com/maltedev/product-research/internal/sites"
)

func newServeCmd(a *app) *cobra.Command {
	var noWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the research worker and the outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, !noWorker)
		},
	}

	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve the API without the browser worker")
	return cmd
}

func (a *app) serve(ctx context.Context, withWorker bool) error {
	calc, err := a.calculator()
	if err != nil {
		a.logger.Warn("rate table unavailable, profit endpoints will reject every product", "error", err)
		calc = profit.NewCalculator(nil, a.cfg.Rates.ExchangeRate, a.cfg.Rates.CommissionRate, a.cfg.Rates.ExtraFees)
	}

	registry, err := sites.Load(a.cfg.Research.SitesFile)
	if err != nil {
		return err
	}

	deps := api.Deps{
		Calculator: calc,
		Resolver:   profile.NewResolver(),
		Sites:      registry,
	}

	// Everything that can fail is built before the first goroutine starts.
	var (
		db    *database.DB
		relay *database.Relay
	)
	if a.cfg.Database.Enabled {
		db, err = a.openDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		redisClient := a.redisClient()
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}

		relay = database.NewRelay(database.NewOutboxRepository(db), redisClient, a.logger, database.RelayConfig{
			PollInterval: a.cfg.Relay.PollInterval,
			BatchSize:    a.cfg.Relay.BatchSize,
			StreamMaxLen: a.cfg.Relay.StreamMaxLen,
		})
		deps.Outbox = relay
		deps.Publisher = events.NewPublisher(database.NewResearchRepository(db), a.logger, events.Options{
			Stream: a.cfg.Redis.Stream,
			Source: "product-research-api",
		})
	}

	var (
		q      *queue.InMemoryQueue
		runner *research.Runner
	)
	if withWorker {
		q = queue.NewInMemoryQueue()
		var cleanup func()
		runner, cleanup, err = a.newRunner(registry, q, true, db)
		if err != nil {
			return err
		}
		defer cleanup()

		deps.Queue = q
		deps.Runs = runner.Results()
	}

	g, ctx := errgroup.WithContext(ctx)

	if relay != nil {
		g.Go(func() error {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if runner != nil {
		g.Go(func() error {
			<-ctx.Done()
			return q.Close()
		})
		g.Go(func() error {
			if err := runner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	sc := a.cfg.Server
	server := &http.Server{
		Addr:         sc.Addr(),
		Handler:      api.NewRouter(api.NewHandlers(deps, a.logger), sc.AllowedOrigins),
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
	}

	g.Go(func() error {
		a.logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	a.logger.Info("server stopped")
	return err
}
