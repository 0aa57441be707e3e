package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maltedev/product-research/internal/browser"
	"github.com/maltedev/product-research/internal/database"
	"github.com/maltedev/product-research/internal/events"
	"github.com/maltedev/product-research/internal/queue"
	"github.com/maltedev/product-research/internal/ratelimit"
	"github.com/maltedev/product-research/internal/research"
	"github.com/maltedev/product-research/internal/sites"
	"github.com/maltedev/product-research/internal/storage"
)

func newScrapeCmd(a *app) *cobra.Command {
	var (
		url      string
		maxPages int
		noProfit bool
	)

	cmd := &cobra.Command{
		Use:   "scrape SITE [SITE...]",
		Short: "Paginate one or more site listings and save the extracted rows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			registry, err := sites.Load(a.cfg.Research.SitesFile)
			if err != nil {
				return err
			}
			for _, name := range args {
				if _, ok := registry.Lookup(name); !ok {
					return fmt.Errorf("%w: %s (known: %v)", research.ErrUnknownSite, name, registry.Names())
				}
			}
			if url != "" && len(args) > 1 {
				return fmt.Errorf("--url applies to a single site")
			}

			q := queue.NewInMemoryQueue()
			tasks := make([]*queue.Task, 0, len(args))
			for _, name := range args {
				tasks = append(tasks, queue.NewTask(name, url, maxPages, 0))
			}
			if err := queue.PushBatch(q, tasks); err != nil {
				return err
			}
			q.Close()

			var db *database.DB
			if a.cfg.Database.Enabled {
				db, err = a.openDatabase(ctx)
				if err != nil {
					return err
				}
				defer db.Close()
			}

			runner, cleanup, err := a.newRunner(registry, q, !noProfit, db)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := runner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			failed := 0
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, t := range tasks {
				summary, ok := runner.Summary(t.ID)
				if !ok {
					failed++
					continue
				}
				if summary.Error != "" {
					failed++
				}
				if err := enc.Encode(summary); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(tasks))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "listing URL (default: the site's start URL)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "page limit (default: the site's limit)")
	cmd.Flags().BoolVar(&noProfit, "no-profit", false, "skip profit enrichment")
	return cmd
}

// newRunner wires the research worker: browser session, result store,
// optional profit calculator and, when db is set, database events.
func (a *app) newRunner(registry *sites.Registry, q queue.Queue, withProfit bool, db *database.DB) (*research.Runner, func(), error) {
	rc := a.cfg.Research

	opts, err := a.browserOptions()
	if err != nil {
		return nil, nil, err
	}

	results, err := storage.NewResultStore(a.cfg.Storage.Dir)
	if err != nil {
		return nil, nil, err
	}

	opener := &research.SessionOpener{
		Options:  opts,
		Launcher: browser.PlaywrightLauncher{},
		Logger:   a.logger,
	}
	cleanups := []func(){opener.Close}

	runnerOpts := []research.Option{
		research.WithLimiter(ratelimit.NewAdaptiveRateLimiter(rc.RateLimitMin, rc.RateLimitMax)),
	}

	if withProfit {
		calc, err := a.calculator()
		if err != nil {
			a.logger.Warn("profit enrichment disabled", "error", err)
		} else {
			runnerOpts = append(runnerOpts, research.WithCalculator(calc))
		}
	}

	if db != nil {
		publisher := events.NewPublisher(database.NewResearchRepository(db), a.logger, events.Options{
			Stream: a.cfg.Redis.Stream,
		})
		runnerOpts = append(runnerOpts, research.WithPublisher(publisher))
	}

	runner := research.NewRunner(registry, opener, q, results, research.Config{
		MaxRetries:        rc.MaxRetries,
		NavigateRetries:   rc.NavigateRetries,
		DefaultMaxPages:   rc.MaxPages,
		PollInterval:      rc.PollInterval,
		PageChangeTimeout: rc.PageChangeTimeout,
		WriteXLSX:         a.cfg.Storage.WriteXLSX,
	}, a.logger, runnerOpts...)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return runner, cleanup, nil
}
