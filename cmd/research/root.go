package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/maltedev/product-research/internal/browser"
	"github.com/maltedev/product-research/internal/config"
	"github.com/maltedev/product-research/internal/database"
	"github.com/maltedev/product-research/internal/profile"
	"github.com/maltedev/product-research/internal/profit"
	"github.com/maltedev/product-research/internal/rates"
	"github.com/maltedev/product-research/pkg/logger"
)

// app carries what PersistentPreRunE loaded for the subcommands.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "research",
		Short:         "Browser-driven product research: paginate admin tables and estimate shipping profit",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger.NewWithOptions(logger.Options{
				Level:      cfg.Logging.Level,
				Format:     cfg.Logging.Format,
				File:       cfg.Logging.File,
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				MaxAgeDays: cfg.Logging.MaxAgeDays,
				Compress:   cfg.Logging.Compress,
			})
			slog.SetDefault(a.logger)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	root.AddCommand(
		newScrapeCmd(a),
		newProfitCmd(a),
		newChannelsCmd(a),
		newProfileCmd(a),
		newDoctorCmd(a),
		newServeCmd(a),
		newRelayCmd(a),
		newMigrateCmd(a),
	)
	return root
}

func (a *app) calculator() (*profit.Calculator, error) {
	channels, err := rates.ParseWorkbook(a.cfg.Rates.Workbook)
	if err != nil {
		return nil, err
	}
	a.logger.Info("rate table loaded", "workbook", a.cfg.Rates.Workbook, "channels", len(channels))
	return profit.NewCalculator(channels, a.cfg.Rates.ExchangeRate, a.cfg.Rates.CommissionRate, a.cfg.Rates.ExtraFees), nil
}

// browserOptions maps config onto session options, resolving the user-data
// directory and profile of the configured browser when not set explicitly.
func (a *app) browserOptions() (*browser.Options, error) {
	bc := a.cfg.Browser

	kind, err := profile.ParseKind(bc.Kind)
	if err != nil {
		return nil, err
	}

	opts := browser.DefaultOptions()
	opts.Channel = kind.Channel()
	opts.ExecutablePath = bc.ExecutablePath
	opts.Headless = bc.Headless
	opts.Args = bc.Args
	opts.Timeout = bc.Timeout
	opts.LockWait = bc.LockWait
	opts.LockPoll = bc.LockPoll
	opts.ViewportWidth = bc.ViewportWidth
	opts.ViewportHeight = bc.ViewportHeight
	opts.Locale = bc.Locale
	opts.TimezoneID = bc.TimezoneID
	opts.UserDataDir = bc.UserDataDir
	opts.ProfileDirectory = bc.Profile

	if opts.UserDataDir == "" {
		p, err := profile.NewResolver().Resolve(kind)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve browser profile: %w", err)
		}
		opts.UserDataDir = p.Root
		if opts.ProfileDirectory == "" {
			opts.ProfileDirectory = p.Name
		}
	}
	return opts, nil
}

func (a *app) openDatabase(ctx context.Context) (*database.DB, error) {
	dc := a.cfg.Database
	db, err := database.New(ctx, database.Config{
		Host:        dc.Host,
		Port:        dc.Port,
		User:        dc.User,
		Password:    dc.Password,
		Database:    dc.DBName,
		SSLMode:     dc.SSLMode,
		MaxConns:    dc.MaxConns,
		MinConns:    dc.MinConns,
		MaxConnLife: dc.MaxConnLife,
		MaxConnIdle: dc.MaxConnIdle,
	})
	if err != nil {
		return nil, err
	}

	if dc.Migrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}
