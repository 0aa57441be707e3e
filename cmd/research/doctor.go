package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/maltedev/product-research/internal/profile"
	"github.com/maltedev/product-research/internal/sites"
	"github.com/maltedev/product-research/internal/storage"
)

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check profile, rate table, storage and backing services",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			failed := runChecks(ctx, cmd.OutOrStdout(), a.checks())
			if failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}
			return nil
		},
	}
}

func runChecks(ctx context.Context, w io.Writer, checks []check) int {
	failed := 0
	for _, c := range checks {
		detail, err := c.run(ctx)
		if err != nil {
			failed++
			fmt.Fprintf(w, "[FAIL] %s: %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(w, "[ OK ] %s: %s\n", c.name, detail)
	}
	return failed
}

func (a *app) checks() []check {
	checks := []check{
		{"browser profile", func(context.Context) (string, error) {
			kind, err := profile.ParseKind(a.cfg.Browser.Kind)
			if err != nil {
				return "", err
			}
			p, err := profile.NewResolver().Resolve(kind)
			if err != nil {
				return "", err
			}
			if _, err := os.Stat(p.Root); err != nil {
				return "", fmt.Errorf("user data directory missing: %w", err)
			}
			if p.Locked {
				return "", fmt.Errorf("%s is in use (%v); close the browser first",
					p.Root, profile.PresentLockFiles(p.Root))
			}
			return fmt.Sprintf("%s (%s)", p.Root, p.Name), nil
		}},
		{"rate table", func(context.Context) (string, error) {
			calc, err := a.calculator()
			if err != nil {
				return "", err
			}
			if len(calc.Channels) == 0 {
				return "", fmt.Errorf("no channels in %s", a.cfg.Rates.Workbook)
			}
			return fmt.Sprintf("%d channels from %s", len(calc.Channels), a.cfg.Rates.Workbook), nil
		}},
		{"site profiles", func(context.Context) (string, error) {
			registry, err := sites.Load(a.cfg.Research.SitesFile)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%v", registry.Names()), nil
		}},
		{"result storage", func(context.Context) (string, error) {
			rs, err := storage.NewResultStore(a.cfg.Storage.Dir)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (%d runs)", rs.Dir(), len(rs.List())), nil
		}},
	}

	if a.cfg.Database.Enabled {
		checks = append(checks,
			check{"database", func(ctx context.Context) (string, error) {
				db, err := a.openDatabase(ctx)
				if err != nil {
					return "", err
				}
				defer db.Close()
				return a.cfg.Database.Host, nil
			}},
			check{"redis", func(ctx context.Context) (string, error) {
				client := a.redisClient()
				defer client.Close()
				if err := client.Ping(ctx).Err(); err != nil {
					return "", err
				}
				return a.cfg.Redis.Addr, nil
			}},
		)
	}
	return checks
}

func (a *app) redisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
}
