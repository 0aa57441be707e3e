package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/product-research/internal/browser"
	"github.com/maltedev/product-research/internal/models"
	"github.com/maltedev/product-research/internal/paginator"
	"github.com/maltedev/product-research/internal/parser"
	"github.com/maltedev/product-research/internal/profile"
	"github.com/maltedev/product-research/internal/profit"
	"github.com/maltedev/product-research/internal/queue"
	"github.com/maltedev/product-research/internal/ratelimit"
	"github.com/maltedev/product-research/internal/sites"
	"github.com/maltedev/product-research/internal/storage"
)

var ErrUnknownSite = errors.New("unknown site")

// ErrLaunch wraps every failure to open the browser session. A run that
// cannot launch fails without retry.
var ErrLaunch = errors.New("failed to open session")

// Driver is the page access a run needs. *browser.PageDriver implements it.
type Driver interface {
	NavigateWithRetry(ctx context.Context, url string, maxRetries int) error
	IsVisible(selector string) bool
	WaitVisible(selector string, timeout time.Duration) error
	Content() (string, error)
}

// Opener hands out the page of the active session for a site.
type Opener interface {
	Open(ctx context.Context, site sites.Site) (Driver, paginator.Surface, error)
}

type RunPublisher interface {
	PublishRunCompleted(ctx context.Context, run *models.Run) error
}

type Limiter interface {
	Wait(ctx context.Context) error
	RecordSuccess()
	RecordError()
}

type Config struct {
	MaxRetries        int
	NavigateRetries   int
	DefaultMaxPages   int
	PollInterval      time.Duration
	PageChangeTimeout time.Duration
	WriteXLSX         bool
}

// Runner works through research tasks one at a time on the single browser
// session.
type Runner struct {
	sites     *sites.Registry
	opener    Opener
	queue     queue.Queue
	results   *storage.ResultStore
	limiter   Limiter
	calc      *profit.Calculator
	publisher RunPublisher
	config    Config
	logger    *slog.Logger
}

type Option func(*Runner)

// WithCalculator enables profit enrichment of records carrying weight_kg
// and price_rub.
func WithCalculator(calc *profit.Calculator) Option {
	return func(r *Runner) { r.calc = calc }
}

func WithPublisher(p RunPublisher) Option {
	return func(r *Runner) { r.publisher = p }
}

func WithLimiter(l Limiter) Option {
	return func(r *Runner) { r.limiter = l }
}

func NewRunner(registry *sites.Registry, opener Opener, q queue.Queue, results *storage.ResultStore, config Config, logger *slog.Logger, opts ...Option) *Runner {
	if config.NavigateRetries <= 0 {
		config.NavigateRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		sites:   registry,
		opener:  opener,
		queue:   q,
		results: results,
		config:  config,
		logger:  logger.With("component", "research_runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.limiter == nil {
		r.limiter = ratelimit.NewAdaptiveRateLimiter(5*time.Second, 30*time.Second)
	}
	return r
}

// Summary looks up a persisted run.
func (r *Runner) Summary(id string) (*models.RunSummary, bool) {
	return r.results.Get(id)
}

func (r *Runner) Results() *storage.ResultStore {
	return r.results
}

// Start processes tasks until the queue is closed and drained or ctx is
// done. Task failures are logged and do not stop the worker.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("research worker started")

	for {
		task, err := r.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				r.logger.Info("research worker stopping, queue closed")
				return nil
			}
			r.logger.Info("research worker stopping")
			return err
		}

		if _, err := r.Process(ctx, task); err != nil {
			r.logger.Error("task failed", "task_id", task.ID, "site", task.Site, "error", err)
		}
	}
}

// Process runs one task, retrying navigation and extraction failures, and
// persists the final run. The returned run is nil only when the task never started.
func (r *Runner) Process(ctx context.Context, task *queue.Task) (*models.Run, error) {
	site, ok := r.sites.Lookup(task.Site)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, task.Site)
	}

	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		run, err := r.runOnce(ctx, site, task)
		if err == nil {
			r.limiter.RecordSuccess()
			return run, r.persist(ctx, run)
		}

		r.limiter.RecordError()
		if task.Retries >= r.config.MaxRetries || !retryable(ctx, err) {
			if perr := r.persist(ctx, run); perr != nil {
				r.logger.Error("failed to persist failed run", "run_id", run.ID, "error", perr)
			}
			return run, err
		}

		task.Retries++
		r.logger.Warn("retrying task",
			"task_id", task.ID,
			"site", task.Site,
			"attempt", task.Retries+1,
			"error", err)
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrLaunch) &&
		!errors.Is(err, profile.ErrUnsupportedPlatform) &&
		!errors.Is(err, browser.ErrExecutableNotFound) &&
		!errors.Is(err, browser.ErrProfileBusy) &&
		!errors.Is(err, browser.ErrSessionActive)
}

func (r *Runner) runOnce(ctx context.Context, site sites.Site, task *queue.Task) (*models.Run, error) {
	url := task.URL
	if url == "" {
		url = site.StartURL
	}

	run := &models.Run{
		ID:        task.ID,
		Site:      site.Name,
		URL:       url,
		Status:    models.RunStatusRunning,
		Pages:     []int{},
		Records:   []models.Record{},
		StartedAt: time.Now(),
	}

	fail := func(err error) (*models.Run, error) {
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
		run.FinishedAt = time.Now()
		return run, err
	}

	driver, surface, err := r.opener.Open(ctx, site)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrLaunch, err))
	}

	if err := driver.NavigateWithRetry(ctx, url, r.config.NavigateRetries); err != nil {
		return fail(err)
	}

	if err := r.waitForLogin(driver, site); err != nil {
		return fail(err)
	}

	table := parser.NewTableParser(site.Selectors.Root, site.Selectors.Item, site.Columns)
	pg := paginator.New(surface, paginator.Config{
		MaxPages:     r.maxPages(site, task),
		APIResponse:  site.APIResponse,
		PollInterval: r.config.PollInterval,
		Timeout:      r.config.PageChangeTimeout,
		Settle:       site.Settle,
	}, r.logger)

	r.logger.Info("starting pagination", "task_id", task.ID, "site", site.Name, "url", url)

	result, err := pg.Run(ctx, func(ctx context.Context, page int) ([]models.Record, error) {
		html, err := driver.Content()
		if err != nil {
			return nil, err
		}
		return table.ParseRows(html)
	})
	if result != nil {
		run.Pages = append(run.Pages, result.Pages...)
		run.StopReason = string(result.StopReason)
		run.Records = r.enrich(result.Records)
	}
	if err != nil {
		return fail(err)
	}

	run.Status = models.RunStatusCompleted
	run.FinishedAt = time.Now()
	return run, nil
}

func (r *Runner) maxPages(site sites.Site, task *queue.Task) int {
	switch {
	case task.MaxPages > 0:
		return task.MaxPages
	case site.MaxPages > 0:
		return site.MaxPages
	}
	return r.config.DefaultMaxPages
}

// waitForLogin gives the user LoginWait to log in by hand when the
// logged-in marker is missing.
func (r *Runner) waitForLogin(driver Driver, site sites.Site) error {
	if site.LoginCheck == "" || driver.IsVisible(site.LoginCheck) {
		return nil
	}

	r.logger.Info("login required, waiting for manual login",
		"site", site.Name,
		"timeout", site.LoginWait)

	if err := driver.WaitVisible(site.LoginCheck, site.LoginWait); err != nil {
		return fmt.Errorf("login not detected on %s: %w", site.Name, err)
	}

	r.logger.Info("login detected", "site", site.Name)
	return nil
}

func (r *Runner) persist(ctx context.Context, run *models.Run) error {
	path, err := r.results.Save(run)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	r.logger.Info("run saved",
		"run_id", run.ID,
		"status", run.Status,
		"pages", len(run.Pages),
		"records", len(run.Records),
		"stop_reason", run.StopReason,
		"file", path)

	if r.config.WriteXLSX && len(run.Records) > 0 {
		xlsxPath := strings.TrimSuffix(path, ".json") + ".xlsx"
		if err := storage.WriteXLSX(xlsxPath, run.Records); err != nil {
			r.logger.Error("failed to write workbook", "run_id", run.ID, "error", err)
		}
	}

	if r.publisher != nil {
		if err := r.publisher.PublishRunCompleted(ctx, run); err != nil {
			r.logger.Error("failed to publish run", "run_id", run.ID, "error", err)
		}
	}

	return nil
}
