package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

var (
	ErrTimeout  = errors.New("page operation timed out")
	ErrNotFound = errors.New("element not found")
)

// PageDriver exposes the handful of page primitives the research flows need.
type PageDriver struct {
	page    playwright.Page
	timeout time.Duration
	logger  *slog.Logger
}

func NewPageDriver(page playwright.Page, timeout time.Duration, logger *slog.Logger) *PageDriver {
	if timeout <= 0 {
		timeout = DefaultOptions().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PageDriver{
		page:    page,
		timeout: timeout,
		logger:  logger.With("component", "page_driver"),
	}
}

func (d *PageDriver) Page() playwright.Page {
	return d.page
}

func (d *PageDriver) Navigate(url string) error {
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   d.ms(d.timeout),
	})
	if err != nil {
		d.logger.Warn("navigation failed", "url", url, "error", err)
		return classifyError(fmt.Errorf("navigate %s: %w", url, err))
	}
	return nil
}

func (d *PageDriver) NavigateWithRetry(ctx context.Context, url string, maxRetries int) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			d.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * time.Second):
			}
		}

		if lastErr = d.Navigate(url); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

func (d *PageDriver) Click(selector string) error {
	loc, err := d.first(selector)
	if err != nil {
		return err
	}
	if err := loc.Click(playwright.LocatorClickOptions{Timeout: d.ms(d.timeout)}); err != nil {
		d.logger.Warn("click failed", "selector", selector, "error", err)
		return classifyError(fmt.Errorf("click %s: %w", selector, err))
	}
	return nil
}

func (d *PageDriver) Fill(selector, value string) error {
	loc, err := d.first(selector)
	if err != nil {
		return err
	}
	if err := loc.Fill(value, playwright.LocatorFillOptions{Timeout: d.ms(d.timeout)}); err != nil {
		d.logger.Warn("fill failed", "selector", selector, "error", err)
		return classifyError(fmt.Errorf("fill %s: %w", selector, err))
	}
	return nil
}

func (d *PageDriver) WaitVisible(selector string, timeout time.Duration) error {
	err := d.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: d.ms(timeout),
	})
	if err != nil {
		return classifyError(fmt.Errorf("wait for %s: %w", selector, err))
	}
	return nil
}

func (d *PageDriver) IsVisible(selector string) bool {
	visible, err := d.page.Locator(selector).First().IsVisible()
	return err == nil && visible
}

func (d *PageDriver) Eval(script string, args ...any) (any, error) {
	result, err := d.page.Evaluate(script, args...)
	if err != nil {
		d.logger.Warn("script evaluation failed", "error", err)
		return nil, classifyError(fmt.Errorf("evaluate: %w", err))
	}
	return result, nil
}

func (d *PageDriver) Content() (string, error) {
	html, err := d.page.Content()
	if err != nil {
		return "", classifyError(fmt.Errorf("page content: %w", err))
	}
	return html, nil
}

func (d *PageDriver) first(selector string) (playwright.Locator, error) {
	loc := d.page.Locator(selector).First()
	count, err := loc.Count()
	if err != nil {
		return nil, classifyError(fmt.Errorf("locate %s: %w", selector, err))
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return loc, nil
}

func (d *PageDriver) ms(timeout time.Duration) *float64 {
	return playwright.Float(float64(timeout.Milliseconds()))
}

func classifyError(err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
