package paginator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/product-research/internal/browser"
	"github.com/maltedev/product-research/internal/models"
	"github.com/maltedev/product-research/internal/parser"
)

// UnknownPage is passed to the extractor when the active page indicator
// could not be read.
const UnknownPage = 0

type StopReason string

const (
	StopLastPage        StopReason = "last_page"
	StopMaxPages        StopReason = "max_pages"
	StopCycle           StopReason = "cycle"
	StopUnknownPage     StopReason = "unknown_page"
	StopExtractionError StopReason = "extraction_error"
	StopTimeout         StopReason = "timeout"
	StopAdvanceFailed   StopReason = "advance_failed"
	StopCanceled        StopReason = "canceled"
)

type ErrorKind int

const (
	KindUnexpected ErrorKind = iota
	KindNotFound
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	}
	return "unexpected"
}

// ExtractionError is what a failed extractor call turns into. It always
// ends the run.
type ExtractionError struct {
	Kind ErrorKind
	Page int
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract page %d (%s): %v", e.Page, e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func NewExtractionError(page int, err error) *ExtractionError {
	var xerr *ExtractionError
	if errors.As(err, &xerr) {
		return xerr
	}

	kind := KindUnexpected
	switch {
	case errors.Is(err, browser.ErrNotFound), errors.Is(err, parser.ErrNoRows):
		kind = KindNotFound
	case errors.Is(err, browser.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	}
	return &ExtractionError{Kind: kind, Page: page, Err: err}
}

// Extractor returns the records of the page currently displayed.
type Extractor func(ctx context.Context, page int) ([]models.Record, error)

// Cursor tracks the pages a run has already extracted.
type Cursor struct {
	Current         int
	Visited         map[int]struct{}
	LastFingerprint string
}

func NewCursor() *Cursor {
	return &Cursor{Visited: make(map[int]struct{})}
}

// Accepts reports whether page n may be extracted: it must not have been
// visited and must come after the current page.
func (c *Cursor) Accepts(n int) bool {
	if _, seen := c.Visited[n]; seen {
		return false
	}
	return len(c.Visited) == 0 || n > c.Current
}

func (c *Cursor) Visit(n int) {
	c.Visited[n] = struct{}{}
	c.Current = n
}

type Config struct {
	MaxPages     int
	APIResponse  string
	PollInterval time.Duration
	Timeout      time.Duration
	Settle       time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		Timeout:      15 * time.Second,
		Settle:       1 * time.Second,
	}
}

type Result struct {
	Records    []models.Record
	Pages      []int
	StopReason StopReason
}

type Paginator struct {
	surface Surface
	config  Config
	logger  *slog.Logger
}

func New(surface Surface, config Config, logger *slog.Logger) *Paginator {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Settle < 0 {
		config.Settle = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Paginator{
		surface: surface,
		config:  config,
		logger:  logger.With("component", "paginator"),
	}
}

// Run extracts the current page, advances, and repeats until a stop
// condition is hit. Records gathered before the stop are always returned.
// Rows read from a page number that was already visited are dropped.
// The error is non-nil only for extraction failures and cancellation.
func (p *Paginator) Run(ctx context.Context, extract Extractor) (*Result, error) {
	result := &Result{}
	cursor := NewCursor()

	stop := func(reason StopReason) {
		result.StopReason = reason
		p.logger.Info("pagination finished",
			"reason", reason,
			"pages", len(result.Pages),
			"records", len(result.Records))
	}

	for {
		if err := ctx.Err(); err != nil {
			stop(StopCanceled)
			return result, err
		}

		page, known := p.surface.PageNumber()
		if !known {
			page = UnknownPage
		}

		records, err := extract(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				stop(StopCanceled)
				return result, ctx.Err()
			}
			xerr := NewExtractionError(page, err)
			p.logger.Error("extraction failed", "page", page, "kind", xerr.Kind, "error", err)
			stop(StopExtractionError)
			return result, xerr
		}
		if !known {
			result.Records = append(result.Records, records...)
			stop(StopUnknownPage)
			return result, nil
		}

		if !cursor.Accepts(page) {
			// The rows changed under an indicator that still shows the
			// current page: new data whose page number cannot be read.
			if page == cursor.Current && p.rowsChanged(cursor) {
				p.logger.Warn("page indicator did not advance", "page", page)
				result.Records = append(result.Records, records...)
				stop(StopUnknownPage)
				return result, nil
			}
			p.logger.Warn("page already visited", "page", page, "last", cursor.Current)
			stop(StopCycle)
			return result, nil
		}

		result.Records = append(result.Records, records...)
		p.logger.Debug("page extracted", "page", page, "records", len(records))

		cursor.Visit(page)
		result.Pages = append(result.Pages, page)

		if p.config.MaxPages > 0 && len(result.Pages) >= p.config.MaxPages {
			stop(StopMaxPages)
			return result, nil
		}

		control, ok := p.surface.PageControl(page + 1)
		if !ok {
			control, ok = p.surface.NextControl()
		}
		if !ok {
			stop(StopLastPage)
			return result, nil
		}

		cursor.LastFingerprint = p.surface.LastItemText()

		changed, err := p.advance(ctx, control, cursor)
		if err != nil {
			if ctx.Err() != nil {
				stop(StopCanceled)
				return result, ctx.Err()
			}
			p.logger.Warn("advance failed", "page", page, "error", err)
			stop(StopAdvanceFailed)
			return result, nil
		}
		if !changed {
			p.logger.Warn("no page change observed", "page", page, "timeout", p.config.Timeout)
			stop(StopTimeout)
			return result, nil
		}

		if err := sleep(ctx, p.config.Settle); err != nil {
			stop(StopCanceled)
			return result, err
		}
	}
}

func (p *Paginator) rowsChanged(cursor *Cursor) bool {
	text := p.surface.LastItemText()
	return text != "" && text != cursor.LastFingerprint
}

// advance clicks the control and waits for the first change signal.
func (p *Paginator) advance(ctx context.Context, control Control, cursor *Cursor) (bool, error) {
	if p.config.APIResponse != "" {
		err := p.surface.ExpectResponse(p.config.APIResponse, p.config.Timeout, control.Click)
		if errors.Is(err, browser.ErrTimeout) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}

	if err := control.Click(); err != nil {
		return false, err
	}
	return p.waitForChange(ctx, cursor)
}

func (p *Paginator) waitForChange(ctx context.Context, cursor *Cursor) (bool, error) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(p.config.Timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
			if n, ok := p.surface.PageNumber(); ok && n > cursor.Current {
				return true, nil
			}
			if p.rowsChanged(cursor) {
				return true, nil
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
