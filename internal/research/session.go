package research

import (
	"context"
	"log/slog"

	"github.com/maltedev/product-research/internal/browser"
	"github.com/maltedev/product-research/internal/paginator"
	"github.com/maltedev/product-research/internal/sites"
)

// SessionOpener serves every site from the process-wide browser session.
type SessionOpener struct {
	Options  *browser.Options
	Launcher browser.Launcher
	Logger   *slog.Logger
}

func (o *SessionOpener) Open(ctx context.Context, site sites.Site) (Driver, paginator.Surface, error) {
	session, err := browser.Acquire(ctx, o.Options, o.Launcher, o.Logger)
	if err != nil {
		return nil, nil, err
	}

	page, err := session.Page()
	if err != nil {
		return nil, nil, err
	}

	driver := browser.NewPageDriver(page, o.Options.Timeout, o.Logger)
	surface := paginator.NewPlaywrightSurface(page, site.Selectors, o.Logger)
	return driver, surface, nil
}

// Close shuts the session down.
func (o *SessionOpener) Close() {
	browser.Reset()
}
