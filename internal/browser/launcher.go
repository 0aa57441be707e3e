package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/playwright-community/playwright-go"
)

// allowedArgPrefixes is the set of launch flags that are safe for a real user
// profile. Anything else is dropped before launch.
var allowedArgPrefixes = []string{
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-dev-shm-usage",
	"--start-maximized",
	"--window-size=",
	"--window-position=",
	"--lang=",
	"--profile-directory=",
	"--remote-debugging-port=",
	"--disable-popup-blocking",
	"--disable-blink-features=AutomationControlled",
}

// ignoredDefaultArgs are playwright defaults that break login persistence.
var ignoredDefaultArgs = []string{
	"--disable-extensions",
	"--disable-component-extensions-with-background-pages",
	"--enable-automation",
}

// FilterArgs keeps only allow-listed flags and reports the rest.
func FilterArgs(args []string) (kept, dropped []string) {
	for _, arg := range args {
		if isAllowedArg(arg) {
			kept = append(kept, arg)
		} else {
			dropped = append(dropped, arg)
		}
	}
	return kept, dropped
}

func isAllowedArg(arg string) bool {
	for _, prefix := range allowedArgPrefixes {
		if strings.HasSuffix(prefix, "=") {
			if strings.HasPrefix(arg, prefix) {
				return true
			}
		} else if arg == prefix {
			return true
		}
	}
	return false
}

// LaunchArgs builds the final argument list for opts.
func LaunchArgs(opts *Options, logger *slog.Logger) []string {
	args := append([]string(nil), opts.Args...)
	if opts.ProfileDirectory != "" {
		args = append(args, "--profile-directory="+opts.ProfileDirectory)
	}

	kept, dropped := FilterArgs(args)
	for _, arg := range dropped {
		logger.Warn("dropping launch argument", "arg", arg)
	}
	return kept
}

// PlaywrightLauncher starts a persistent Chromium-family context through
// playwright-go.
type PlaywrightLauncher struct{}

func (PlaywrightLauncher) Launch(opts *Options, logger *slog.Logger) (Handle, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:          playwright.Bool(opts.Headless),
		Args:              LaunchArgs(opts, logger),
		IgnoreDefaultArgs: ignoredDefaultArgs,
		AcceptDownloads:   playwright.Bool(true),
	}
	if opts.Channel != "" {
		launchOpts.Channel = playwright.String(opts.Channel)
	}
	if opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(opts.ExecutablePath)
	}
	if opts.Locale != "" {
		launchOpts.Locale = playwright.String(opts.Locale)
	}
	if opts.TimezoneID != "" {
		launchOpts.TimezoneId = playwright.String(opts.TimezoneID)
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		launchOpts.Viewport = &playwright.Size{Width: opts.ViewportWidth, Height: opts.ViewportHeight}
	}

	bc, err := pw.Chromium.LaunchPersistentContext(opts.UserDataDir, launchOpts)
	if err != nil {
		pw.Stop()
		return nil, classifyLaunchError(err)
	}

	var page playwright.Page
	if pages := bc.Pages(); len(pages) > 0 {
		page = pages[0]
		for _, extra := range pages[1:] {
			extra.Close()
		}
	} else {
		page, err = bc.NewPage()
		if err != nil {
			bc.Close()
			pw.Stop()
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
	}

	if opts.Timeout > 0 {
		page.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))
	}

	return &playwrightHandle{pw: pw, context: bc, page: page}, nil
}

func classifyLaunchError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "Executable doesn't exist") ||
		strings.Contains(msg, "is not found at") ||
		strings.Contains(msg, "Chromium distribution") {
		return fmt.Errorf("%w: %v", ErrExecutableNotFound, err)
	}
	if strings.Contains(msg, "ProcessSingleton") || strings.Contains(msg, "profile appears to be in use") {
		return fmt.Errorf("%w: %v", ErrProfileBusy, err)
	}
	return err
}

type playwrightHandle struct {
	pw      *playwright.Playwright
	context playwright.BrowserContext
	page    playwright.Page
}

func (h *playwrightHandle) Page() playwright.Page { return h.page }

func (h *playwrightHandle) ClosePage() error {
	if h.page == nil || h.page.IsClosed() {
		return nil
	}
	return h.page.Close()
}

func (h *playwrightHandle) CloseContext() error {
	if h.context == nil {
		return nil
	}
	err := h.context.Close()
	if errors.Is(err, playwright.ErrTargetClosed) {
		return nil
	}
	return err
}

func (h *playwrightHandle) Stop() error {
	if h.pw == nil {
		return nil
	}
	return h.pw.Stop()
}
