package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/product-research/internal/profile"
	"github.com/playwright-community/playwright-go"
)

var (
	ErrProfileBusy        = errors.New("browser profile is in use by another process")
	ErrSessionActive      = errors.New("another browser session is already active")
	ErrNotReady           = errors.New("browser session is not ready")
	ErrExecutableNotFound = errors.New("browser executable not found")
)

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Options struct {
	UserDataDir      string
	ProfileDirectory string
	Channel          string
	ExecutablePath   string
	Headless         bool
	Args             []string
	Timeout          time.Duration
	LockWait         time.Duration
	LockPoll         time.Duration
	ViewportWidth    int
	ViewportHeight   int
	Locale           string
	TimezoneID       string
}

func DefaultOptions() *Options {
	return &Options{
		Channel:        "msedge",
		Headless:       false,
		Timeout:        30 * time.Second,
		LockWait:       5 * time.Second,
		LockPoll:       500 * time.Millisecond,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "zh-CN",
		TimezoneID:     "Asia/Shanghai",
		Args: []string{
			"--no-first-run",
			"--no-default-browser-check",
			"--disable-dev-shm-usage",
			"--start-maximized",
		},
	}
}

// Handle is a launched persistent browser context with its single page.
type Handle interface {
	Page() playwright.Page
	ClosePage() error
	CloseContext() error
	Stop() error
}

type Launcher interface {
	Launch(opts *Options, logger *slog.Logger) (Handle, error)
}

// Session binds one persistent profile to one page. It is not reusable after
// Shutdown.
type Session struct {
	mu       sync.Mutex
	opts     *Options
	launcher Launcher
	handle   Handle
	state    State
	logger   *slog.Logger
}

func NewSession(opts *Options, launcher Launcher, logger *slog.Logger) *Session {
	if opts == nil {
		opts = DefaultOptions()
	}
	if launcher == nil {
		launcher = PlaywrightLauncher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		opts:     opts,
		launcher: launcher,
		logger:   logger.With("component", "browser_session"),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Options() Options {
	return *s.opts
}

// Initialize launches the browser against the profile directory. A failure
// leaves the session Uninitialized so the caller may decide what to do next.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
		return nil
	case StateUninitialized:
	default:
		return fmt.Errorf("cannot initialize session in state %s", s.state)
	}

	s.state = StateInitializing
	s.logger.Info("initializing browser session",
		"user_data_dir", s.opts.UserDataDir,
		"profile", s.opts.ProfileDirectory,
		"channel", s.opts.Channel,
		"headless", s.opts.Headless)

	if err := WaitForUnlock(ctx, s.opts.UserDataDir, s.opts.LockWait, s.opts.LockPoll); err != nil {
		s.state = StateUninitialized
		return err
	}

	handle, err := s.launcher.Launch(s.opts, s.logger)
	if err != nil {
		s.state = StateUninitialized
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	s.handle = handle
	s.state = StateReady
	s.logger.Info("browser session ready")
	return nil
}

func (s *Session) Page() (playwright.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, s.state)
	}
	return s.handle.Page(), nil
}

// Shutdown closes page, context and driver in that order. Failures are
// logged and never returned.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		if s.state == StateUninitialized {
			s.state = StateClosed
		}
		return
	}

	s.state = StateShuttingDown
	s.logger.Info("shutting down browser session")

	if err := s.handle.ClosePage(); err != nil {
		s.logger.Warn("failed to close page", "error", err)
	}
	if err := s.handle.CloseContext(); err != nil {
		s.logger.Warn("failed to close context", "error", err)
	}
	if err := s.handle.Stop(); err != nil {
		s.logger.Warn("failed to stop driver", "error", err)
	}

	s.handle = nil
	s.state = StateClosed
}

// WaitForUnlock polls dir until no lock file remains or wait elapses.
func WaitForUnlock(ctx context.Context, dir string, wait, poll time.Duration) error {
	if dir == "" {
		return nil
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	locks := profile.PresentLockFiles(dir)
	if len(locks) == 0 {
		return nil
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s (%v)", ErrProfileBusy, dir, locks)
		case <-ticker.C:
			if locks = profile.PresentLockFiles(dir); len(locks) == 0 {
				return nil
			}
		}
	}
}
