package browser

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
)

var (
	globalMu      sync.Mutex
	globalSession *Session
)

// Acquire returns the process-wide session, launching it on first use. Only
// one profile may be open at a time; asking for another one while a session
// is ready yields ErrSessionActive.
func Acquire(ctx context.Context, opts *Options, launcher Launcher, logger *slog.Logger) (*Session, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	globalMu.Lock()
	defer globalMu.Unlock()

	if globalSession != nil && globalSession.State() == StateReady {
		if sameDir(globalSession.opts.UserDataDir, opts.UserDataDir) {
			return globalSession, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, globalSession.opts.UserDataDir)
	}

	s := NewSession(opts, launcher, logger)
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	globalSession = s
	return s, nil
}

// Reset shuts down and forgets the process-wide session.
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalSession != nil {
		globalSession.Shutdown()
		globalSession = nil
	}
}

func Current() *Session {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalSession
}

func sameDir(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
