// Package profile locates on-disk browser user-data directories and reports
// which named profile was last active and whether a browser holds its lock.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// DefaultProfileName is used whenever the Local State marker is unusable.
const DefaultProfileName = "Default"

const localStateFile = "Local State"

var ErrUnsupportedPlatform = errors.New("unsupported browser/platform combination")

// LockFiles appear in a user-data directory while a browser process owns it.
var LockFiles = []string{"SingletonLock", "SingletonSocket", "SingletonCookie", "lockfile"}

type Kind string

const (
	Edge   Kind = "edge"
	Chrome Kind = "chrome"
)

// ParseKind accepts the names users tend to type on the command line.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "edge", "msedge", "microsoft-edge":
		return Edge, nil
	case "chrome", "google-chrome":
		return Chrome, nil
	}
	return "", fmt.Errorf("%w: browser %q", ErrUnsupportedPlatform, s)
}

// Channel is the playwright channel name that launches the installed browser.
func (k Kind) Channel() string {
	if k == Edge {
		return "msedge"
	}
	return "chrome"
}

type BrowserProfile struct {
	Kind   Kind   `json:"browser_kind"`
	Root   string `json:"root_directory"`
	Name   string `json:"profile_name"`
	Locked bool   `json:"is_locked"`
}

// Dir is the directory of the named profile inside the user-data root.
func (p BrowserProfile) Dir() string {
	return filepath.Join(p.Root, p.Name)
}

type Resolver struct {
	GOOS   string
	Home   func() (string, error)
	Getenv func(string) string
}

func NewResolver() *Resolver {
	return &Resolver{
		GOOS:   runtime.GOOS,
		Home:   homedir.Dir,
		Getenv: os.Getenv,
	}
}

// UserDataDir returns the root user-data directory of the given browser on
// the resolver's OS.
func (r *Resolver) UserDataDir(kind Kind) (string, error) {
	if kind != Edge && kind != Chrome {
		return "", fmt.Errorf("%w: browser %q", ErrUnsupportedPlatform, kind)
	}

	switch r.GOOS {
	case "darwin":
		home, err := r.Home()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		base := filepath.Join(home, "Library", "Application Support")
		if kind == Edge {
			return filepath.Join(base, "Microsoft Edge"), nil
		}
		return filepath.Join(base, "Google", "Chrome"), nil

	case "windows":
		local := r.Getenv("LOCALAPPDATA")
		if local == "" {
			home, err := r.Home()
			if err != nil {
				return "", fmt.Errorf("failed to resolve home directory: %w", err)
			}
			local = filepath.Join(home, "AppData", "Local")
		}
		if kind == Edge {
			return filepath.Join(local, "Microsoft", "Edge", "User Data"), nil
		}
		return filepath.Join(local, "Google", "Chrome", "User Data"), nil

	case "linux":
		home, err := r.Home()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		if kind == Edge {
			return filepath.Join(home, ".config", "microsoft-edge"), nil
		}
		return filepath.Join(home, ".config", "google-chrome"), nil
	}

	return "", fmt.Errorf("%w: os %q", ErrUnsupportedPlatform, r.GOOS)
}

type localState struct {
	Profile struct {
		LastUsed string `json:"last_used"`
	} `json:"profile"`
}

// LastUsedProfile never fails: anything wrong with the marker file yields
// DefaultProfileName.
func LastUsedProfile(root string) string {
	data, err := os.ReadFile(filepath.Join(root, localStateFile))
	if err != nil {
		return DefaultProfileName
	}

	var state localState
	if err := json.Unmarshal(data, &state); err != nil {
		return DefaultProfileName
	}

	name := strings.TrimSpace(state.Profile.LastUsed)
	if name == "" {
		return DefaultProfileName
	}
	return name
}

// PresentLockFiles lists the lock files currently present in dir.
func PresentLockFiles(dir string) []string {
	var found []string
	for _, name := range LockFiles {
		// Lstat: SingletonLock is a symlink to a non-existent host-pid target.
		if _, err := os.Lstat(filepath.Join(dir, name)); err == nil {
			found = append(found, name)
		}
	}
	return found
}

func IsLocked(dir string) bool {
	return len(PresentLockFiles(dir)) > 0
}

func (r *Resolver) Resolve(kind Kind) (*BrowserProfile, error) {
	root, err := r.UserDataDir(kind)
	if err != nil {
		return nil, err
	}

	return &BrowserProfile{
		Kind:   kind,
		Root:   root,
		Name:   LastUsedProfile(root),
		Locked: IsLocked(root),
	}, nil
}
