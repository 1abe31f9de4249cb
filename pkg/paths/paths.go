package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// Resolver maps Burrow's files onto the host. With a home override (the
// --home flag or BURROW_HOME) everything lives under one directory;
// otherwise the XDG base-directory conventions apply.
type Resolver struct {
	home string // optional override; empty means use XDG
}

// NewResolver creates a resolver. An empty home falls through to the
// BURROW_HOME environment variable, then to the XDG conventions.
func NewResolver(home string) *Resolver {
	if home == "" {
		home = os.Getenv("BURROW_HOME")
	}
	return &Resolver{home: home}
}

func (r *Resolver) xdgBase(envVar, fallback string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, fallback), nil
}

// DataDir returns the directory holding the database, worktrees, and logs
func (r *Resolver) DataDir() (string, error) {
	if r.home != "" {
		return filepath.Join(r.home, "data"), nil
	}
	base, err := r.xdgBase("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "burrow"), nil
}

// RuntimeDir returns the directory holding the socket and PID file
func (r *Resolver) RuntimeDir() (string, error) {
	if r.home != "" {
		return filepath.Join(r.home, "runtime"), nil
	}
	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
		return filepath.Join(v, "burrow"), nil
	}
	return filepath.Join(os.TempDir(), "burrow"), nil
}

// ConfigDir returns the directory holding config.yaml
func (r *Resolver) ConfigDir() (string, error) {
	if r.home != "" {
		return filepath.Join(r.home, "config"), nil
	}
	base, err := r.xdgBase("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "burrow"), nil
}

// DatabasePath returns the SQLite database file path
func (r *Resolver) DatabasePath() (string, error) {
	data, err := r.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(data, "database.sqlite3"), nil
}

// ConfigPath returns the user config file path
func (r *Resolver) ConfigPath() (string, error) {
	dir, err := r.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// SocketPath returns the unix socket path
func (r *Resolver) SocketPath() (string, error) {
	dir, err := r.RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "burrow.sock"), nil
}

// PIDPath returns the PID file path
func (r *Resolver) PIDPath() (string, error) {
	dir, err := r.RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "burrow.pid"), nil
}

// WorktreesDir returns the directory built-in providers create worktrees in
func (r *Resolver) WorktreesDir() (string, error) {
	data, err := r.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(data, "worktrees"), nil
}

// TaskLogPath returns the log file capturing a task command's output
func (r *Resolver) TaskLogPath(taskID string) (string, error) {
	data, err := r.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(data, "logs", "tasks", taskID+".log"), nil
}

// EnvironmentLogPath returns the per-environment lifecycle log file
func (r *Resolver) EnvironmentLogPath(envID string) (string, error) {
	data, err := r.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(data, "logs", "environments", envID+".log"), nil
}

// EnsureDirs creates the data, runtime, and config directories
func (r *Resolver) EnsureDirs() error {
	for _, fn := range []func() (string, error){r.DataDir, r.RuntimeDir, r.ConfigDir} {
		dir, err := fn()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
