package provider

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/types"
)

// RunSpec describes how to execute a command inside an environment. The
// caller launches the process; providers only produce the spec.
type RunSpec struct {
	Program   string
	Args      []string
	Dir       string   // working directory, empty means inherit
	StdinData []byte   // fed to the process on stdin when non-nil
	Env       []string // extra environment variables in KEY=VALUE form
}

// ExecCommand is an interactive verb a provider declares for exec
type ExecCommand struct {
	Name string `json:"name"`
	Help string `json:"help,omitempty"`
}

// Provider prepares, maintains, and tears down workspaces. Implementations
// are stateless: everything a provider needs lives in the environment's
// metadata, and each call receives its own copy. logPath, when non-empty,
// names the environment lifecycle log that captures provider stderr.
type Provider interface {
	Prepare(project *types.Project, envID, logPath string) (types.Metadata, error)
	Update(metadata types.Metadata, logPath string) (types.Metadata, error)
	Claim(metadata types.Metadata, logPath string) (types.Metadata, error)
	Remove(metadata types.Metadata, logPath string) error
	Run(metadata types.Metadata, command string, args []string) (*RunSpec, error)
	Exec(metadata types.Metadata, command string, args []string) (*RunSpec, error)
	ExecCommands(metadata types.Metadata) ([]ExecCommand, error)
}

// BuiltinNames lists the providers available without configuration
func BuiltinNames() []string {
	return []string{"git-worktree", "apfs-worktree"}
}

// Registry resolves provider names to handlers: built-ins by fixed name,
// anything else through the user config's script entries.
type Registry struct {
	cfg          *config.Config
	worktreesDir string
}

// NewRegistry creates a provider registry
func NewRegistry(cfg *config.Config, worktreesDir string) *Registry {
	return &Registry{cfg: cfg, worktreesDir: worktreesDir}
}

// Resolve returns the handler for a provider name
func (r *Registry) Resolve(name string) (Provider, error) {
	switch name {
	case "git-worktree":
		return &GitWorktree{WorktreesDir: r.worktreesDir}, nil
	case "apfs-worktree":
		return &ApfsWorktree{WorktreesDir: r.worktreesDir}, nil
	}

	if r.cfg != nil {
		if entry, err := r.cfg.GetEnvironmentProvider(name); err == nil {
			if entry.Type != "script" {
				return nil, fmt.Errorf("environment provider %s has unsupported type %q", name, entry.Type)
			}
			return &Script{Path: entry.Path}, nil
		}
	}

	return nil, fmt.Errorf("unknown environment provider: %s", name)
}

func metadataString(metadata types.Metadata, field string) (string, error) {
	v, ok := metadata[field].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing %s in metadata", field)
	}
	return v, nil
}
