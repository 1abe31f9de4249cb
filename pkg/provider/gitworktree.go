package provider

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cuemby/burrow/pkg/types"
)

// GitWorktree creates one git worktree per environment on a dedicated
// branch named after the environment id.
type GitWorktree struct {
	WorktreesDir string
}

func worktreeBranch(envID string) string {
	return "work-env-" + envID
}

func userShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "sh"
}

// runGit executes a git subcommand in dir, tolerating stderr that matches
// one of the given fragments.
func runGit(dir string, args []string, tolerate ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := string(out)
		for _, fragment := range tolerate {
			if strings.Contains(msg, fragment) {
				return nil
			}
		}
		return fmt.Errorf("git %s failed: %s", args[0], strings.TrimSpace(msg))
	}
	return nil
}

func (p *GitWorktree) Prepare(project *types.Project, envID, _ string) (types.Metadata, error) {
	worktreePath := filepath.Join(p.WorktreesDir, envID)
	branch := worktreeBranch(envID)

	if err := os.MkdirAll(p.WorktreesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory: %w", err)
	}

	// "already exists" makes a replayed prepare a no-op.
	if err := runGit(project.Path,
		[]string{"worktree", "add", "-b", branch, worktreePath},
		"already exists",
	); err != nil {
		return nil, err
	}

	return types.Metadata{
		"project_path":  project.Path,
		"worktree_path": worktreePath,
		"branch":        branch,
	}, nil
}

func (p *GitWorktree) Update(metadata types.Metadata, _ string) (types.Metadata, error) {
	worktreePath, err := metadataString(metadata, "worktree_path")
	if err != nil {
		return nil, err
	}

	if err := runGit(worktreePath, []string{"fetch", "origin"}); err != nil {
		return nil, err
	}
	if err := runGit(worktreePath, []string{"merge", "origin/HEAD"}); err != nil {
		return nil, err
	}
	return metadata, nil
}

func (p *GitWorktree) Claim(metadata types.Metadata, _ string) (types.Metadata, error) {
	return metadata, nil
}

func (p *GitWorktree) Remove(metadata types.Metadata, _ string) error {
	worktreePath, err := metadataString(metadata, "worktree_path")
	if err != nil {
		return err
	}
	projectPath, err := metadataString(metadata, "project_path")
	if err != nil {
		return err
	}
	branch, err := metadataString(metadata, "branch")
	if err != nil {
		return err
	}

	// Partial prior state is fine: already-gone worktrees and branches
	// count as removed.
	if err := runGit(projectPath,
		[]string{"worktree", "remove", "--force", worktreePath},
		"is not a working tree",
	); err != nil {
		return err
	}
	return runGit(projectPath, []string{"branch", "-D", branch}, "not found")
}

func (p *GitWorktree) Run(metadata types.Metadata, command string, args []string) (*RunSpec, error) {
	worktreePath, err := metadataString(metadata, "worktree_path")
	if err != nil {
		return nil, err
	}

	return &RunSpec{
		Program: command,
		Args:    args,
		Dir:     worktreePath,
	}, nil
}

func (p *GitWorktree) Exec(metadata types.Metadata, command string, args []string) (*RunSpec, error) {
	worktreePath, err := metadataString(metadata, "worktree_path")
	if err != nil {
		return nil, err
	}

	if command == "cd" {
		return &RunSpec{
			Program: userShell(),
			Dir:     worktreePath,
		}, nil
	}

	return &RunSpec{
		Program: command,
		Args:    args,
		Dir:     worktreePath,
	}, nil
}

func (p *GitWorktree) ExecCommands(_ types.Metadata) ([]ExecCommand, error) {
	return []ExecCommand{
		{Name: "cd", Help: "Open a shell in the worktree directory"},
	}, nil
}
