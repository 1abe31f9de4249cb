package provider

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cuemby/burrow/pkg/types"
)

const apfsBaseBranch = "main"

// ApfsWorktree builds a worktree whose contents are clone-on-write copies
// of the project directory. macOS APFS only; cp -c falls back to an error
// elsewhere.
type ApfsWorktree struct {
	WorktreesDir string
}

func (p *ApfsWorktree) Prepare(project *types.Project, envID, _ string) (types.Metadata, error) {
	projectPath := project.Path
	worktreePath := filepath.Join(p.WorktreesDir, envID)
	branch := worktreeBranch(envID)

	if err := os.MkdirAll(p.WorktreesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory: %w", err)
	}

	if err := runGit(projectPath, []string{"fetch", "origin", apfsBaseBranch}); err != nil {
		return nil, err
	}
	if err := runGit(projectPath,
		[]string{"branch", branch, "origin/" + apfsBaseBranch},
		"already exists",
	); err != nil {
		return nil, err
	}
	if err := runGit(projectPath,
		[]string{"worktree", "add", "--no-checkout", worktreePath, branch},
		"already exists",
	); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(projectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read project directory: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == ".git" || entry.Name() == ".worktrees" {
			continue
		}
		cmd := exec.Command("cp", "-cR", filepath.Join(projectPath, entry.Name()), worktreePath)
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("apfs clone copy failed: %s", strings.TrimSpace(string(out)))
		}
	}

	if err := runGit(worktreePath, []string{"reset", "--hard", branch}); err != nil {
		return nil, err
	}

	return types.Metadata{
		"project_path":  projectPath,
		"worktree_path": worktreePath,
		"branch":        branch,
		"base_branch":   apfsBaseBranch,
	}, nil
}

func (p *ApfsWorktree) Update(metadata types.Metadata, _ string) (types.Metadata, error) {
	projectPath, err := metadataString(metadata, "project_path")
	if err != nil {
		return nil, err
	}
	worktreePath, err := metadataString(metadata, "worktree_path")
	if err != nil {
		return nil, err
	}
	baseBranch := apfsBaseBranch
	if v, ok := metadata["base_branch"].(string); ok && v != "" {
		baseBranch = v
	}

	if err := runGit(projectPath, []string{"fetch", "origin", baseBranch}); err != nil {
		return nil, err
	}
	if err := runGit(worktreePath, []string{"reset", "--hard", "origin/" + baseBranch}); err != nil {
		return nil, err
	}
	return metadata, nil
}

func (p *ApfsWorktree) Claim(metadata types.Metadata, _ string) (types.Metadata, error) {
	return metadata, nil
}

func (p *ApfsWorktree) Remove(metadata types.Metadata, _ string) error {
	projectPath, err := metadataString(metadata, "project_path")
	if err != nil {
		return err
	}
	worktreePath, err := metadataString(metadata, "worktree_path")
	if err != nil {
		return err
	}
	branch, err := metadataString(metadata, "branch")
	if err != nil {
		return err
	}

	if err := runGit(projectPath,
		[]string{"worktree", "remove", "--force", worktreePath},
		"is not a working tree",
	); err != nil {
		return err
	}
	return runGit(projectPath, []string{"branch", "-D", branch}, "not found")
}

func (p *ApfsWorktree) Run(metadata types.Metadata, command string, args []string) (*RunSpec, error) {
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

func (p *ApfsWorktree) Exec(metadata types.Metadata, command string, args []string) (*RunSpec, error) {
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

func (p *ApfsWorktree) ExecCommands(_ types.Metadata) ([]ExecCommand, error) {
	return []ExecCommand{
		{Name: "cd", Help: "Open a shell in the worktree directory"},
	}, nil
}
