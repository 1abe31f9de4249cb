package provider

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

func TestGitWorktreeExecCommandsIncludeCd(t *testing.T) {
	p := &GitWorktree{WorktreesDir: t.TempDir()}

	commands, err := p.ExecCommands(types.Metadata{})
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, "cd", commands[0].Name)
}

func TestGitWorktreeExecCdRunsShellInWorktree(t *testing.T) {
	p := &GitWorktree{WorktreesDir: t.TempDir()}
	metadata := types.Metadata{"worktree_path": "/tmp/worktree"}

	spec, err := p.Exec(metadata, "cd", nil)
	require.NoError(t, err)

	expectedShell := os.Getenv("SHELL")
	if expectedShell == "" {
		expectedShell = "sh"
	}
	assert.Equal(t, expectedShell, spec.Program)
	assert.Empty(t, spec.Args)
	assert.Equal(t, "/tmp/worktree", spec.Dir)
}

func TestGitWorktreeExecNonCdPassthrough(t *testing.T) {
	p := &GitWorktree{WorktreesDir: t.TempDir()}
	metadata := types.Metadata{"worktree_path": "/tmp/worktree"}

	spec, err := p.Exec(metadata, "ls", []string{"-la"})
	require.NoError(t, err)
	assert.Equal(t, "ls", spec.Program)
	assert.Equal(t, []string{"-la"}, spec.Args)
	assert.Equal(t, "/tmp/worktree", spec.Dir)
}

func TestGitWorktreeRunUsesWorktreeDir(t *testing.T) {
	p := &GitWorktree{WorktreesDir: t.TempDir()}
	metadata := types.Metadata{"worktree_path": "/tmp/worktree"}

	spec, err := p.Run(metadata, "claude", []string{"-p", "fix it"})
	require.NoError(t, err)
	assert.Equal(t, "claude", spec.Program)
	assert.Equal(t, []string{"-p", "fix it"}, spec.Args)
	assert.Equal(t, "/tmp/worktree", spec.Dir)
	assert.Nil(t, spec.StdinData)
}

func TestGitWorktreeRunRequiresWorktreePath(t *testing.T) {
	p := &GitWorktree{WorktreesDir: t.TempDir()}

	_, err := p.Run(types.Metadata{}, "ls", nil)
	assert.ErrorContains(t, err, "worktree_path")
}

func TestRegistryResolvesBuiltinsAndScripts(t *testing.T) {
	cfg, err := configFromYAML(t, `
environments:
  providers:
    sandbox:
      type: script
      path: /tmp/sandbox.sh
`)
	require.NoError(t, err)

	registry := NewRegistry(cfg, "/tmp/worktrees")

	p, err := registry.Resolve("git-worktree")
	require.NoError(t, err)
	assert.IsType(t, &GitWorktree{}, p)

	p, err = registry.Resolve("apfs-worktree")
	require.NoError(t, err)
	assert.IsType(t, &ApfsWorktree{}, p)

	p, err = registry.Resolve("sandbox")
	require.NoError(t, err)
	script, ok := p.(*Script)
	require.True(t, ok)
	assert.Equal(t, "/tmp/sandbox.sh", script.Path)

	_, err = registry.Resolve("nope")
	assert.ErrorContains(t, err, "unknown environment provider")
}
