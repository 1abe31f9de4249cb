package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimRuntimeFilesRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "burrow.pid")
	sockPath := filepath.Join(dir, "burrow.sock")

	require.NoError(t, claimRuntimeFiles(pidPath, sockPath, false))

	require.NoError(t, os.WriteFile(pidPath, []byte("123\n"), 0o644))
	err := claimRuntimeFiles(pidPath, sockPath, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	assert.Contains(t, err.Error(), "--force")
}

func TestClaimRuntimeFilesForceRemovesStale(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "burrow.pid")
	sockPath := filepath.Join(dir, "burrow.sock")

	require.NoError(t, os.WriteFile(pidPath, []byte("123\n"), 0o644))
	require.NoError(t, os.WriteFile(sockPath, nil, 0o644))

	require.NoError(t, claimRuntimeFiles(pidPath, sockPath, true))

	_, err := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(sockPath)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupRuntimeFiles(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "burrow.pid")
	sockPath := filepath.Join(dir, "burrow.sock")
	require.NoError(t, os.WriteFile(pidPath, []byte("123\n"), 0o644))
	require.NoError(t, os.WriteFile(sockPath, nil, 0o644))

	cleanupRuntimeFiles(pidPath, sockPath)

	_, err := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(sockPath)
	assert.True(t, os.IsNotExist(err))
}
