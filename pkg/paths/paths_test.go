package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHomeOverrideLayout(t *testing.T) {
	home := t.TempDir()
	r := NewResolver(home)

	data, err := r.DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), data)

	runtime, err := r.RuntimeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "runtime"), runtime)

	config, err := r.ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "config"), config)
}

func TestHomeFallsBackToEnvironmentVariable(t *testing.T) {
	home := t.TempDir()
	t.Setenv("BURROW_HOME", home)
	r := NewResolver("")

	data, err := r.DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), data)
}

func TestFilePaths(t *testing.T) {
	home := t.TempDir()
	r := NewResolver(home)

	db, err := r.DatabasePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "database.sqlite3"), db)

	sock, err := r.SocketPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "runtime", "burrow.sock"), sock)

	pid, err := r.PIDPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "runtime", "burrow.pid"), pid)

	taskLog, err := r.TaskLogPath("t1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "logs", "tasks", "t1.log"), taskLog)

	envLog, err := r.EnvironmentLogPath("e1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "logs", "environments", "e1.log"), envLog)
}

func TestEnsureDirsCreatesLayout(t *testing.T) {
	home := t.TempDir()
	r := NewResolver(home)

	require.NoError(t, r.EnsureDirs())

	for _, dir := range []string{"data", "runtime", "config"} {
		info, err := os.Stat(filepath.Join(home, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
