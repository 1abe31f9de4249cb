package client

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/daemon"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// newTestClient serves the daemon API on a real unix socket and returns a
// client dialing it.
func newTestClient(t *testing.T) (*Client, *storage.Store, *paths.Resolver) {
	t.Helper()

	resolver := paths.NewResolver(t.TempDir())
	require.NoError(t, resolver.EnsureDirs())

	dbPath, err := resolver.DatabasePath()
	require.NoError(t, err)
	store, err := storage.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d := daemon.New(store, events.NewBroker(), resolver)

	sockPath, err := resolver.SocketPath()
	require.NoError(t, err)
	listener, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	server := &http.Server{Handler: d.Router()}
	go server.Serve(listener)
	t.Cleanup(func() { server.Close() })

	c, err := New(resolver)
	require.NoError(t, err)
	return c, store, resolver
}

func TestProjectRoundTrip(t *testing.T) {
	c, _, _ := newTestClient(t)

	project, err := c.CreateProject("web", "/srv/web")
	require.NoError(t, err)
	assert.Equal(t, "web", project.Name)

	projects, err := c.ListProjects()
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, project.ID, projects[0].ID)

	require.NoError(t, c.DeleteProject("web"))

	projects, err = c.ListProjects()
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestErrorBodyBecomesMessage(t *testing.T) {
	c, _, _ := newTestClient(t)

	_, err := c.CreateProject("web", "/srv/web")
	require.NoError(t, err)

	_, err = c.CreateProject("web", "/srv/other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web")
	assert.NotContains(t, err.Error(), "{")
}

func TestConnectErrorSuggestsStartingDaemon(t *testing.T) {
	resolver := paths.NewResolver(t.TempDir())
	c, err := New(resolver)
	require.NoError(t, err)

	err = c.Health()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Is the daemon running?")
	assert.Contains(t, err.Error(), "burrow daemon start")
}

func TestPrepareEnvironmentStaged(t *testing.T) {
	c, store, _ := newTestClient(t)

	project, err := c.CreateProject("web", "/srv/web")
	require.NoError(t, err)

	env, err := c.PrepareEnvironment(project.ID, "git-worktree", false)
	require.NoError(t, err)
	assert.Equal(t, types.EnvironmentPreparing, env.Status)

	jobs, err := store.ListJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.JobPrepareEnvironment, jobs[0].Type)
}

func TestCreateAndRemoveTask(t *testing.T) {
	c, store, _ := newTestClient(t)

	project, err := c.CreateProject("web", "/srv/web")
	require.NoError(t, err)

	task, err := c.CreateTask(project.ID, "runner", "git-worktree", "fix the build")
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, task.Status)

	got, err := c.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	require.NoError(t, c.RemoveTask(task.ID, true))

	_, err = store.GetTask(task.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTailTaskLogsTerminal(t *testing.T) {
	c, store, resolver := newTestClient(t)

	project, err := c.CreateProject("web", "/srv/web")
	require.NoError(t, err)
	task, err := c.CreateTask(project.ID, "runner", "git-worktree", "fix the build")
	require.NoError(t, err)
	require.NoError(t, store.UpdateTaskStatus(task.ID, types.TaskComplete))

	logPath, err := resolver.TaskLogPath(task.ID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0o755))
	require.NoError(t, os.WriteFile(logPath, []byte("all done\n"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, c.TailTaskLogs(context.Background(), task.ID, &buf))
	assert.Equal(t, "all done\n", buf.String())
}

func TestTailTaskLogsUnknownTask(t *testing.T) {
	c, _, _ := newTestClient(t)

	var buf bytes.Buffer
	err := c.TailTaskLogs(context.Background(), "ghost", &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
