package daemon

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

func newTestDaemon(t *testing.T) (*Daemon, *storage.Store, *paths.Resolver) {
	t.Helper()

	resolver := paths.NewResolver(t.TempDir())
	require.NoError(t, resolver.EnsureDirs())

	dbPath, err := resolver.DatabasePath()
	require.NoError(t, err)
	store, err := storage.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(store, events.NewBroker(), resolver), store, resolver
}

func doJSON(t *testing.T, server *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	resp := doJSON(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateProjectConflictOnDuplicateName(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	resp := doJSON(t, server, http.MethodPost, "/projects", createProjectRequest{Name: "web", Path: "/srv/web"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	project := decodeBody[types.Project](t, resp)
	assert.Equal(t, "web", project.Name)
	assert.NotEmpty(t, project.ID)

	resp = doJSON(t, server, http.MethodPost, "/projects", createProjectRequest{Name: "web", Path: "/srv/other"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeBody[map[string]string](t, resp)
	assert.Contains(t, body["error"], "web")
}

func TestCreateProjectRequiresNameAndPath(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	resp := doJSON(t, server, http.MethodPost, "/projects", createProjectRequest{Name: "web"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteProjectNotFound(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	resp := doJSON(t, server, http.MethodDelete, "/projects/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPrepareEnvironmentStagesRowAndJob(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	project, err := store.CreateProject("web", "/srv/web")
	require.NoError(t, err)

	resp := doJSON(t, server, http.MethodPost, "/environments", prepareEnvironmentRequest{
		ProjectID: project.ID,
		Provider:  "git-worktree",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	env := decodeBody[types.Environment](t, resp)
	assert.Equal(t, types.EnvironmentPreparing, env.Status)

	jobs, err := store.ListJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.JobPrepareEnvironment, jobs[0].Type)
	assert.Equal(t, env.ID, jobs[0].Payload.EnvID)
}

func TestPrepareEnvironmentUnknownProjectNotFound(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	resp := doJSON(t, server, http.MethodPost, "/environments", prepareEnvironmentRequest{
		ProjectID: "nope",
		Provider:  "git-worktree",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClaimEnvironmentWhileStillPreparingFails(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	project, err := store.CreateProject("web", "/srv/web")
	require.NoError(t, err)
	env, err := store.StagePrepareEnvironment(project.ID, "git-worktree", false)
	require.NoError(t, err)

	resp := doJSON(t, server, http.MethodPost, "/environments/"+env.ID+"/claim", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRemoveEnvironmentAttachedToTaskConflicts(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	project, err := store.CreateProject("web", "/srv/web")
	require.NoError(t, err)
	task, err := store.StageTaskCreate(project.ID, "runner", "git-worktree", "fix the build")
	require.NoError(t, err)

	resp := doJSON(t, server, http.MethodDelete, "/environments/"+task.EnvironmentID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeBody[map[string]string](t, resp)
	assert.Contains(t, body["error"], "task")
}

func TestRemoveEnvironmentAccepted(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	project, err := store.CreateProject("web", "/srv/web")
	require.NoError(t, err)
	env, err := store.StagePrepareEnvironment(project.ID, "git-worktree", false)
	require.NoError(t, err)

	resp := doJSON(t, server, http.MethodDelete, "/environments/"+env.ID, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	updated, err := store.GetEnvironment(env.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EnvironmentRemoving, updated.Status)
}

func TestForceDeleteEnvironmentSkipsJobQueue(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	project, err := store.CreateProject("web", "/srv/web")
	require.NoError(t, err)
	env, err := store.StagePrepareEnvironment(project.ID, "git-worktree", false)
	require.NoError(t, err)

	resp := doJSON(t, server, http.MethodDelete, "/environments/"+env.ID+"?skip_provider=true", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = store.GetEnvironment(env.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	jobs, err := store.ListJobs()
	require.NoError(t, err)
	for _, job := range jobs {
		assert.NotEqual(t, types.JobRemoveEnvironment, job.Type)
	}
}

func TestCreateTaskAccepted(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	project, err := store.CreateProject("web", "/srv/web")
	require.NoError(t, err)

	resp := doJSON(t, server, http.MethodPost, "/tasks", createTaskRequest{
		ProjectID:   project.ID,
		Provider:    "runner",
		EnvProvider: "git-worktree",
		Description: "fix the build",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	task := decodeBody[types.Task](t, resp)
	assert.Equal(t, types.TaskPending, task.Status)
	assert.NotEmpty(t, task.EnvironmentID)
}

func TestGetTaskNotFound(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	resp := doJSON(t, server, http.MethodGet, "/tasks/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTaskLogsTerminalReturnsFullFile(t *testing.T) {
	d, store, resolver := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	project, err := store.CreateProject("web", "/srv/web")
	require.NoError(t, err)
	task, err := store.StageTaskCreate(project.ID, "runner", "git-worktree", "fix the build")
	require.NoError(t, err)
	require.NoError(t, store.UpdateTaskStatus(task.ID, types.TaskComplete))

	logPath, err := resolver.TaskLogPath(task.ID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0o755))
	require.NoError(t, os.WriteFile(logPath, []byte("line one\nline two\n"), 0o644))

	resp := doJSON(t, server, http.MethodGet, "/tasks/"+task.ID+"/logs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	contents, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(contents))
}

func TestTaskLogsStreamsUntilTerminal(t *testing.T) {
	d, store, resolver := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	project, err := store.CreateProject("web", "/srv/web")
	require.NoError(t, err)
	task, err := store.StageTaskCreate(project.ID, "runner", "git-worktree", "fix the build")
	require.NoError(t, err)
	require.NoError(t, store.StartTask(task.ID))

	logPath, err := resolver.TaskLogPath(task.ID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0o755))
	require.NoError(t, os.WriteFile(logPath, []byte("started\n"), 0o644))

	done := make(chan string, 1)
	go func() {
		resp, err := server.Client().Get(server.URL + "/tasks/" + task.ID + "/logs")
		if err != nil {
			done <- "request failed: " + err.Error()
			return
		}
		defer resp.Body.Close()
		contents, _ := io.ReadAll(resp.Body)
		done <- string(contents)
	}()

	// Let the tail pick up the first chunk, then finish the task.
	time.Sleep(300 * time.Millisecond)
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("finished\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, store.UpdateTaskStatus(task.ID, types.TaskComplete))

	select {
	case contents := <-done:
		assert.Equal(t, "started\nfinished\n", contents)
	case <-time.After(10 * time.Second):
		t.Fatal("log stream did not close after the task finished")
	}
}

func TestEnvironmentLogsNotFound(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	resp := doJSON(t, server, http.MethodGet, "/environments/ghost/logs", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventsStreamDeliversTicks(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the handler's subscription before notifying.
	deadline := time.Now().Add(5 * time.Second)
	for d.broker.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("events handler never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	d.broker.Notify()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: update\n", line)

	d.broker.Shutdown()
	_, err = io.ReadAll(reader)
	assert.NoError(t, err)
}

func TestResetDatabaseDropsAllRows(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	_, err := store.CreateProject("web", "/srv/web")
	require.NoError(t, err)

	resp := doJSON(t, server, http.MethodPost, "/reset-database", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	projects, err := store.ListProjects()
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestErrorBodiesCarryMessage(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	resp := doJSON(t, server, http.MethodPost, "/projects", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[map[string]string](t, resp)
	assert.True(t, strings.Contains(body["error"], "invalid request body") ||
		strings.Contains(body["error"], "required"))
}

func TestMetricsEndpointServes(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	resp := doJSON(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	contents, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "burrow_jobs_active")
}
