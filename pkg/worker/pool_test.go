package worker

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/provider"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// fakeProvider lets each test script provider behavior per operation
type fakeProvider struct {
	prepareCalls int
	removeCalls  int

	prepareErr error
	removeErr  error
	runSpec    *provider.RunSpec
}

func (f *fakeProvider) Prepare(_ *types.Project, envID, _ string) (types.Metadata, error) {
	f.prepareCalls++
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return types.Metadata{"workspace": "/tmp/" + envID}, nil
}

func (f *fakeProvider) Update(metadata types.Metadata, _ string) (types.Metadata, error) {
	return metadata, nil
}

func (f *fakeProvider) Claim(metadata types.Metadata, _ string) (types.Metadata, error) {
	return metadata, nil
}

func (f *fakeProvider) Remove(_ types.Metadata, _ string) error {
	f.removeCalls++
	return f.removeErr
}

func (f *fakeProvider) Run(_ types.Metadata, command string, args []string) (*provider.RunSpec, error) {
	if f.runSpec != nil {
		return f.runSpec, nil
	}
	return &provider.RunSpec{Program: command, Args: args}, nil
}

func (f *fakeProvider) Exec(_ types.Metadata, command string, args []string) (*provider.RunSpec, error) {
	return &provider.RunSpec{Program: command, Args: args}, nil
}

func (f *fakeProvider) ExecCommands(_ types.Metadata) ([]provider.ExecCommand, error) {
	return nil, nil
}

type fakeResolver struct {
	providers map[string]provider.Provider
}

func (r *fakeResolver) Resolve(name string) (provider.Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown environment provider: %s", name)
	}
	return p, nil
}

type poolFixture struct {
	pool     *Pool
	store    *storage.Store
	paths    *paths.Resolver
	provider *fakeProvider
	project  *types.Project
}

func newPoolFixture(t *testing.T) *poolFixture {
	t.Helper()

	resolver := paths.NewResolver(t.TempDir())
	dbPath, err := resolver.DatabasePath()
	require.NoError(t, err)
	store, err := storage.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fake := &fakeProvider{}
	pool := NewPool(store, &fakeResolver{
		providers: map[string]provider.Provider{"fake": fake},
	}, events.NewBroker(), resolver, Config{})

	project, err := store.CreateProject("web", "/tmp/web")
	require.NoError(t, err)

	return &poolFixture{pool: pool, store: store, paths: resolver, provider: fake, project: project}
}

// claimOne claims the single eligible job and hands it to the pool
func (f *poolFixture) processNext(t *testing.T) types.Job {
	t.Helper()
	jobs, err := f.store.ClaimBatch(1, 30)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	f.pool.process(jobs[0])
	return jobs[0]
}

func TestPrepareEnvironmentJobPoolsEnvironment(t *testing.T) {
	f := newPoolFixture(t)

	env, err := f.store.StagePrepareEnvironment(f.project.ID, "fake", false)
	require.NoError(t, err)

	job := f.processNext(t)

	got, err := f.store.GetEnvironment(env.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EnvironmentPool, got.Status)
	assert.Equal(t, "/tmp/"+env.ID, got.Metadata["workspace"])

	doneJob, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobComplete, doneJob.Status)

	logPath, err := f.paths.EnvironmentLogPath(env.ID)
	require.NoError(t, err)
	contents, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "job=prepare_environment attempt=1 phase=start")
	assert.Contains(t, string(contents), "job=prepare_environment attempt=1 phase=complete")
}

func TestPrepareEnvironmentClaimAfterPrepare(t *testing.T) {
	f := newPoolFixture(t)

	env, err := f.store.StagePrepareEnvironment(f.project.ID, "fake", true)
	require.NoError(t, err)

	f.processNext(t)

	got, err := f.store.GetEnvironment(env.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EnvironmentInUse, got.Status)
}

func TestPrepareEnvironmentIdempotentReplay(t *testing.T) {
	f := newPoolFixture(t)

	env, err := f.store.StagePrepareEnvironment(f.project.ID, "fake", false)
	require.NoError(t, err)
	f.processNext(t)
	require.Equal(t, 1, f.provider.prepareCalls)

	// Replay the same logical job against the now-pooled environment.
	job, err := f.store.InsertJob(types.JobPrepareEnvironment, types.Payload{EnvID: env.ID}, "")
	require.NoError(t, err)
	claimed, err := f.store.ClaimBatch(1, 30)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	f.pool.process(claimed[0])

	// The provider was not called again and the replay completed.
	assert.Equal(t, 1, f.provider.prepareCalls)
	replayed, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobComplete, replayed.Status)
}

func TestPrepareEnvironmentWithTaskEnqueuesRunTask(t *testing.T) {
	f := newPoolFixture(t)

	task, err := f.store.StageTaskCreate(f.project.ID, "runner", "fake", "fix the bug")
	require.NoError(t, err)

	f.processNext(t)

	env, err := f.store.GetEnvironment(task.EnvironmentID)
	require.NoError(t, err)
	assert.Equal(t, types.EnvironmentInUse, env.Status)

	jobs, err := f.store.ListJobs()
	require.NoError(t, err)
	var runJobs []types.Job
	for _, j := range jobs {
		if j.Type == types.JobRunTask {
			runJobs = append(runJobs, j)
		}
	}
	require.Len(t, runJobs, 1)
	assert.Equal(t, task.ID, runJobs[0].Payload.TaskID)
	assert.Equal(t, storage.DedupeRunTask(task.ID), runJobs[0].DedupeKey)
}

func TestPrepareFailureRequeuesWithBackoff(t *testing.T) {
	f := newPoolFixture(t)
	f.provider.prepareErr = fmt.Errorf("disk full")

	env, err := f.store.StagePrepareEnvironment(f.project.ID, "fake", false)
	require.NoError(t, err)

	job := f.processNext(t)

	requeued, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobPending, requeued.Status)
	assert.NotEmpty(t, requeued.NotBefore)
	assert.Contains(t, requeued.LastError, "disk full")

	// Transient failure leaves the environment untouched.
	got, err := f.store.GetEnvironment(env.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EnvironmentPreparing, got.Status)
}

func TestPrepareTerminalFailureMarksEntitiesFailed(t *testing.T) {
	f := newPoolFixture(t)
	f.provider.prepareErr = fmt.Errorf("disk full")

	task, err := f.store.StageTaskCreate(f.project.ID, "runner", "fake", "fix the bug")
	require.NoError(t, err)

	job := f.processNext(t)

	// Drive the job past the retry limit directly.
	exhausted := job
	exhausted.Attempt = f.pool.cfg.RetryLimit + 1
	f.pool.process(exhausted)

	failed, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, failed.Status)

	env, err := f.store.GetEnvironment(task.EnvironmentID)
	require.NoError(t, err)
	assert.Equal(t, types.EnvironmentFailed, env.Status)

	gotTask, err := f.store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, gotTask.Status)
}

func TestUpdateEnvironmentMissingIsNoop(t *testing.T) {
	f := newPoolFixture(t)

	job, err := f.store.InsertJob(types.JobUpdateEnvironment, types.Payload{EnvID: "gone"}, "")
	require.NoError(t, err)
	claimed, err := f.store.ClaimBatch(1, 30)
	require.NoError(t, err)
	f.pool.process(claimed[0])

	got, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobComplete, got.Status)
}

func TestClaimEnvironmentNotInUseFailsWhenTaskNamed(t *testing.T) {
	f := newPoolFixture(t)

	env, err := f.store.StagePrepareEnvironment(f.project.ID, "fake", false)
	require.NoError(t, err)

	err = f.pool.claimEnvironment(&types.Job{
		Type:    types.JobClaimEnvironment,
		Payload: types.Payload{EnvID: env.ID, TaskID: "t1"},
	})
	assert.ErrorContains(t, err, "not in use")

	// Without a task the same state is a no-op.
	err = f.pool.claimEnvironment(&types.Job{
		Type:    types.JobClaimEnvironment,
		Payload: types.Payload{EnvID: env.ID},
	})
	assert.NoError(t, err)
}

func TestRemoveTaskSurvivesProviderFailure(t *testing.T) {
	f := newPoolFixture(t)

	env, err := f.store.CreatePreparingEnvironment("env1", f.project.ID, "fake")
	require.NoError(t, err)
	task, err := f.store.CreateTask(env.ID, f.project.ID, "runner", "do things")
	require.NoError(t, err)

	f.provider.removeErr = fmt.Errorf("workspace busy")
	require.NoError(t, f.store.StageRemoveTask(task.ID))

	job := f.processNext(t)
	exhausted := job
	exhausted.Attempt = f.pool.cfg.RetryLimit + 1
	f.pool.process(exhausted)

	// Terminal failure keeps the task row and fails the environment.
	gotTask, err := f.store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, gotTask.ID)
	gotEnv, err := f.store.GetEnvironment(env.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EnvironmentFailed, gotEnv.Status)

	// Once the provider recovers a second removal succeeds.
	f.provider.removeErr = nil
	require.NoError(t, f.store.StageRemoveTask(task.ID))
	f.processNext(t)

	_, err = f.store.GetTask(task.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.store.GetEnvironment(env.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func runTaskFixture(t *testing.T, f *poolFixture, command string, args []string) *types.Task {
	t.Helper()

	env, err := f.store.CreatePreparingEnvironment("env1", f.project.ID, "fake")
	require.NoError(t, err)
	require.NoError(t, f.store.CompletePreparing(env.ID, types.EnvironmentInUse, types.Metadata{}))
	task, err := f.store.CreateTask(env.ID, f.project.ID, "runner", "fix the bug")
	require.NoError(t, err)

	f.provider.runSpec = &provider.RunSpec{Program: command, Args: args}
	f.pool.loadConfig = func() (*config.Config, error) {
		return config.Parse([]byte(`
tasks:
  providers:
    runner:
      type: command
      command: ignored
      args: ["{task_description}"]
`))
	}

	_, err = f.store.InsertJob(types.JobRunTask, types.Payload{TaskID: task.ID, EnvID: env.ID}, storage.DedupeRunTask(task.ID))
	require.NoError(t, err)
	return task
}

func TestRunTaskExecutesCommandAndWritesLog(t *testing.T) {
	f := newPoolFixture(t)
	task := runTaskFixture(t, f, "/bin/sh", []string{"-c", "echo run-output"})

	job := f.processNext(t)

	gotTask, err := f.store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskComplete, gotTask.Status)

	gotJob, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobComplete, gotJob.Status)

	logPath, err := f.paths.TaskLogPath(task.ID)
	require.NoError(t, err)
	contents, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "run-output")
}

func TestRunTaskNonzeroExitFailsTask(t *testing.T) {
	f := newPoolFixture(t)
	task := runTaskFixture(t, f, "/bin/sh", []string{"-c", "echo boom >&2; exit 1"})

	job := f.processNext(t)

	gotTask, err := f.store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, gotTask.Status)

	// The command ran to completion, so the job itself succeeded.
	gotJob, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobComplete, gotJob.Status)
}

func TestRunTaskRequiresEnvironmentInUse(t *testing.T) {
	f := newPoolFixture(t)

	env, err := f.store.CreatePreparingEnvironment("env1", f.project.ID, "fake")
	require.NoError(t, err)
	task, err := f.store.CreateTask(env.ID, f.project.ID, "runner", "fix the bug")
	require.NoError(t, err)

	f.pool.loadConfig = func() (*config.Config, error) { return &config.Config{}, nil }
	err = f.pool.runTask(&types.Job{
		Type:    types.JobRunTask,
		Payload: types.Payload{TaskID: task.ID, EnvID: env.ID},
	})
	assert.ErrorContains(t, err, "not in use")
}

func TestRetryDelaySeconds(t *testing.T) {
	assert.Equal(t, int64(2), retryDelaySeconds(0))
	assert.Equal(t, int64(2), retryDelaySeconds(1))
	assert.Equal(t, int64(4), retryDelaySeconds(2))
	assert.Equal(t, int64(32), retryDelaySeconds(5))
	assert.Equal(t, int64(32), retryDelaySeconds(50))
}

func TestLifecycleEnvID(t *testing.T) {
	job := &types.Job{Type: types.JobRemoveTask, Payload: types.Payload{EnvID: "e1"}}
	assert.Equal(t, "e1", lifecycleEnvID(job))

	job = &types.Job{Type: types.JobRunTask, Payload: types.Payload{EnvID: "e1"}}
	assert.Empty(t, lifecycleEnvID(job))
}
