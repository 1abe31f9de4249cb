package worker

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

func (p *Pool) enqueueRunTask(taskID, envID string) error {
	payload := types.Payload{TaskID: taskID, EnvID: envID}
	_, err := p.store.InsertJob(types.JobRunTask, payload, storage.DedupeRunTask(taskID))
	return err
}

// prepareEnvironment creates the workspace. Replays against an
// already-ready environment short-circuit without touching the provider.
func (p *Pool) prepareEnvironment(job *types.Job) error {
	envID := job.Payload.EnvID
	if envID == "" {
		return fmt.Errorf("job payload missing env_id")
	}
	taskID := job.Payload.TaskID

	env, err := p.store.GetEnvironment(envID)
	if err != nil {
		return err
	}
	if env.Status == types.EnvironmentPool || env.Status == types.EnvironmentInUse {
		if taskID != "" {
			if err := p.enqueueRunTask(taskID, envID); err != nil {
				return err
			}
			p.broker.Notify()
		}
		return nil
	}
	if env.Status != types.EnvironmentPreparing {
		return fmt.Errorf("environment %s has unexpected status %s while preparing", envID, env.Status)
	}

	project, err := p.store.GetProject(env.ProjectID)
	if err != nil {
		return err
	}
	handler, err := p.providers.Resolve(env.Provider)
	if err != nil {
		return err
	}

	logger := log.WithEnvironmentID(envID)
	logger.Info().Str("provider", env.Provider).Msg("preparing environment")

	logPath := p.environmentLogPath(envID)
	metadata, err := handler.Prepare(project, envID, logPath)
	if err != nil {
		return err
	}

	shouldClaim := job.Payload.ClaimAfterPrepare || taskID != ""
	if shouldClaim {
		metadata, err = handler.Claim(metadata, logPath)
		if err != nil {
			return err
		}
	}

	finalStatus := types.EnvironmentPool
	if shouldClaim {
		finalStatus = types.EnvironmentInUse
	}
	if err := p.store.CompletePreparing(envID, finalStatus, metadata); err != nil {
		return err
	}

	if taskID != "" {
		if err := p.enqueueRunTask(taskID, envID); err != nil {
			return err
		}
	}

	p.broker.Notify()
	logger.Info().Str("status", string(finalStatus)).Msg("environment prepared")
	return nil
}

// updateEnvironment refreshes a pooled workspace. A missing or
// already-claimed environment makes the job a no-op.
func (p *Pool) updateEnvironment(job *types.Job) error {
	envID := job.Payload.EnvID
	if envID == "" {
		return fmt.Errorf("job payload missing env_id")
	}

	env, err := p.store.GetEnvironment(envID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if env.Status != types.EnvironmentPool {
		return nil
	}

	handler, err := p.providers.Resolve(env.Provider)
	if err != nil {
		return err
	}
	metadata, err := handler.Update(env.Metadata, p.environmentLogPath(envID))
	if err != nil {
		return err
	}

	if err := p.store.UpdateEnvironmentMetadata(envID, metadata); err != nil {
		return err
	}
	p.broker.Notify()
	return nil
}

func (p *Pool) claimEnvironment(job *types.Job) error {
	envID := job.Payload.EnvID
	if envID == "" {
		return fmt.Errorf("job payload missing env_id")
	}
	taskID := job.Payload.TaskID

	env, err := p.store.GetEnvironment(envID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if env.Status != types.EnvironmentInUse {
		if taskID != "" {
			return fmt.Errorf("environment %s is not in use", envID)
		}
		return nil
	}

	handler, err := p.providers.Resolve(env.Provider)
	if err != nil {
		return err
	}
	metadata, err := handler.Claim(env.Metadata, p.environmentLogPath(envID))
	if err != nil {
		return err
	}
	if err := p.store.UpdateEnvironmentMetadata(envID, metadata); err != nil {
		return err
	}

	if taskID != "" {
		task, err := p.store.GetTask(taskID)
		if err != nil {
			return err
		}
		if task.Status == types.TaskPending {
			if err := p.enqueueRunTask(taskID, envID); err != nil {
				return err
			}
		}
	}

	p.broker.Notify()
	return nil
}

func (p *Pool) removeEnvironment(job *types.Job) error {
	envID := job.Payload.EnvID
	if envID == "" {
		return fmt.Errorf("job payload missing env_id")
	}

	env, err := p.store.GetEnvironment(envID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	logger := log.WithEnvironmentID(envID)
	logger.Info().Str("provider", env.Provider).Msg("removing environment")

	handler, err := p.providers.Resolve(env.Provider)
	if err != nil {
		return err
	}
	if err := handler.Remove(env.Metadata, p.environmentLogPath(envID)); err != nil {
		return err
	}

	if err := p.store.DeleteEnvironment(envID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	p.broker.Notify()
	logger.Info().Msg("environment removed")
	return nil
}

// removeTask destroys the paired environment's workspace, then drops both
// rows and the task log. An already-gone environment skips provider
// cleanup.
func (p *Pool) removeTask(job *types.Job) error {
	taskID := job.Payload.TaskID
	if taskID == "" {
		return fmt.Errorf("job payload missing task_id")
	}
	envID := job.Payload.EnvID
	if envID == "" {
		return fmt.Errorf("job payload missing env_id")
	}

	env, err := p.store.GetEnvironment(envID)
	if err == nil {
		handler, err := p.providers.Resolve(env.Provider)
		if err != nil {
			return err
		}
		if err := handler.Remove(env.Metadata, p.environmentLogPath(envID)); err != nil {
			return err
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if err := p.store.DeleteTaskAndEnvironment(taskID, envID); err != nil {
		return err
	}
	if logPath, err := p.paths.TaskLogPath(taskID); err == nil {
		os.Remove(logPath)
	}
	p.broker.Notify()
	return nil
}

// runTask launches the task command described by the provider, captures
// its output in the task log, and records the exit status on the task.
func (p *Pool) runTask(job *types.Job) error {
	taskID := job.Payload.TaskID
	if taskID == "" {
		return fmt.Errorf("job payload missing task_id")
	}
	envID := job.Payload.EnvID
	if envID == "" {
		return fmt.Errorf("job payload missing env_id")
	}

	cfg, err := p.loadConfig()
	if err != nil {
		return err
	}

	task, err := p.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return nil
	}
	if task.Status == types.TaskStarted {
		return fmt.Errorf("task %s is already started", taskID)
	}

	env, err := p.store.GetEnvironment(envID)
	if err != nil {
		return err
	}
	if env.Status != types.EnvironmentInUse {
		return fmt.Errorf("environment %s is not in use", envID)
	}

	if err := p.store.StartTask(taskID); err != nil {
		return err
	}
	p.broker.Notify()

	taskProvider, err := cfg.GetTaskProvider(task.Provider)
	if err != nil {
		return err
	}
	args := taskProvider.ResolveArgs(task.Description)

	handler, err := p.providers.Resolve(env.Provider)
	if err != nil {
		return err
	}
	spec, err := handler.Run(env.Metadata, taskProvider.Command, args)
	if err != nil {
		return err
	}

	logPath, err := p.paths.TaskLogPath(taskID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()

	logger := log.WithTaskID(taskID)
	logger.Info().Str("command", spec.Program).Str("log", logPath).Msg("running task command")

	cmd := exec.Command(spec.Program, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	if spec.StdinData != nil {
		cmd.Stdin = bytes.NewReader(spec.StdinData)
	}

	runErr := cmd.Run()

	status := types.TaskComplete
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		status = types.TaskFailed
	default:
		// The process never ran; raise so the retry policy applies.
		return runErr
	}

	if err := p.store.UpdateTaskStatus(taskID, status); err != nil {
		return err
	}
	p.broker.Notify()
	logger.Info().Str("status", string(status)).Msg("task finished")
	return nil
}
