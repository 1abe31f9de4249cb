package storage

import (
	"database/sql"
	"fmt"

	"github.com/cuemby/burrow/pkg/ids"
	"github.com/cuemby/burrow/pkg/types"
)

// Staging operations compose entity writes with job insertion inside a
// single transaction. Every external mutation funnels through here so no
// job can exist without its target row and no preparing or removing row
// can exist without its job.

func dedupeForEnvironment(jobType types.JobType, envID string) string {
	return fmt.Sprintf("%s:env:%s", jobType, envID)
}

func dedupeForTask(jobType types.JobType, taskID string) string {
	return fmt.Sprintf("%s:task:%s", jobType, taskID)
}

// DedupeRunTask is the dedupe key used when enqueueing run_task jobs
func DedupeRunTask(taskID string) string {
	return dedupeForTask(types.JobRunTask, taskID)
}

// StagePrepareEnvironment creates a preparing environment and its
// prepare_environment job in one transaction.
func (s *Store) StagePrepareEnvironment(projectID, provider string, claimAfterPrepare bool) (*types.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := getProject(tx, projectID); err != nil {
		return nil, err
	}

	envID := ids.New()
	env, err := createPreparingEnvironment(tx, envID, projectID, provider)
	if err != nil {
		return nil, err
	}

	payload := types.Payload{EnvID: envID, ClaimAfterPrepare: claimAfterPrepare}
	if _, err := insertJob(tx, types.JobPrepareEnvironment, payload, dedupeForEnvironment(types.JobPrepareEnvironment, envID)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return env, nil
}

// StageTaskCreate creates a task and binds it to an environment: an
// existing pooled environment is claimed when one matches, otherwise a
// fresh preparing environment is created. The matching follow-up job is
// enqueued in the same transaction.
func (s *Store) StageTaskCreate(projectID, taskProvider, envProvider, description string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := getProject(tx, projectID); err != nil {
		return nil, err
	}

	var envID string
	reused := false
	err = tx.QueryRow(
		"SELECT id FROM environments WHERE provider = ? AND project_id = ? AND status = 'pool' ORDER BY created_at ASC LIMIT 1",
		envProvider, projectID,
	).Scan(&envID)
	switch {
	case err == nil:
		res, err := tx.Exec(
			"UPDATE environments SET status = 'in_use', updated_at = ? WHERE id = ? AND status = 'pool'",
			nowTimestamp(), envID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to claim pooled environment: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil, fmt.Errorf("environment %s left the pool concurrently: %w", envID, ErrInvalidState)
		}
		reused = true
	case err == sql.ErrNoRows:
		envID = ids.New()
		if _, err := createPreparingEnvironment(tx, envID, projectID, envProvider); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to look up pooled environment: %w", err)
	}

	task, err := createTask(tx, envID, projectID, taskProvider, description)
	if err != nil {
		return nil, err
	}

	payload := types.Payload{EnvID: envID, TaskID: task.ID}
	if reused {
		_, err = insertJob(tx, types.JobClaimEnvironment, payload, dedupeForEnvironment(types.JobClaimEnvironment, envID))
	} else {
		_, err = insertJob(tx, types.JobPrepareEnvironment, payload, dedupeForEnvironment(types.JobPrepareEnvironment, envID))
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return task, nil
}

// StageUpdateEnvironment enqueues an update_environment job for a pooled
// environment. A second staging against the same environment returns the
// already-active job.
func (s *Store) StageUpdateEnvironment(envID string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	env, err := getEnvironment(tx, envID)
	if err != nil {
		return nil, err
	}
	if env.Status != types.EnvironmentPool {
		return nil, fmt.Errorf("environment %s is not in the pool: %w", envID, ErrInvalidState)
	}

	job, err := insertJob(tx, types.JobUpdateEnvironment, types.Payload{EnvID: envID}, dedupeForEnvironment(types.JobUpdateEnvironment, envID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// StageClaimEnvironment flips a pooled environment to in_use and enqueues
// its claim_environment job.
func (s *Store) StageClaimEnvironment(envID string) (*types.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := getEnvironment(tx, envID); err != nil {
		return nil, err
	}

	res, err := tx.Exec(
		"UPDATE environments SET status = 'in_use', updated_at = ? WHERE id = ? AND status = 'pool'",
		nowTimestamp(), envID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim environment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("environment %s is not in the pool: %w", envID, ErrInvalidState)
	}

	if _, err := insertJob(tx, types.JobClaimEnvironment, types.Payload{EnvID: envID}, dedupeForEnvironment(types.JobClaimEnvironment, envID)); err != nil {
		return nil, err
	}

	env, err := getEnvironment(tx, envID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return env, nil
}

// StageClaimNextEnvironment claims the oldest pooled environment matching
// the provider and project filter.
func (s *Store) StageClaimNextEnvironment(provider, projectID string) (*types.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var envID string
	err = tx.QueryRow(
		"SELECT id FROM environments WHERE provider = ? AND project_id = ? AND status = 'pool' ORDER BY created_at ASC LIMIT 1",
		provider, projectID,
	).Scan(&envID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no available environment for provider=%s project_id=%s: %w", provider, projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up pooled environment: %w", err)
	}

	if _, err := tx.Exec(
		"UPDATE environments SET status = 'in_use', updated_at = ? WHERE id = ? AND status = 'pool'",
		nowTimestamp(), envID,
	); err != nil {
		return nil, fmt.Errorf("failed to claim environment: %w", err)
	}

	if _, err := insertJob(tx, types.JobClaimEnvironment, types.Payload{EnvID: envID}, dedupeForEnvironment(types.JobClaimEnvironment, envID)); err != nil {
		return nil, err
	}

	env, err := getEnvironment(tx, envID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return env, nil
}

// StageRemoveEnvironment marks an environment removing and enqueues its
// remove_environment job. Refuses when a task still references the
// environment or removal is already staged.
func (s *Store) StageRemoveEnvironment(envID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	env, err := getEnvironment(tx, envID)
	if err != nil {
		return err
	}

	var attached int
	if err := tx.QueryRow("SELECT COUNT(*) FROM tasks WHERE environment_id = ?", envID).Scan(&attached); err != nil {
		return fmt.Errorf("failed to count attached tasks: %w", err)
	}
	if attached > 0 {
		return fmt.Errorf("environment %s is attached to a task: %w", envID, ErrConflict)
	}
	if env.Status == types.EnvironmentRemoving {
		return fmt.Errorf("environment %s is already being removed: %w", envID, ErrConflict)
	}

	if _, err := tx.Exec(
		"UPDATE environments SET status = 'removing', updated_at = ? WHERE id = ?",
		nowTimestamp(), envID,
	); err != nil {
		return fmt.Errorf("failed to mark environment removing: %w", err)
	}

	if _, err := insertJob(tx, types.JobRemoveEnvironment, types.Payload{EnvID: envID}, dedupeForEnvironment(types.JobRemoveEnvironment, envID)); err != nil {
		return err
	}

	return tx.Commit()
}

// StageRemoveTask marks the task's environment removing and enqueues the
// remove_task job that will delete both rows after provider cleanup.
func (s *Store) StageRemoveTask(taskID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	task, err := getTask(tx, taskID)
	if err != nil {
		return err
	}

	env, err := getEnvironment(tx, task.EnvironmentID)
	if err == nil && env.Status != types.EnvironmentRemoving {
		if _, err := tx.Exec(
			"UPDATE environments SET status = 'removing', updated_at = ? WHERE id = ?",
			nowTimestamp(), env.ID,
		); err != nil {
			return fmt.Errorf("failed to mark environment removing: %w", err)
		}
	}

	payload := types.Payload{TaskID: taskID, EnvID: task.EnvironmentID}
	if _, err := insertJob(tx, types.JobRemoveTask, payload, dedupeForTask(types.JobRemoveTask, taskID)); err != nil {
		return err
	}

	return tx.Commit()
}

// ForceDeleteEnvironment deletes an environment row without provider
// cleanup. Refuses when a task still references it.
func (s *Store) ForceDeleteEnvironment(envID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := getEnvironment(tx, envID); err != nil {
		return err
	}

	var attached int
	if err := tx.QueryRow("SELECT COUNT(*) FROM tasks WHERE environment_id = ?", envID).Scan(&attached); err != nil {
		return fmt.Errorf("failed to count attached tasks: %w", err)
	}
	if attached > 0 {
		return fmt.Errorf("environment %s is attached to a task: %w", envID, ErrConflict)
	}

	if err := deleteEnvironment(tx, envID); err != nil {
		return err
	}
	return tx.Commit()
}

// ForceDeleteTask deletes a task row and its environment without provider
// cleanup.
func (s *Store) ForceDeleteTask(taskID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	task, err := getTask(tx, taskID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM tasks WHERE id = ?", taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM environments WHERE id = ?", task.EnvironmentID); err != nil {
		return fmt.Errorf("failed to delete environment: %w", err)
	}
	return tx.Commit()
}
