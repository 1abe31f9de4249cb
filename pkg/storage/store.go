package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cuemby/burrow/pkg/ids"
	"github.com/cuemby/burrow/pkg/types"
)

// timeFormat is RFC 3339 with fixed-width nanoseconds so stored timestamps
// compare correctly as strings in SQL.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func nowTimestamp() string {
	return time.Now().UTC().Format(timeFormat)
}

// querier is satisfied by both *sql.DB and *sql.Tx so row helpers can run
// inside or outside a transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store provides transactional persistence for projects, environments,
// tasks, and jobs on a single SQLite file.
type Store struct {
	// mu serializes Reset's handle swap against in-flight operations.
	// Every method holds it for reading; Reset and Close hold it for
	// writing so they never close a handle out from under a query.
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. The connection pool is capped at one connection; SQLite's own
// serialization then covers concurrent writers.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Reset deletes the database file and re-initializes the schema. It waits
// for in-flight operations to drain before swapping the handle.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove database file: %w", err)
		}
	}

	fresh, err := Open(s.path)
	if err != nil {
		return err
	}
	s.db = fresh.db
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Project operations

// CreateProject inserts a new project. Name collisions report ErrDuplicate.
func (s *Store) CreateProject(name, path string) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id := ids.New()
	now := nowTimestamp()
	_, err := s.db.Exec(
		"INSERT INTO projects (id, name, path, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		id, name, path, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("project name %q: %w", name, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return getProject(s.db, id)
}

// GetProject returns the project with the given id
func (s *Store) GetProject(id string) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProject(s.db, id)
}

func getProject(q querier, id string) (*types.Project, error) {
	var p types.Project
	err := q.QueryRow(
		"SELECT id, name, path, created_at, updated_at FROM projects WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// GetProjectByName returns the project with the given name
func (s *Store) GetProjectByName(name string) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p types.Project
	err := s.db.QueryRow(
		"SELECT id, name, path, created_at, updated_at FROM projects WHERE name = ?", name,
	).Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// ListProjects returns all projects ordered by name
func (s *Store) ListProjects() ([]types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT id, name, path, created_at, updated_at FROM projects ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []types.Project{}
	for rows.Next() {
		var p types.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes the project with the given name
func (s *Store) DeleteProject(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.db.Exec("DELETE FROM projects WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", name, ErrNotFound)
	}
	return nil
}

// Environment operations

func scanEnvironment(scan func(...any) error) (*types.Environment, error) {
	var e types.Environment
	var metadata string
	if err := scan(&e.ID, &e.ProjectID, &e.Provider, &e.Status, &metadata, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
		e.Metadata = types.Metadata{}
	}
	return &e, nil
}

const environmentColumns = "id, project_id, provider, status, metadata, created_at, updated_at"

// CreatePreparingEnvironment inserts a new environment in preparing status
func (s *Store) CreatePreparingEnvironment(id, projectID, provider string) (*types.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return createPreparingEnvironment(s.db, id, projectID, provider)
}

func createPreparingEnvironment(q querier, id, projectID, provider string) (*types.Environment, error) {
	now := nowTimestamp()
	_, err := q.Exec(
		"INSERT INTO environments (id, project_id, provider, status, metadata, created_at, updated_at) VALUES (?, ?, ?, 'preparing', '{}', ?, ?)",
		id, projectID, provider, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}
	return getEnvironment(q, id)
}

// GetEnvironment returns the environment with the given id
func (s *Store) GetEnvironment(id string) (*types.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEnvironment(s.db, id)
}

func getEnvironment(q querier, id string) (*types.Environment, error) {
	row := q.QueryRow("SELECT "+environmentColumns+" FROM environments WHERE id = ?", id)
	env, err := scanEnvironment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("environment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}
	return env, nil
}

// ListEnvironments returns all environments ordered by id
func (s *Store) ListEnvironments() ([]types.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT " + environmentColumns + " FROM environments ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	envs := []types.Environment{}
	for rows.Next() {
		env, err := scanEnvironment(rows.Scan)
		if err != nil {
			return nil, err
		}
		envs = append(envs, *env)
	}
	return envs, rows.Err()
}

// UpdateEnvironmentMetadata replaces the environment's metadata
func (s *Store) UpdateEnvironmentMetadata(id string, metadata types.Metadata) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	res, err := s.db.Exec(
		"UPDATE environments SET metadata = ?, updated_at = ? WHERE id = ?",
		string(data), nowTimestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update environment metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("environment %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateEnvironmentStatus sets the environment's status unconditionally
func (s *Store) UpdateEnvironmentStatus(id string, status types.EnvironmentStatus) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.db.Exec(
		"UPDATE environments SET status = ?, updated_at = ? WHERE id = ?",
		string(status), nowTimestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update environment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("environment %s: %w", id, ErrNotFound)
	}
	return nil
}

// CompletePreparing transitions a preparing environment to pool or in_use
// and writes the metadata produced by the provider in the same statement.
// Reports ErrInvalidState when the row is not in preparing.
func (s *Store) CompletePreparing(id string, status types.EnvironmentStatus, metadata types.Metadata) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if status != types.EnvironmentPool && status != types.EnvironmentInUse {
		return fmt.Errorf("cannot complete preparing into status %s: %w", status, ErrInvalidState)
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	res, err := s.db.Exec(
		"UPDATE environments SET status = ?, metadata = ?, updated_at = ? WHERE id = ? AND status = 'preparing'",
		string(status), string(data), nowTimestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete preparing environment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("environment %s is not in preparing status: %w", id, ErrInvalidState)
	}
	return nil
}

// DeleteEnvironment removes the environment row
func (s *Store) DeleteEnvironment(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deleteEnvironment(s.db, id)
}

func deleteEnvironment(q querier, id string) error {
	res, err := q.Exec("DELETE FROM environments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete environment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("environment %s: %w", id, ErrNotFound)
	}
	return nil
}

// Task operations

const taskColumns = "id, environment_id, project_id, provider, description, status, created_at, updated_at"

func scanTask(scan func(...any) error) (*types.Task, error) {
	var t types.Task
	if err := scan(&t.ID, &t.EnvironmentID, &t.ProjectID, &t.Provider, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask inserts a new pending task bound to an environment
func (s *Store) CreateTask(environmentID, projectID, provider, description string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return createTask(s.db, environmentID, projectID, provider, description)
}

func createTask(q querier, environmentID, projectID, provider, description string) (*types.Task, error) {
	id := ids.New()
	now := nowTimestamp()
	_, err := q.Exec(
		"INSERT INTO tasks (id, environment_id, project_id, provider, description, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)",
		id, environmentID, projectID, provider, description, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return getTask(q, id)
}

// GetTask returns the task with the given id
func (s *Store) GetTask(id string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTask(s.db, id)
}

func getTask(q querier, id string) (*types.Task, error) {
	row := q.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	task, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListTasks returns all tasks, newest first
func (s *Store) ListTasks() ([]types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT " + taskColumns + " FROM tasks ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []types.Task{}
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// StartTask transitions a task to started
func (s *Store) StartTask(id string) error {
	return s.UpdateTaskStatus(id, types.TaskStarted)
}

// UpdateTaskStatus sets the task's status
func (s *Store) UpdateTaskStatus(id string, status types.TaskStatus) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.db.Exec(
		"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?",
		string(status), nowTimestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteTaskAndEnvironment removes a task and its paired environment in one
// transaction. Missing rows are tolerated; provider cleanup may have run
// against rows a force delete already removed.
func (s *Store) DeleteTaskAndEnvironment(taskID, envID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM tasks WHERE id = ?", taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM environments WHERE id = ?", envID); err != nil {
		return fmt.Errorf("failed to delete environment: %w", err)
	}
	return tx.Commit()
}

// CountTasksForEnvironment returns how many tasks reference an environment
func (s *Store) CountTasksForEnvironment(envID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM tasks WHERE environment_id = ?", envID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

// Job operations

const jobColumns = "id, type, payload, status, attempt, dedupe_key, not_before, lease_expires_at, last_error, created_at, updated_at"

func scanJob(scan func(...any) error) (*types.Job, error) {
	var j types.Job
	var payload string
	var dedupe, notBefore, lease, lastError sql.NullString
	if err := scan(&j.ID, &j.Type, &payload, &j.Status, &j.Attempt, &dedupe, &notBefore, &lease, &lastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
		j.Payload = types.Payload{}
	}
	j.DedupeKey = dedupe.String
	j.NotBefore = notBefore.String
	j.LeaseExpiresAt = lease.String
	j.LastError = lastError.String
	return &j, nil
}

// InsertJob enqueues a pending job. When dedupeKey is non-empty and an
// active (pending or running) job already carries that key, the existing
// job is returned instead of inserting a second one.
func (s *Store) InsertJob(jobType types.JobType, payload types.Payload, dedupeKey string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job, err := insertJob(tx, jobType, payload, dedupeKey)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func insertJob(q querier, jobType types.JobType, payload types.Payload, dedupeKey string) (*types.Job, error) {
	if dedupeKey != "" {
		row := q.QueryRow(
			"SELECT "+jobColumns+" FROM jobs WHERE dedupe_key = ? AND status IN ('pending', 'running')",
			dedupeKey,
		)
		existing, err := scanJob(row.Scan)
		if err == nil {
			return existing, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to check dedupe key: %w", err)
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	id := ids.New()
	now := nowTimestamp()
	var dedupe any
	if dedupeKey != "" {
		dedupe = dedupeKey
	}
	_, err = q.Exec(
		"INSERT INTO jobs (id, type, payload, status, attempt, dedupe_key, created_at, updated_at) VALUES (?, ?, ?, 'pending', 0, ?, ?, ?)",
		id, string(jobType), string(data), dedupe, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	return getJob(q, id)
}

// GetJob returns the job with the given id
func (s *Store) GetJob(id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getJob(s.db, id)
}

func getJob(q querier, id string) (*types.Job, error) {
	row := q.QueryRow("SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns all jobs ordered by creation time
func (s *Store) ListJobs() ([]types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT " + jobColumns + " FROM jobs ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []types.Job{}
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ClaimBatch atomically claims up to limit eligible jobs: pending jobs whose
// not_before has passed, plus running jobs whose lease has expired. Claimed
// rows move to running with attempt incremented and a fresh lease.
func (s *Store) ClaimBatch(limit int, leaseSeconds int64) ([]types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := nowTimestamp()
	rows, err := tx.Query(
		`SELECT `+jobColumns+` FROM jobs
		 WHERE (status = 'pending' AND (not_before IS NULL OR not_before <= ?))
		    OR (status = 'running' AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
		 ORDER BY created_at ASC
		 LIMIT ?`,
		now, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable jobs: %w", err)
	}

	claimed := []types.Job{}
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, *job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	lease := time.Now().UTC().Add(time.Duration(leaseSeconds) * time.Second).Format(timeFormat)
	for i := range claimed {
		_, err := tx.Exec(
			"UPDATE jobs SET status = 'running', attempt = attempt + 1, not_before = NULL, lease_expires_at = ?, last_error = NULL, updated_at = ? WHERE id = ?",
			lease, now, claimed[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job %s: %w", claimed[i].ID, err)
		}
		claimed[i].Status = types.JobRunning
		claimed[i].Attempt++
		claimed[i].NotBefore = ""
		claimed[i].LeaseExpiresAt = lease
		claimed[i].LastError = ""
		claimed[i].UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkJobComplete moves a job to complete and releases its dedupe key
func (s *Store) MarkJobComplete(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.db.Exec(
		"UPDATE jobs SET status = 'complete', dedupe_key = NULL, lease_expires_at = NULL, updated_at = ? WHERE id = ?",
		nowTimestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job complete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkJobFailed moves a job to failed, recording the error. The dedupe key
// is released so the same logical operation can be staged again.
func (s *Store) MarkJobFailed(id, errMsg string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.db.Exec(
		"UPDATE jobs SET status = 'failed', last_error = ?, dedupe_key = NULL, lease_expires_at = NULL, updated_at = ? WHERE id = ?",
		errMsg, nowTimestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// RequeueJob returns a job to pending with a backoff delay before it
// becomes claimable again
func (s *Store) RequeueJob(id, errMsg string, delaySeconds int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	notBefore := time.Now().UTC().Add(time.Duration(delaySeconds) * time.Second).Format(timeFormat)
	res, err := s.db.Exec(
		"UPDATE jobs SET status = 'pending', not_before = ?, lease_expires_at = NULL, last_error = ?, updated_at = ? WHERE id = ?",
		notBefore, errMsg, nowTimestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// RefreshJobLease extends a running job's lease. Returns false when the row
// is no longer running, meaning the caller has lost ownership.
func (s *Store) RefreshJobLease(id string, leaseSeconds int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lease := time.Now().UTC().Add(time.Duration(leaseSeconds) * time.Second).Format(timeFormat)
	res, err := s.db.Exec(
		"UPDATE jobs SET lease_expires_at = ?, updated_at = ? WHERE id = ? AND status = 'running'",
		lease, nowTimestamp(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to refresh job lease: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
