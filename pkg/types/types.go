package types

// Metadata is the opaque, provider-defined state attached to an environment.
// The store persists it as JSON text; providers receive their own copy on
// every call.
type Metadata = map[string]any

// Project represents a user-declared project directory
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Environment represents a prepared workspace instance owned by a provider
type Environment struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"project_id"`
	Provider  string            `json:"provider"`
	Status    EnvironmentStatus `json:"status"`
	Metadata  Metadata          `json:"metadata"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

// EnvironmentStatus represents the lifecycle state of an environment
type EnvironmentStatus string

const (
	EnvironmentPreparing EnvironmentStatus = "preparing"
	EnvironmentPool      EnvironmentStatus = "pool"
	EnvironmentInUse     EnvironmentStatus = "in_use"
	EnvironmentRemoving  EnvironmentStatus = "removing"
	EnvironmentFailed    EnvironmentStatus = "failed"
)

// Task represents a described unit of work executed inside an environment
type Task struct {
	ID            string     `json:"id"`
	EnvironmentID string     `json:"environment_id"`
	ProjectID     string     `json:"project_id"`
	Provider      string     `json:"provider"`
	Description   string     `json:"description"`
	Status        TaskStatus `json:"status"`
	CreatedAt     string     `json:"created_at"`
	UpdatedAt     string     `json:"updated_at"`
}

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskStarted  TaskStatus = "started"
	TaskComplete TaskStatus = "complete"
	TaskFailed   TaskStatus = "failed"
)

// Terminal reports whether the task has finished (successfully or not).
func (s TaskStatus) Terminal() bool {
	return s == TaskComplete || s == TaskFailed
}

// Job represents a queued background activity owned by the job queue
type Job struct {
	ID             string    `json:"id"`
	Type           JobType   `json:"type"`
	Payload        Payload   `json:"payload"`
	Status         JobStatus `json:"status"`
	Attempt        int       `json:"attempt"`
	DedupeKey      string    `json:"dedupe_key,omitempty"`
	NotBefore      string    `json:"not_before,omitempty"`
	LeaseExpiresAt string    `json:"lease_expires_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      string    `json:"created_at"`
	UpdatedAt      string    `json:"updated_at"`
}

// JobStatus represents the queue state of a job
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
)

// JobType identifies which lifecycle operation a job drives
type JobType string

const (
	JobPrepareEnvironment JobType = "prepare_environment"
	JobUpdateEnvironment  JobType = "update_environment"
	JobClaimEnvironment   JobType = "claim_environment"
	JobRemoveEnvironment  JobType = "remove_environment"
	JobRemoveTask         JobType = "remove_task"
	JobRunTask            JobType = "run_task"
)

// Payload carries the entity references a job operates on. Targets are
// referenced by ID only; the rows themselves belong to the store.
type Payload struct {
	EnvID             string `json:"env_id,omitempty"`
	TaskID            string `json:"task_id,omitempty"`
	ClaimAfterPrepare bool   `json:"claim_after_prepare,omitempty"`
}

// Migration records one applied schema migration in the ledger
type Migration struct {
	Version   int    `json:"version"`
	Name      string `json:"name"`
	AppliedAt string `json:"applied_at"`
}
