package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/provider"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Resolver maps a provider name to its handler. Satisfied by
// provider.Registry; tests substitute fakes.
type Resolver interface {
	Resolve(name string) (provider.Provider, error)
}

// Config tunes the worker pool. Zero values fall back to the defaults.
type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	MaxConcurrent int
	LeaseSeconds  int64
	RenewInterval time.Duration
	RetryLimit    int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 8
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.LeaseSeconds <= 0 {
		c.LeaseSeconds = 30
	}
	if c.RenewInterval <= 0 {
		c.RenewInterval = 10 * time.Second
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = 2
	}
	return c
}

// Pool claims jobs from the store and executes them with bounded
// concurrency. One pool runs per daemon.
type Pool struct {
	store     *storage.Store
	providers Resolver
	broker    *events.Broker
	paths     *paths.Resolver
	cfg       Config

	// loadConfig re-reads the user config so run_task picks up provider
	// changes without a daemon restart.
	loadConfig func() (*config.Config, error)

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewPool creates a worker pool
func NewPool(store *storage.Store, providers Resolver, broker *events.Broker, resolver *paths.Resolver, cfg Config) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		store:     store,
		providers: providers,
		broker:    broker,
		paths:     resolver,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
	p.loadConfig = func() (*config.Config, error) {
		path, err := resolver.ConfigPath()
		if err != nil {
			return nil, err
		}
		return config.Load(path)
	}
	return p
}

// Run drives the claim loop until ctx is cancelled, then waits for
// in-flight jobs to finish.
func (p *Pool) Run(ctx context.Context) {
	logger := log.WithComponent("worker")
	logger.Info().Msg("job processor started")

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		available := cap(p.sem) - len(p.sem)
		if available > 0 {
			limit := min(available, p.cfg.BatchSize)
			jobs, err := p.store.ClaimBatch(limit, p.cfg.LeaseSeconds)
			if err != nil {
				logger.Error().Err(err).Msg("failed to claim pending jobs")
			} else {
				for _, job := range jobs {
					p.sem <- struct{}{}
					p.wg.Add(1)
					go func(job types.Job) {
						defer func() {
							<-p.sem
							p.wg.Done()
						}()
						p.process(job)
					}(job)
				}
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			logger.Info().Msg("job processor shutting down")
			p.wg.Wait()
			return
		}
	}
}

func retryDelaySeconds(attempt int) int64 {
	exp := min(max(attempt, 1), 5)
	return min(int64(1)<<exp, 60)
}

// lifecycleEnvID returns the environment whose lifecycle log records this
// job's phases. run_task output goes to the task log instead.
func lifecycleEnvID(job *types.Job) string {
	switch job.Type {
	case types.JobPrepareEnvironment, types.JobUpdateEnvironment, types.JobClaimEnvironment,
		types.JobRemoveEnvironment, types.JobRemoveTask:
		return job.Payload.EnvID
	}
	return ""
}

// appendLifecycleLog appends one timestamped line to the environment's
// lifecycle log. Log sink errors are swallowed.
func (p *Pool) appendLifecycleLog(envID, line string) {
	logger := log.WithEnvironmentID(envID)
	logPath, err := p.paths.EnvironmentLogPath(envID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to build environment log path")
		return
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		logger.Warn().Err(err).Msg("failed to create environment log directory")
		return
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open environment lifecycle log")
		return
	}
	defer f.Close()

	ts := time.Now().UTC().Format(time.RFC3339)
	if _, err := fmt.Fprintf(f, "%s %s\n", ts, line); err != nil {
		logger.Warn().Err(err).Msg("failed to append environment lifecycle log")
	}
}

func (p *Pool) environmentLogPath(envID string) string {
	logPath, err := p.paths.EnvironmentLogPath(envID)
	if err != nil {
		return ""
	}
	return logPath
}

// leaseHeartbeat renews the job's lease until stopped. Exits early when
// the store reports lost ownership.
func (p *Pool) leaseHeartbeat(jobID string, stop <-chan struct{}) {
	logger := log.WithJobID(jobID)
	ticker := time.NewTicker(p.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ok, err := p.store.RefreshJobLease(jobID, p.cfg.LeaseSeconds)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to refresh job lease")
				continue
			}
			if !ok {
				return
			}
		case <-stop:
			return
		}
	}
}

func (p *Pool) process(job types.Job) {
	logger := log.WithJobID(job.ID)
	logger.Info().
		Str("job_type", string(job.Type)).
		Int("attempt", job.Attempt).
		Msg("processing job")

	metrics.JobsActive.Inc()
	started := time.Now()
	defer func() {
		metrics.JobsActive.Dec()
		metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(started).Seconds())
	}()

	envID := lifecycleEnvID(&job)
	if envID != "" {
		p.appendLifecycleLog(envID, fmt.Sprintf("job=%s attempt=%d phase=start", job.Type, job.Attempt))
	}

	stopHeartbeat := make(chan struct{})
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		p.leaseHeartbeat(job.ID, stopHeartbeat)
	}()

	err := p.dispatch(&job)

	close(stopHeartbeat)
	<-heartbeatDone

	if err == nil {
		if markErr := p.store.MarkJobComplete(job.ID); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark job complete")
		}
		if envID != "" {
			p.appendLifecycleLog(envID, fmt.Sprintf("job=%s attempt=%d phase=complete", job.Type, job.Attempt))
		}
		metrics.JobsProcessedTotal.WithLabelValues(string(job.Type)).Inc()
		p.broker.Notify()
		return
	}

	logger.Error().Err(err).Msg("job failed")

	if job.Attempt <= p.cfg.RetryLimit {
		delay := retryDelaySeconds(job.Attempt)
		if envID != "" {
			p.appendLifecycleLog(envID, fmt.Sprintf(
				"job=%s attempt=%d phase=retrying delay_seconds=%d error=%s",
				job.Type, job.Attempt, delay, err,
			))
		}
		if requeueErr := p.store.RequeueJob(job.ID, err.Error(), delay); requeueErr != nil {
			logger.Error().Err(requeueErr).Msg("failed to requeue failed job")
			p.failTerminally(&job, err)
			return
		}
		metrics.JobsRetriedTotal.WithLabelValues(string(job.Type)).Inc()
		p.broker.Notify()
		return
	}

	if envID != "" {
		p.appendLifecycleLog(envID, fmt.Sprintf(
			"job=%s attempt=%d phase=failed error=%s", job.Type, job.Attempt, err,
		))
	}
	p.failTerminally(&job, err)
}

func (p *Pool) failTerminally(job *types.Job, cause error) {
	if err := p.store.MarkJobFailed(job.ID, cause.Error()); err != nil {
		logger := log.WithJobID(job.ID)
		logger.Error().Err(err).Msg("failed to mark job failed")
	}
	p.applyTerminalSideEffects(job)
	metrics.JobsFailedTotal.WithLabelValues(string(job.Type)).Inc()
	p.broker.Notify()
}

// applyTerminalSideEffects propagates a job's terminal failure onto the
// entities it was driving. remove_task keeps the task row so removal can
// be re-issued after the provider is fixed.
func (p *Pool) applyTerminalSideEffects(job *types.Job) {
	switch job.Type {
	case types.JobPrepareEnvironment, types.JobClaimEnvironment, types.JobRunTask:
		if job.Payload.EnvID != "" {
			_ = p.store.UpdateEnvironmentStatus(job.Payload.EnvID, types.EnvironmentFailed)
		}
		if job.Payload.TaskID != "" {
			_ = p.store.UpdateTaskStatus(job.Payload.TaskID, types.TaskFailed)
		}
	case types.JobUpdateEnvironment, types.JobRemoveEnvironment, types.JobRemoveTask:
		if job.Payload.EnvID != "" {
			_ = p.store.UpdateEnvironmentStatus(job.Payload.EnvID, types.EnvironmentFailed)
		}
	}
}

func (p *Pool) dispatch(job *types.Job) error {
	switch job.Type {
	case types.JobPrepareEnvironment:
		return p.prepareEnvironment(job)
	case types.JobUpdateEnvironment:
		return p.updateEnvironment(job)
	case types.JobClaimEnvironment:
		return p.claimEnvironment(job)
	case types.JobRemoveEnvironment:
		return p.removeEnvironment(job)
	case types.JobRemoveTask:
		return p.removeTask(job)
	case types.JobRunTask:
		return p.runTask(job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}
