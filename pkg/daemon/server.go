package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/provider"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

// Options configure daemon startup
type Options struct {
	// Force removes stale runtime files left by a previous run.
	Force bool
	// Worker overrides pool tuning; zero values use the defaults.
	Worker worker.Config
}

// Daemon serves the HTTP API against one store and event broker
type Daemon struct {
	store  *storage.Store
	broker *events.Broker
	paths  *paths.Resolver
}

// New creates an API daemon. Run wires one up from a path resolver;
// tests construct them directly.
func New(store *storage.Store, broker *events.Broker, resolver *paths.Resolver) *Daemon {
	return &Daemon{
		store:  store,
		broker: broker,
		paths:  resolver,
	}
}

// Run starts the daemon: opens the store, launches the worker pool, and
// serves the API on the unix socket. It blocks until SIGINT or SIGTERM,
// then drains in-flight work and removes the runtime files.
func Run(resolver *paths.Resolver, opts Options) error {
	if err := resolver.EnsureDirs(); err != nil {
		return err
	}

	sockPath, err := resolver.SocketPath()
	if err != nil {
		return err
	}
	pidPath, err := resolver.PIDPath()
	if err != nil {
		return err
	}
	if err := claimRuntimeFiles(pidPath, sockPath, opts.Force); err != nil {
		return err
	}

	dbPath, err := resolver.DatabasePath()
	if err != nil {
		return err
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	cfgPath, err := resolver.ConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	worktreesDir, err := resolver.WorktreesDir()
	if err != nil {
		return err
	}
	registry := provider.NewRegistry(cfg, worktreesDir)

	broker := events.NewBroker()
	pool := worker.NewPool(store, registry, broker, resolver, opts.Worker)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		pool.Run(workerCtx)
	}()

	d := New(store, broker, resolver)
	go d.watchStateMetrics(workerCtx)

	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("failed to bind unix socket: %w", err)
	}

	server := &http.Server{Handler: d.Router()}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	logger := log.WithComponent("daemon")
	logger.Info().Str("socket", sockPath).Int("pid", os.Getpid()).Msg("daemon listening")

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-serveErr:
		cleanupRuntimeFiles(pidPath, sockPath)
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	// A second signal aborts the drain; runtime files still come off disk.
	go func() {
		<-sigCh
		cleanupRuntimeFiles(pidPath, sockPath)
		os.Exit(1)
	}()

	broker.Shutdown()
	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown incomplete")
	}
	<-workerDone

	cleanupRuntimeFiles(pidPath, sockPath)
	logger.Info().Msg("daemon stopped")
	return nil
}

// claimRuntimeFiles refuses to start over an existing socket or PID file
// unless force is set, in which case the leftovers are removed.
func claimRuntimeFiles(pidPath, sockPath string, force bool) error {
	for _, path := range []string{pidPath, sockPath} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if !force {
			return fmt.Errorf("%s already exists; is the daemon running? (use --force to replace stale runtime files)", path)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove stale runtime file %s: %w", path, err)
		}
	}
	return nil
}

func cleanupRuntimeFiles(pidPath, sockPath string) {
	os.Remove(sockPath)
	os.Remove(pidPath)
}

// watchStateMetrics keeps the entity-count gauges current by recounting
// on every change tick.
func (d *Daemon) watchStateMetrics(ctx context.Context) {
	sub := d.broker.Subscribe()
	defer d.broker.Unsubscribe(sub)

	d.refreshStateMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub:
			if !ok {
				return
			}
			d.refreshStateMetrics()
		}
	}
}

func (d *Daemon) refreshStateMetrics() {
	if envs, err := d.store.ListEnvironments(); err == nil {
		counts := make(map[types.EnvironmentStatus]int)
		for _, env := range envs {
			counts[env.Status]++
		}
		for _, status := range []types.EnvironmentStatus{
			types.EnvironmentPreparing, types.EnvironmentPool, types.EnvironmentInUse,
			types.EnvironmentRemoving, types.EnvironmentFailed,
		} {
			metrics.EnvironmentsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
		}
	}
	if tasks, err := d.store.ListTasks(); err == nil {
		counts := make(map[types.TaskStatus]int)
		for _, task := range tasks {
			counts[task.Status]++
		}
		for _, status := range []types.TaskStatus{
			types.TaskPending, types.TaskStarted, types.TaskComplete, types.TaskFailed,
		} {
			metrics.TasksTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
		}
	}
}
