package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
)

// Router builds the HTTP API served on the unix socket
func (d *Daemon) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestMetrics)

	r.Get("/health", d.handleHealth)
	r.Get("/events", d.handleEvents)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/reset-database", d.handleResetDatabase)

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", d.handleListProjects)
		r.Post("/", d.handleCreateProject)
		r.Delete("/{name}", d.handleDeleteProject)
	})

	r.Route("/environments", func(r chi.Router) {
		r.Get("/", d.handleListEnvironments)
		r.Post("/", d.handlePrepareEnvironment)
		r.Post("/claim", d.handleClaimNextEnvironment)
		r.Post("/{id}/update", d.handleUpdateEnvironment)
		r.Post("/{id}/claim", d.handleClaimEnvironment)
		r.Delete("/{id}", d.handleRemoveEnvironment)
		r.Get("/{id}/logs", d.handleEnvironmentLogs)
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", d.handleListTasks)
		r.Post("/", d.handleCreateTask)
		r.Get("/{id}", d.handleGetTask)
		r.Delete("/{id}", d.handleRemoveTask)
		r.Get("/{id}/logs", d.handleTaskLogs)
	})

	return r
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicate), errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logger := log.WithComponent("api")
		logger.Error().Err(err).
			Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func skipProvider(r *http.Request) bool {
	return r.URL.Query().Get("skip_provider") == "true"
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents serves the SSE change feed. Every broker tick becomes one
// contentless "update" event; the stream closes on daemon shutdown.
func (d *Daemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	sub := d.broker.Subscribe()
	defer d.broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-d.broker.ShutdownChan():
			return
		case _, ok := <-sub:
			if !ok {
				return
			}
			if _, err := io.WriteString(w, "data: update\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (d *Daemon) handleResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := d.store.Reset(); err != nil {
		writeError(w, r, err)
		return
	}
	logger := log.WithComponent("api")
	logger.Info().Msg("database reset")
	d.broker.Notify()
	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := d.store.ListProjects()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

type createProjectRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (d *Daemon) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body createProjectRequest
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if body.Name == "" || body.Path == "" {
		writeBadRequest(w, "name and path are required")
		return
	}

	project, err := d.store.CreateProject(body.Name, body.Path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d.broker.Notify()
	writeJSON(w, http.StatusCreated, project)
}

func (d *Daemon) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := d.store.DeleteProject(chi.URLParam(r, "name")); err != nil {
		writeError(w, r, err)
		return
	}
	d.broker.Notify()
	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := d.store.ListEnvironments()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envs)
}

type prepareEnvironmentRequest struct {
	ProjectID         string `json:"project_id"`
	Provider          string `json:"provider"`
	ClaimAfterPrepare bool   `json:"claim_after_prepare"`
}

func (d *Daemon) handlePrepareEnvironment(w http.ResponseWriter, r *http.Request) {
	var body prepareEnvironmentRequest
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if body.ProjectID == "" || body.Provider == "" {
		writeBadRequest(w, "project_id and provider are required")
		return
	}

	env, err := d.store.StagePrepareEnvironment(body.ProjectID, body.Provider, body.ClaimAfterPrepare)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d.broker.Notify()
	writeJSON(w, http.StatusAccepted, env)
}

func (d *Daemon) handleUpdateEnvironment(w http.ResponseWriter, r *http.Request) {
	job, err := d.store.StageUpdateEnvironment(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	d.broker.Notify()
	writeJSON(w, http.StatusAccepted, job)
}

func (d *Daemon) handleClaimEnvironment(w http.ResponseWriter, r *http.Request) {
	env, err := d.store.StageClaimEnvironment(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	d.broker.Notify()
	writeJSON(w, http.StatusAccepted, env)
}

type claimNextEnvironmentRequest struct {
	Provider  string `json:"provider"`
	ProjectID string `json:"project_id"`
}

func (d *Daemon) handleClaimNextEnvironment(w http.ResponseWriter, r *http.Request) {
	var body claimNextEnvironmentRequest
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	env, err := d.store.StageClaimNextEnvironment(body.Provider, body.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d.broker.Notify()
	writeJSON(w, http.StatusAccepted, env)
}

func (d *Daemon) handleRemoveEnvironment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if skipProvider(r) {
		if err := d.store.ForceDeleteEnvironment(id); err != nil {
			writeError(w, r, err)
			return
		}
		d.broker.Notify()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := d.store.StageRemoveEnvironment(id); err != nil {
		writeError(w, r, err)
		return
	}
	d.broker.Notify()
	w.WriteHeader(http.StatusAccepted)
}

func (d *Daemon) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := d.store.ListTasks()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type createTaskRequest struct {
	ProjectID   string `json:"project_id"`
	Provider    string `json:"provider"`
	EnvProvider string `json:"env_provider"`
	Description string `json:"description"`
}

func (d *Daemon) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body createTaskRequest
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if body.ProjectID == "" || body.Provider == "" || body.EnvProvider == "" {
		writeBadRequest(w, "project_id, provider, and env_provider are required")
		return
	}

	task, err := d.store.StageTaskCreate(body.ProjectID, body.Provider, body.EnvProvider, body.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d.broker.Notify()
	writeJSON(w, http.StatusAccepted, task)
}

func (d *Daemon) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := d.store.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (d *Daemon) handleRemoveTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if skipProvider(r) {
		if err := d.store.ForceDeleteTask(id); err != nil {
			writeError(w, r, err)
			return
		}
		d.broker.Notify()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := d.store.StageRemoveTask(id); err != nil {
		writeError(w, r, err)
		return
	}
	d.broker.Notify()
	w.WriteHeader(http.StatusAccepted)
}
