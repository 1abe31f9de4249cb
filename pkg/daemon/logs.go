package daemon

import (
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

const (
	tailInterval = 100 * time.Millisecond
	// The owning entity's status is re-read every this many tail ticks.
	tailStatusTicks = 10
)

// handleTaskLogs returns the task's captured output. A terminal task gets
// the whole file in one response; a live one gets a streaming tail that
// closes once the task finishes.
func (d *Daemon) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := d.store.GetTask(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logPath, err := d.paths.TaskLogPath(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if task.Status.Terminal() {
		contents, err := os.ReadFile(logPath)
		if err != nil && !os.IsNotExist(err) {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(contents)
		return
	}

	d.tailFile(w, r, logPath, func() bool {
		task, err := d.store.GetTask(id)
		if err != nil {
			return true
		}
		return task.Status.Terminal()
	})
}

// handleEnvironmentLogs tails the environment's lifecycle log. The stream
// closes once the environment row disappears or fails terminally.
func (d *Daemon) handleEnvironmentLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	env, err := d.store.GetEnvironment(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logPath, err := d.paths.EnvironmentLogPath(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if env.Status == types.EnvironmentFailed {
		contents, err := os.ReadFile(logPath)
		if err != nil && !os.IsNotExist(err) {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(contents)
		return
	}

	d.tailFile(w, r, logPath, func() bool {
		env, err := d.store.GetEnvironment(id)
		if err != nil {
			return errors.Is(err, storage.ErrNotFound)
		}
		return env.Status == types.EnvironmentFailed
	})
}

// tailFile streams bytes appended to path until done reports the owning
// entity terminal, then drains whatever remains and returns. The file may
// not exist yet when tailing starts.
func (d *Daemon) tailFile(w http.ResponseWriter, r *http.Request, path string, done func() bool) {
	flusher, _ := w.(http.Flusher)
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	var pos int64

	// copyNew writes any bytes past pos; false means the client went away.
	copyNew := func() bool {
		info, err := os.Stat(path)
		if err != nil || info.Size() <= pos {
			return true
		}
		f, err := os.Open(path)
		if err != nil {
			return true
		}
		defer f.Close()
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return true
		}
		n, err := io.Copy(w, f)
		pos += n
		if err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	ticker := time.NewTicker(tailInterval)
	defer ticker.Stop()

	for tick := 0; ; tick++ {
		if !copyNew() {
			return
		}
		if tick%tailStatusTicks == 0 && done() {
			copyNew()
			return
		}
		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		case <-d.broker.ShutdownChan():
			return
		}
	}
}
