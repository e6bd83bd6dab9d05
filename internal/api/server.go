// Package api is the remote control interface of the daemon: an HTTP+JSON
// API under /api/v1 and a push channel, where the daemon POSTs every
// model.Notification to the callback URL an observer registered.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/synctab/synctab/internal/model"
	"github.com/synctab/synctab/internal/service"
)

const basePath = "/api/v1"

// Commander is the daemon side of every API call.
type Commander interface {
	Jobs() []model.Job
	Job(ref string) (model.Job, error)
	PutJob(ctx context.Context, job model.Job) (model.Job, error)
	SetJobs(ctx context.Context, jobs []model.Job) error
	DeleteJob(ctx context.Context, ref string) error

	Tasks() []model.Task
	Task(id string) (model.Task, error)
	PutTask(ctx context.Context, task model.Task) (model.Task, error)
	SetTasks(ctx context.Context, tasks []model.Task) error
	DeleteTask(ctx context.Context, id string) error

	StartJob(ctx context.Context, ref string) (*service.Run, error)
	StopJob(ctx context.Context, ref string) error
	IsRunning(ref string) (bool, error)

	SetCronActive(ctx context.Context, active bool)
	IsCronActive() bool

	RegisterClient(ctx context.Context, n service.Notifier, hostname string)
	RemoveClient(ctx context.Context, n service.Notifier, hostname string)

	Status() model.Status
	History(ctx context.Context, ref string) ([]model.RunRecord, error)
	Shutdown(ctx context.Context) error
}

// Server provides the HTTP API of the daemon.
type Server struct {
	cmd    Commander
	server *http.Server
}

func NewServer(cmd Commander) *Server {
	s := &Server{cmd: cmd}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// RunningResponse is the body of GET /jobs/{ref}/running.
type RunningResponse struct {
	Running bool `json:"running"`
}

// CronState is the body of GET and PUT /cron.
type CronState struct {
	Active bool `json:"active"`
}

// ClientRequest registers or removes an observer.
type ClientRequest struct {
	URL      string `json:"url"`
	Hostname string `json:"hostname"`
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route(basePath, func(r chi.Router) {
		r.Get("/jobs", s.listJobs)
		r.Put("/jobs", s.setJobs)
		r.Post("/jobs", s.createJob)
		r.Get("/jobs/{ref}", s.getJob)
		r.Put("/jobs/{ref}", s.putJob)
		r.Delete("/jobs/{ref}", s.deleteJob)
		r.Post("/jobs/{ref}/start", s.startJob)
		r.Post("/jobs/{ref}/stop", s.stopJob)
		r.Get("/jobs/{ref}/running", s.isRunning)

		r.Get("/tasks", s.listTasks)
		r.Put("/tasks", s.setTasks)
		r.Post("/tasks", s.createTask)
		r.Get("/tasks/{id}", s.getTask)
		r.Put("/tasks/{id}", s.putTask)
		r.Delete("/tasks/{id}", s.deleteTask)

		r.Get("/cron", s.getCron)
		r.Put("/cron", s.setCron)
		r.Post("/clients", s.registerClient)
		r.Delete("/clients", s.removeClient)
		r.Get("/status", s.status)
		r.Get("/history/{ref}", s.history)
		r.Post("/shutdown", s.shutdown)
	})
	return r
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err), "")
		return false
	}
	return true
}

// param returns a path parameter, chi keeps it escaped when the
// request path has escaped slashes
func param(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v
	}
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

// --- Jobs ---

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cmd.Jobs())
}

func (s *Server) setJobs(w http.ResponseWriter, r *http.Request) {
	var jobs []model.Job
	if !decode(w, r, &jobs) {
		return
	}
	if err := s.cmd.SetJobs(r.Context(), jobs); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cmd.Jobs())
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var job model.Job
	if !decode(w, r, &job) {
		return
	}
	job.ID = ""
	job, err := s.cmd.PutJob(r.Context(), job)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.cmd.Job(param(r, "ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// putJob creates or replaces the Job with the id of the path.
func (s *Server) putJob(w http.ResponseWriter, r *http.Request) {
	var job model.Job
	if !decode(w, r, &job) {
		return
	}
	job.ID = param(r, "ref")
	job, err := s.cmd.PutJob(r.Context(), job)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.cmd.DeleteJob(r.Context(), param(r, "ref")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	run, err := s.cmd.StartJob(r.Context(), param(r, "ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run.Status())
}

func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	if err := s.cmd.StopJob(r.Context(), param(r, "ref")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) isRunning(w http.ResponseWriter, r *http.Request) {
	running, err := s.cmd.IsRunning(param(r, "ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RunningResponse{Running: running})
}

// --- Tasks ---

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cmd.Tasks())
}

func (s *Server) setTasks(w http.ResponseWriter, r *http.Request) {
	var tasks []model.Task
	if !decode(w, r, &tasks) {
		return
	}
	if err := s.cmd.SetTasks(r.Context(), tasks); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cmd.Tasks())
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var task model.Task
	if !decode(w, r, &task) {
		return
	}
	task.ID = ""
	task, err := s.cmd.PutTask(r.Context(), task)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.cmd.Task(param(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) putTask(w http.ResponseWriter, r *http.Request) {
	var task model.Task
	if !decode(w, r, &task) {
		return
	}
	task.ID = param(r, "id")
	task, err := s.cmd.PutTask(r.Context(), task)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.cmd.DeleteTask(r.Context(), param(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Server ---

func (s *Server) getCron(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, CronState{Active: s.cmd.IsCronActive()})
}

func (s *Server) setCron(w http.ResponseWriter, r *http.Request) {
	var state CronState
	if !decode(w, r, &state) {
		return
	}
	s.cmd.SetCronActive(r.Context(), state.Active)
	writeJSON(w, http.StatusOK, CronState{Active: s.cmd.IsCronActive()})
}

func (s *Server) registerClient(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := NewCallbackNotifier(req.URL)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	s.cmd.RegisterClient(r.Context(), n, req.Hostname)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeClient(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := NewCallbackNotifier(q.Get("url"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	s.cmd.RemoveClient(r.Context(), n, q.Get("hostname"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cmd.Status())
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	recs, err := s.cmd.History(r.Context(), param(r, "ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) shutdown(w http.ResponseWriter, r *http.Request) {
	slog.InfoContext(r.Context(), "shutdown requested", "remote", r.RemoteAddr)
	if err := s.cmd.Shutdown(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
