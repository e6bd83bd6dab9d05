package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/synctab/synctab/internal/model"
	"github.com/synctab/synctab/internal/service"
)

const (
	contentJSON    = "application/json"
	contentProblem = "application/problem+json"
)

// Problem is the RFC 9457 error body, Code names the error for clients.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{model.ErrUnknownJob, "unknown_job", http.StatusNotFound},
	{model.ErrUnknownTask, "unknown_task", http.StatusNotFound},
	{model.ErrAlreadyRunning, "already_running", http.StatusConflict},
	{model.ErrNotRunning, "not_running", http.StatusConflict},
	{model.ErrInvalidJob, "invalid_job", http.StatusBadRequest},
	{model.ErrInvalidTask, "invalid_task", http.StatusBadRequest},
	{service.ErrShuttingDown, "shutting_down", http.StatusServiceUnavailable},
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			writeProblem(w, ec.status, err.Error(), ec.code)
			return
		}
	}
	slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeProblem(w, http.StatusInternalServerError, err.Error(), "")
}

func writeProblem(w http.ResponseWriter, status int, detail, code string) {
	w.Header().Set("Content-Type", contentProblem)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code,
	})
}

// problemError turns a decoded problem back into the matching sentinel error.
func problemError(p Problem) error {
	for _, ec := range errorCodes {
		if ec.code != "" && ec.code == p.Code {
			return &remoteError{err: ec.err, detail: p.Detail}
		}
	}
	return &remoteError{status: p.Status, detail: p.Detail}
}

type remoteError struct {
	err    error
	status int
	detail string
}

func (e *remoteError) Error() string {
	if e.detail != "" {
		return e.detail
	}
	if e.err != nil {
		return e.err.Error()
	}
	return http.StatusText(e.status)
}

func (e *remoteError) Unwrap() error {
	return e.err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
