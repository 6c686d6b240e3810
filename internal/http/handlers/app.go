package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"showcase/internal/domain"
	"showcase/internal/jobs"
	"showcase/internal/middleware"
	"showcase/internal/pipeline"
	"showcase/internal/storage"
)

// defaultMaxUploadBytes bounds one multipart upload request.
const defaultMaxUploadBytes = 50 << 20

type App struct {
	Jobs           *pipeline.Service
	Logger         zerolog.Logger
	MaxUploadBytes int64
}

func NewApp(svc *pipeline.Service, logger zerolog.Logger, maxUploadBytes int64) *App {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &App{Jobs: svc, Logger: logger, MaxUploadBytes: maxUploadBytes}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Error: errCode, Message: message})
}

// fail maps service errors onto status codes.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	switch {
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, storage.ErrNotFound), errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "Job or artifact not found")
	case errors.Is(err, domain.ErrValidation):
		msg := err.Error()
		if errors.As(err, &de) && de.Message != "" {
			msg = de.Message
		}
		a.error(w, http.StatusBadRequest, string(domain.CodeValidation), msg)
	case errors.Is(err, jobs.ErrTerminal):
		a.error(w, http.StatusConflict, "job_finished", "Job already finished")
	case errors.Is(err, domain.ErrNotReady):
		a.error(w, http.StatusConflict, "not_ready", "Artifact is not available yet")
	case errors.Is(err, pipeline.ErrShuttingDown):
		a.error(w, http.StatusServiceUnavailable, "unavailable", "Server is shutting down")
	default:
		a.Logger.Error().
			Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "Internal server error")
	}
}
