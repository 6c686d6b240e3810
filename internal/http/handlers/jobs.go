package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"showcase/internal/domain"
	"showcase/internal/pipeline"
)

const (
	uploadField   = "files"
	deleteTimeout = 30 * time.Second
)

type uploadResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Upload accepts multipart photos in the "files" field and starts a job.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	if err := r.ParseMultipartForm(a.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "Upload exceeds the size limit")
			return
		}
		a.error(w, http.StatusBadRequest, string(domain.CodeValidation), "Expected a multipart form upload")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[uploadField]
	uploads := make([]pipeline.Upload, 0, len(headers))
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			a.error(w, http.StatusBadRequest, string(domain.CodeValidation), "Unreadable upload "+fh.Filename)
			return
		}
		opened = append(opened, f)
		uploads = append(uploads, pipeline.Upload{Filename: fh.Filename, Body: f})
	}

	id, err := a.Jobs.CreateJob(r.Context(), uploads)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, uploadResponse{
		JobID:   id,
		Status:  string(domain.JobStatusQueued),
		Message: "Processing started",
	})
}

func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Status(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) List(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": a.Jobs.List()})
}

func (a *App) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Jobs.RequestCancel(id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{
		"job_id":  id,
		"message": "Cancellation requested",
	})
}

func (a *App) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), deleteTimeout)
	defer cancel()
	if err := a.Jobs.DeleteJob(ctx, id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{
		"job_id":  id,
		"message": "Job deleted",
	})
}
