package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"showcase/internal/storage"
	"showcase/pkg/zip"
)

func (a *App) DownloadVideo(w http.ResponseWriter, r *http.Request) {
	a.serveArtifact(w, r, storage.KindFinalVideo, "showcase_%s.mp4", "video/mp4")
}

func (a *App) DownloadContactSheet(w http.ResponseWriter, r *http.Request) {
	a.serveArtifact(w, r, storage.KindContactSheet, "contact_sheet_%s.png", "image/png")
}

func (a *App) serveArtifact(w http.ResponseWriter, r *http.Request, kind storage.Kind, nameFormat, contentType string) {
	id := chi.URLParam(r, "id")
	f, err := a.Jobs.OpenArtifact(id, kind)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf(nameFormat, id)))
	http.ServeContent(w, r, filepath.Base(f.Name()), info.ModTime(), f)
}

// DownloadFrames streams every frame of a job as one zip archive.
func (a *App) DownloadFrames(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	frames, err := a.Jobs.Frames(id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	files := make([]zip.File, 0, len(frames))
	for _, f := range frames {
		files = append(files, zip.File{Name: f.Name, Path: f.Path})
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "frames_"+id+".zip"))
	if err := zip.WriteFiles(w, files); err != nil {
		a.Logger.Error().Err(err).Str("job_id", id).Msg("frames archive interrupted")
	}
}
