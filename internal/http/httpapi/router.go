package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"showcase/internal/http/handlers"
	"showcase/internal/middleware"
	"showcase/internal/ratelimit"
)

// NewRouter mounts the job API. limiter guards job creation only; polling
// and downloads are not rate limited.
func NewRouter(app *handlers.App, limiter ratelimit.Limiter, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.Recoverer,
		middleware.Logger(logger),
	)

	// Health
	r.Get("/", app.Health)
	r.Get("/v1/healthz", app.Health)

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RateLimit(limiter, logger)).Post("/upload", app.Upload)
		r.Get("/jobs", app.List)
		r.Get("/status/{id}", app.Status)
		r.Post("/cancel/{id}", app.Cancel)
		r.Delete("/jobs/{id}", app.Delete)

		r.Route("/download/{id}", func(r chi.Router) {
			r.Get("/video", app.DownloadVideo)
			r.Get("/contact-sheet", app.DownloadContactSheet)
			r.Get("/frames", app.DownloadFrames)
		})
	})

	return r
}
