package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"showcase/internal/bootstrap"
	"showcase/internal/http/handlers"
	httpapi "showcase/internal/http/httpapi"
	"showcase/internal/infra"
)

// jobDrainTimeout bounds how long shutdown waits for cancelled jobs to stop.
const jobDrainTimeout = 30 * time.Second

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble pipeline")
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to release resources")
		}
	}()

	app := handlers.NewApp(rt.Service, logger, cfg.MaxUploadBytes)
	router := httpapi.NewRouter(app, rt.Limiter, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("storage", rt.Store.BasePath()).Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), jobDrainTimeout)
	defer cancelDrain()
	if err := rt.Service.Shutdown(drainCtx); err != nil {
		logger.Error().Err(err).Msg("jobs still running at shutdown")
	}
	logger.Info().Msg("server stopped")
}
