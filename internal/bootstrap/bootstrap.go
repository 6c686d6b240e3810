// Package bootstrap assembles the pipeline service and its collaborators
// from configuration. Both binaries share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"showcase/internal/events"
	"showcase/internal/infra"
	"showcase/internal/jobs"
	"showcase/internal/media"
	"showcase/internal/pipeline"
	"showcase/internal/prompts"
	"showcase/internal/providers"
	"showcase/internal/providers/genai"
	"showcase/internal/providers/hosting"
	"showcase/internal/providers/image"
	"showcase/internal/providers/video"
	"showcase/internal/ratelimit"
	"showcase/internal/storage"
)

const redisPingTimeout = 5 * time.Second

// Runtime is a fully wired service plus the resources it owns.
type Runtime struct {
	Service *pipeline.Service
	Store   *storage.FileStore
	Limiter ratelimit.Limiter
	Prompts *prompts.Set

	closers []func() error
}

// Build wires providers according to cfg: Gemini or synthetic images,
// Higgsfield or local ffmpeg clips, Redis or in-memory rate limiting, NATS
// or no events.
func Build(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	rt.Store = store

	set, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}
	rt.Prompts = set

	client, err := genai.NewClient(genai.Options{
		APIKey:  cfg.GoogleAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		return nil, err
	}
	gemini := image.NewGemini(client, image.GeminiOptions{
		AnalyzeModel:  cfg.GeminiAnalyzeModel,
		ImageModel:    cfg.GeminiImageModel,
		FallbackModel: cfg.GeminiFallbackModel,
		AnalyzePrompt: set.Analyze,
		SheetTemplate: set.ContactSheet,
		UpscalePrompt: set.Upscale,
		Logger:        &logger,
	})
	if client.Synthetic() {
		logger.Warn().Msg("GOOGLE_API_KEY not set; images are rendered synthetically")
	}

	ffmpeg := media.NewFFmpeg(cfg.FFmpegPath, &logger)
	if !ffmpeg.Available() {
		logger.Warn().Str("ffmpeg", cfg.FFmpegPath).Msg("ffmpeg not found on PATH; stitching will fail")
	}
	videos, err := buildVideos(cfg, store, ffmpeg, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := buildEvents(cfg, logger, rt)
	if err != nil {
		return nil, err
	}

	limiter, err := buildLimiter(ctx, cfg, logger, rt)
	if err != nil {
		return nil, err
	}
	rt.Limiter = limiter

	orch, err := pipeline.NewOrchestrator(pipeline.Deps{
		Analyzer: gemini,
		Sheets:   gemini,
		Upscaler: gemini,
		Videos:   videos,
		Stitcher: ffmpeg,
		Store:    store,
		Prompts:  set,
		Events:   publisher,
		Logger:   logger,
	}, PipelineConfig(cfg.Pipeline))
	if err != nil {
		return nil, err
	}
	rt.Service = pipeline.NewService(orch, jobs.NewRegistry(), logger)
	ok = true
	return rt, nil
}

// PipelineConfig maps environment tuning onto pipeline.Config. Non-positive
// values keep the pipeline default, except MAX_DEGRADED_FRAMES=0 which
// requires every frame to be upscaled.
func PipelineConfig(p infra.PipelineConfig) pipeline.Config {
	cfg := pipeline.DefaultConfig()
	setInt(&cfg.MinImages, p.MinImages)
	setInt(&cfg.MaxImages, p.MaxImages)
	setInt(&cfg.UpscaleConcurrency, p.UpscaleConcurrency)
	setInt(&cfg.SegmentConcurrency, p.SegmentConcurrency)
	setInt(&cfg.SegmentDurationSeconds, p.SegmentDurationSeconds)
	setInt(&cfg.SubmitAttempts, p.SubmitAttempts)
	switch {
	case p.MaxDegradedFrames == 0:
		cfg.MaxDegradedFrames = pipeline.NoDegradedFrames
	case p.MaxDegradedFrames > 0:
		cfg.MaxDegradedFrames = p.MaxDegradedFrames
	}
	if p.SegmentTimeout > 0 {
		cfg.SegmentTimeout = p.SegmentTimeout
	}
	if p.PollInitial > 0 {
		cfg.PollInitial = p.PollInitial
	}
	if p.PollMax > 0 {
		cfg.PollMax = p.PollMax
	}
	if p.PollMultiplier > 0 {
		cfg.PollMultiplier = p.PollMultiplier
	}
	return cfg
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func buildVideos(cfg *infra.Config, store *storage.FileStore, ffmpeg *media.FFmpeg, logger zerolog.Logger) (providers.VideoSegmentGenerator, error) {
	if len(cfg.HiggsfieldCredentials) == 0 {
		logger.Warn().Msg("Higgsfield credentials not set; segments are rendered locally with ffmpeg")
		still, err := video.NewStill(ffmpeg, filepath.Join(store.BasePath(), "tmp", "clips"), media.DefaultClipSize, &logger)
		if err != nil {
			return nil, err
		}
		return still, nil
	}
	host, err := hosting.NewImgBB(hosting.ImgBBOptions{APIKey: cfg.ImgBBAPIKey, Logger: &logger})
	if err != nil {
		return nil, err
	}
	creds := make([]video.Credential, 0, len(cfg.HiggsfieldCredentials))
	for _, c := range cfg.HiggsfieldCredentials {
		creds = append(creds, video.Credential{APIKey: c.APIKey, Secret: c.Secret})
	}
	hf, err := video.NewHiggsfield(video.HiggsfieldOptions{
		BaseURL:     cfg.HiggsfieldBaseURL,
		Model:       cfg.HiggsfieldModel,
		Credentials: creds,
		Host:        host,
		Logger:      &logger,
	})
	if err != nil {
		return nil, err
	}
	return hf, nil
}

func buildEvents(cfg *infra.Config, logger zerolog.Logger, rt *Runtime) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		return events.Nop{}, nil
	}
	nc, err := events.ConnectNATS(cfg.NATSURL, cfg.NATSSubject, &logger)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() error {
		nc.Close()
		return nil
	})
	logger.Info().Str("subject", cfg.NATSSubject).Msg("publishing job events to NATS")
	return nc, nil
}

func buildLimiter(ctx context.Context, cfg *infra.Config, logger zerolog.Logger, rt *Runtime) (ratelimit.Limiter, error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewFixedWindow(cfg.RateLimitPerWindow, cfg.RateLimitWindow), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	rt.closers = append(rt.closers, rdb.Close)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info().Str("addr", opts.Addr).Msg("rate limiting through redis")
	return ratelimit.NewRedisWindow(rdb, "showcase:ratelimit", cfg.RateLimitPerWindow, cfg.RateLimitWindow), nil
}

// Close releases connections in reverse order of acquisition.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
