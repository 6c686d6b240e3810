package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"showcase/internal/domain"
	"showcase/internal/events"
	"showcase/internal/jobs"
	"showcase/internal/prompts"
	"showcase/internal/providers"
	"showcase/internal/storage"
)

// Stitcher joins segment files, in order, into one video.
type Stitcher interface {
	Concat(ctx context.Context, inputs []string, output string) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Analyzer providers.ImageAnalyzer
	Sheets   providers.SheetGenerator
	Upscaler providers.FrameUpscaler
	Videos   providers.VideoSegmentGenerator
	Stitcher Stitcher
	Store    *storage.FileStore
	Prompts  *prompts.Set
	Events   events.Publisher
	Logger   zerolog.Logger
}

// Orchestrator drives one job through the stage sequence. It holds no per-job
// state; everything a run mutates lives on the job's State.
type Orchestrator struct {
	analyzer providers.ImageAnalyzer
	sheets   providers.SheetGenerator
	upscaler providers.FrameUpscaler
	videos   providers.VideoSegmentGenerator
	stitcher Stitcher
	store    *storage.FileStore
	prompts  *prompts.Set
	events   events.Publisher
	logger   zerolog.Logger
	cfg      Config
}

// NewOrchestrator validates deps and returns an orchestrator.
func NewOrchestrator(deps Deps, cfg Config) (*Orchestrator, error) {
	var missing []error
	if deps.Analyzer == nil {
		missing = append(missing, errors.New("analyzer"))
	}
	if deps.Sheets == nil {
		missing = append(missing, errors.New("sheet generator"))
	}
	if deps.Upscaler == nil {
		missing = append(missing, errors.New("upscaler"))
	}
	if deps.Videos == nil {
		missing = append(missing, errors.New("video generator"))
	}
	if deps.Stitcher == nil {
		missing = append(missing, errors.New("stitcher"))
	}
	if deps.Store == nil {
		missing = append(missing, errors.New("artifact store"))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing dependencies: %w", errors.Join(missing...))
	}
	set := deps.Prompts
	if set == nil {
		var err error
		if set, err = prompts.Default(); err != nil {
			return nil, err
		}
	}
	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}
	return &Orchestrator{
		analyzer: deps.Analyzer,
		sheets:   deps.Sheets,
		upscaler: deps.Upscaler,
		videos:   deps.Videos,
		stitcher: deps.Stitcher,
		store:    deps.Store,
		prompts:  set,
		events:   pub,
		logger:   deps.Logger,
		cfg:      cfg.normalize(),
	}, nil
}

// Config returns the normalized configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Run executes every stage for st and commits exactly one terminal state.
// It blocks until the job is terminal.
func (o *Orchestrator) Run(st *jobs.State) {
	logger := o.logger.With().Str("job_id", st.ID()).Logger()
	ctx := st.Context()

	if err := st.MarkProcessing(progressAnalyzing); err != nil {
		if errors.Is(err, jobs.ErrCancelRequested) {
			o.commitCancelled(st, logger)
		}
		return
	}
	o.events.Publish(context.Background(), events.FromJob(events.TypeStarted, st.Snapshot()))
	logger.Info().Str("event_type", "job_start").Int("inputs", len(st.Snapshot().Inputs)).Msg("job started")

	result, err := o.execute(ctx, st, logger)
	if errors.Is(err, errCancelled) || st.CancelRequested() {
		o.commitCancelled(st, logger)
		return
	}
	if err != nil {
		jobErr := domain.JobErrorFrom(err)
		if st.Fail(*jobErr) {
			logger.Error().Err(err).Str("event_type", "job_failed").Str("error_code", string(jobErr.Code)).Msg("job failed")
			o.events.Publish(context.Background(), events.FromJob(events.TypeFailed, st.Snapshot()))
		}
		return
	}
	if st.Complete(result, progressComplete) {
		logger.Info().
			Str("event_type", "job_complete").
			Int("successful_videos", result.Summary.SuccessfulVideos).
			Int("failed_videos", result.Summary.FailedVideos).
			Msg("job completed")
		o.events.Publish(context.Background(), events.FromJob(events.TypeCompleted, st.Snapshot()))
	}
}

func (o *Orchestrator) commitCancelled(st *jobs.State, logger zerolog.Logger) {
	if st.MarkCancelled(jobs.CancelledProgress) {
		logger.Info().Str("event_type", "job_cancelled").Msg("job cancelled")
		o.events.Publish(context.Background(), events.FromJob(events.TypeCancelled, st.Snapshot()))
	}
}

func (o *Orchestrator) execute(ctx context.Context, st *jobs.State, logger zerolog.Logger) (domain.Result, error) {
	inputs, err := o.paths(st.Snapshot().Inputs)
	if err != nil {
		return domain.Result{}, err
	}

	var desc providers.Description
	if err := o.runStage(ctx, st, logger, stageAnalyze, progressAnalyzing, func(ctx context.Context, _ zerolog.Logger) error {
		desc, err = o.analyze(ctx, inputs)
		return err
	}); err != nil {
		return domain.Result{}, err
	}

	var sheetKey string
	if err := o.runStage(ctx, st, logger, stageContactSheet, progressSheet, func(ctx context.Context, _ zerolog.Logger) error {
		sheetKey, err = o.generateSheet(ctx, st, desc, inputs)
		return err
	}); err != nil {
		return domain.Result{}, err
	}

	var frames []string
	if err := o.runStage(ctx, st, logger, stageSplit, progressSplit, func(ctx context.Context, _ zerolog.Logger) error {
		frames, err = o.splitFrames(ctx, st, sheetKey)
		return err
	}); err != nil {
		return domain.Result{}, err
	}

	var upscaled []domain.FrameArtifact
	if err := o.runStage(ctx, st, logger, stageUpscale, upscaleProgress(0, len(frames)), func(ctx context.Context, l zerolog.Logger) error {
		upscaled, err = o.upscaleFrames(ctx, st, frames, l)
		return err
	}); err != nil {
		return domain.Result{}, err
	}

	var segments []domain.SegmentArtifact
	if err := o.runStage(ctx, st, logger, stageSegments, segmentProgress(0, 0, 0), func(ctx context.Context, l zerolog.Logger) error {
		segments, err = o.generateSegments(ctx, st, upscaled, l)
		return err
	}); err != nil {
		return domain.Result{}, err
	}

	var finalKey string
	if err := o.runStage(ctx, st, logger, stageStitch, stitchProgress(segments), func(ctx context.Context, _ zerolog.Logger) error {
		finalKey, err = o.stitch(ctx, st, segments)
		return err
	}); err != nil {
		return domain.Result{}, err
	}

	if err := checkpoint(st); err != nil {
		return domain.Result{}, err
	}
	return domain.Result{
		FinalVideo:   finalKey,
		ContactSheet: sheetKey,
		Summary:      domain.SummarizeSegments(len(frames), segments),
	}, nil
}

func (o *Orchestrator) paths(keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		p, err := o.store.Path(k)
		if err != nil {
			return nil, domain.Wrap(domain.CodeValidation, "inputs", "invalid input reference", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// closeQuietly closes c, ignoring the error of a read-only stream.
func closeQuietly(c io.Closer) {
	_ = c.Close()
}
