package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"showcase/internal/domain"
	"showcase/internal/events"
	"showcase/internal/jobs"
)

type stageName string

const (
	stageAnalyze      stageName = "analyze"
	stageContactSheet stageName = "contact_sheet"
	stageSplit        stageName = "split_frames"
	stageUpscale      stageName = "upscale_frames"
	stageSegments     stageName = "generate_segments"
	stageStitch       stageName = "stitch"
)

const (
	progressAnalyzing = "Analyzing images..."
	progressSheet     = "Generating contact sheet..."
	progressSplit     = "Splitting contact sheet into 9 frames..."
	progressComplete  = "Video generation complete!"
)

// errCancelled is returned by a checkpoint that observed a cancel request.
var errCancelled = errors.New("pipeline: job cancelled")

var titleCaser = cases.Title(language.English)

func stageLabel(name stageName) string {
	return titleCaser.String(strings.ReplaceAll(string(name), "_", " "))
}

// checkpoint reports errCancelled once cancellation was requested.
func checkpoint(st *jobs.State) error {
	if st.CancelRequested() {
		return errCancelled
	}
	return nil
}

// runStage brackets one stage with a checkpoint, a progress update and
// start/complete/failure log events.
func (o *Orchestrator) runStage(ctx context.Context, st *jobs.State, logger zerolog.Logger, name stageName, progress string, fn func(context.Context, zerolog.Logger) error) error {
	if err := checkpoint(st); err != nil {
		return err
	}
	st.UpdateProgress(progress)

	stageLogger := logger.With().Str("stage", string(name)).Logger()
	stageLogger.Info().
		Str("event_type", "stage_start").
		Str("stage_label", stageLabel(name)).
		Msg("stage started")

	start := time.Now()
	err := fn(ctx, stageLogger)
	if err != nil {
		if errors.Is(err, errCancelled) || st.CancelRequested() {
			stageLogger.Info().
				Str("event_type", "stage_cancelled").
				Dur("duration", time.Since(start)).
				Msg("stage abandoned after cancellation")
			return errCancelled
		}
		stageLogger.Error().
			Err(err).
			Str("event_type", "stage_failure").
			Str("error_code", string(domain.CodeOf(err))).
			Dur("duration", time.Since(start)).
			Msg("stage failed")
		return err
	}

	stageLogger.Info().
		Str("event_type", "stage_complete").
		Dur("duration", time.Since(start)).
		Msg("stage completed")
	ev := events.FromJob(events.TypeStage, st.Snapshot())
	ev.Stage = string(name)
	o.events.Publish(context.Background(), ev)
	return nil
}

func providerError(op, message string, err error) error {
	return domain.Wrap(domain.CodeProvider, op, fmt.Sprintf("%s: %v", message, err), err)
}

func contractViolation(op, message string) error {
	return domain.Wrap(domain.CodeContractViolation, op, message, nil)
}
