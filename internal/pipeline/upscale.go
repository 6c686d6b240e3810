package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"showcase/internal/domain"
	"showcase/internal/jobs"
	"showcase/internal/storage"
)

func upscaleProgress(done, total int) string {
	return fmt.Sprintf("Upscaling frames (%d/%d)...", done, total)
}

// upscaleFrames upscales every frame with bounded concurrency. A frame whose
// upscale fails keeps its split version and is flagged degraded.
func (o *Orchestrator) upscaleFrames(ctx context.Context, st *jobs.State, frames []string, logger zerolog.Logger) ([]domain.FrameArtifact, error) {
	out := make([]domain.FrameArtifact, len(frames))
	var (
		mu       sync.Mutex
		done     int
		degraded int
	)

	var g errgroup.Group
	g.SetLimit(o.cfg.UpscaleConcurrency)
	for i, key := range frames {
		g.Go(func() error {
			if err := checkpoint(st); err != nil {
				return err
			}
			art := o.upscaleOne(ctx, st, i, key, logger)

			mu.Lock()
			out[i] = art
			done++
			if art.Degraded {
				degraded++
			}
			progress := upscaleProgress(done, len(frames))
			if degraded > 0 {
				progress = fmt.Sprintf("Upscaling frames (%d/%d, %d kept at original size)...", done, len(frames), degraded)
			}
			mu.Unlock()
			st.UpdateProgress(progress)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := checkpoint(st); err != nil {
		return nil, err
	}

	if degraded > o.cfg.MaxDegradedFrames {
		return nil, domain.Wrap(domain.CodeProvider, "upscale_frames",
			fmt.Sprintf("Upscaling failed for %d of %d frames (at most %d allowed)", degraded, len(frames), o.cfg.MaxDegradedFrames), nil)
	}
	st.SetUpscaled(out)
	return out, nil
}

func (o *Orchestrator) upscaleOne(ctx context.Context, st *jobs.State, i int, key string, logger zerolog.Logger) domain.FrameArtifact {
	degrade := func(reason string) domain.FrameArtifact {
		logger.Warn().Int("frame", i+1).Str("reason", reason).Msg("upscale failed; keeping original frame")
		return domain.FrameArtifact{Index: i, Key: key, Degraded: true, Reason: reason}
	}

	path, err := o.store.Path(key)
	if err != nil {
		return degrade(err.Error())
	}
	data, err := o.upscaler.Upscale(ctx, path, o.cfg.UpscaleAspect)
	if err != nil {
		return degrade(err.Error())
	}
	outKey, err := o.store.Write(ctx, storage.Key(st.ID(), storage.KindUpscaled, i), data)
	if err != nil {
		return degrade(err.Error())
	}
	logger.Debug().Int("frame", i+1).Msg("frame upscaled")
	return domain.FrameArtifact{Index: i, Key: outKey}
}
