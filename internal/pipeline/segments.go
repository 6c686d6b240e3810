package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"showcase/internal/domain"
	"showcase/internal/jobs"
	"showcase/internal/providers"
	"showcase/internal/storage"
)

const remoteCancelTimeout = 10 * time.Second

var errPollTimeout = errors.New("segment polling timed out")

func segmentProgress(done, ok, failed int) string {
	return fmt.Sprintf("Generating video segments (%d/%d, %d ok, %d failed)...", done, domain.SegmentCount, ok, failed)
}

// generateSegments renders one clip per adjacent frame pair on a worker pool.
// Individual failures are recorded on the segment; the stage only fails when
// no segment succeeded.
func (o *Orchestrator) generateSegments(ctx context.Context, st *jobs.State, frames []domain.FrameArtifact, logger zerolog.Logger) ([]domain.SegmentArtifact, error) {
	if len(frames) < 2 {
		return nil, contractViolation("generate_segments", fmt.Sprintf("need at least 2 frames, have %d", len(frames)))
	}
	total := len(frames) - 1
	results := make([]domain.SegmentArtifact, total)
	for i := range results {
		results[i] = domain.SegmentArtifact{Index: i, StartFrame: i + 1, EndFrame: i + 2, Reason: "not attempted"}
	}

	pool, err := ants.NewPool(o.cfg.SegmentConcurrency)
	if err != nil {
		return nil, providerError("generate_segments", "Starting segment workers failed", err)
	}
	defer pool.Release()

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		completed int
		ok        int
		failed    int
	)
	record := func(seg domain.SegmentArtifact) {
		mu.Lock()
		results[seg.Index] = seg
		completed++
		if seg.Succeeded {
			ok++
		} else {
			failed++
		}
		progress := segmentProgress(completed, ok, failed)
		mu.Unlock()
		st.UpdateProgress(progress)
	}

	for i := 0; i < total; i++ {
		start, end := frames[i], frames[i+1]
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			record(o.renderSegment(ctx, st, i, start, end, logger))
		}); err != nil {
			wg.Done()
			record(domain.SegmentArtifact{Index: i, StartFrame: i + 1, EndFrame: i + 2, Reason: err.Error()})
		}
	}
	wg.Wait()

	if err := checkpoint(st); err != nil {
		return nil, err
	}
	st.SetSegments(results)
	if ok == 0 {
		return nil, domain.Wrap(domain.CodeProvider, "generate_segments",
			fmt.Sprintf("All %d video segments failed", total), nil)
	}
	return results, nil
}

// renderSegment runs the submit/poll/fetch cycle for one segment, restarting
// the cycle while attempts remain.
func (o *Orchestrator) renderSegment(ctx context.Context, st *jobs.State, i int, start, end domain.FrameArtifact, logger zerolog.Logger) domain.SegmentArtifact {
	seg := domain.SegmentArtifact{Index: i, StartFrame: i + 1, EndFrame: i + 2}
	l := logger.With().Int("segment", i+1).Logger()

	startPath, err := o.store.Path(start.Key)
	if err != nil {
		seg.Reason = err.Error()
		return seg
	}
	endPath, err := o.store.Path(end.Key)
	if err != nil {
		seg.Reason = err.Error()
		return seg
	}
	req := providers.SegmentRequest{
		Index:           i,
		StartFramePath:  startPath,
		EndFramePath:    endPath,
		Prompt:          o.prompts.CameraFor(i),
		NegativePrompt:  o.prompts.Negative,
		DurationSeconds: o.cfg.SegmentDurationSeconds,
	}

	retryIn := submitBackOff(o.cfg.SubmitBackoff, o.cfg.SubmitAttempts)
	for attempt := 1; attempt <= o.cfg.SubmitAttempts; attempt++ {
		if checkpoint(st) != nil {
			seg.Reason = "cancelled"
			return seg
		}
		seg.Attempts = attempt

		h, err := o.videos.Submit(ctx, req)
		if err != nil {
			seg.Reason = err.Error()
			if checkpoint(st) != nil {
				seg.Reason = "cancelled"
				return seg
			}
			if !providers.Transient(err) || attempt == o.cfg.SubmitAttempts {
				l.Warn().Err(err).Int("attempt", attempt).Msg("segment submit failed")
				return seg
			}
			delay := retryIn.NextBackOff()
			l.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("segment submit failed; retrying")
			if sleepCtx(ctx, delay) != nil {
				seg.Reason = "cancelled"
				return seg
			}
			continue
		}

		key, retry, err := o.awaitSegment(ctx, st, h, i, l)
		if err == nil {
			seg.Succeeded = true
			seg.Key = key
			seg.Reason = ""
			l.Info().Int("attempt", attempt).Str("key", key).Msg("segment ready")
			return seg
		}
		if errors.Is(err, errCancelled) {
			seg.Reason = "cancelled"
			return seg
		}
		seg.Reason = err.Error()
		l.Warn().Err(err).Int("attempt", attempt).Bool("retry", retry && attempt < o.cfg.SubmitAttempts).Msg("segment attempt failed")
		if !retry {
			return seg
		}
	}
	return seg
}

// awaitSegment polls h until it settles and stores the clip. retry reports
// whether a fresh submission may succeed where this one did not.
func (o *Orchestrator) awaitSegment(ctx context.Context, st *jobs.State, h providers.Handle, i int, logger zerolog.Logger) (key string, retry bool, err error) {
	pctx, cancel := context.WithTimeout(ctx, o.cfg.SegmentTimeout)
	defer cancel()

	bo := pollBackOff(pctx, o.cfg)
	for {
		if checkpoint(st) != nil {
			o.cancelRemote(h, logger)
			return "", false, errCancelled
		}

		res, err := o.videos.Poll(pctx, h)
		switch {
		case err != nil && checkpoint(st) != nil:
			o.cancelRemote(h, logger)
			return "", false, errCancelled
		case err != nil && pctx.Err() != nil:
			o.cancelRemote(h, logger)
			return "", true, fmt.Errorf("%w after %s", errPollTimeout, o.cfg.SegmentTimeout)
		case err != nil && providers.Transient(err):
			logger.Debug().Err(err).Str("task", h.ID).Msg("transient poll error")
		case err != nil:
			return "", true, fmt.Errorf("poll: %w", err)
		case res.State == providers.PollFailed:
			reason := res.Reason
			if reason == "" {
				reason = "remote task failed"
			}
			return "", false, errors.New(reason)
		case res.State == providers.PollSucceeded:
			key, err := o.fetchSegment(ctx, st, res.VideoRef, i)
			if err != nil {
				return "", true, err
			}
			return key, false, nil
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop || sleepCtx(pctx, delay) != nil {
			if checkpoint(st) != nil {
				o.cancelRemote(h, logger)
				return "", false, errCancelled
			}
			o.cancelRemote(h, logger)
			return "", true, fmt.Errorf("%w after %s", errPollTimeout, o.cfg.SegmentTimeout)
		}
	}
}

func (o *Orchestrator) fetchSegment(ctx context.Context, st *jobs.State, ref string, i int) (string, error) {
	rc, err := o.videos.Fetch(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer closeQuietly(rc)

	key, n, err := o.store.WriteStream(ctx, storage.Key(st.ID(), storage.KindSegment, i), rc)
	if err != nil {
		return "", fmt.Errorf("store segment: %w", err)
	}
	if n == 0 {
		return "", errors.New("fetch: empty video")
	}
	return key, nil
}

// cancelRemote asks the vendor to abort h when it supports cancellation.
func (o *Orchestrator) cancelRemote(h providers.Handle, logger zerolog.Logger) {
	c, ok := o.videos.(providers.Canceler)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteCancelTimeout)
	defer cancel()
	if err := c.Cancel(ctx, h); err != nil {
		logger.Debug().Err(err).Str("task", h.ID).Msg("remote cancel failed")
	}
}
