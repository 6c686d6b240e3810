package pipeline

import (
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"showcase/internal/domain"
	"showcase/internal/jobs"
	"showcase/internal/providers"
)

func TestPipelineCompletesWithPartialSegments(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Config) {
		h.videos.pollFn = func(hd providers.Handle, index, _, _ int) (providers.PollResult, error) {
			if index == 3 {
				return providers.PollResult{State: providers.PollFailed, Reason: "content rejected"}, nil
			}
			return providers.PollResult{State: providers.PollSucceeded, VideoRef: hd.ID}, nil
		}
	})

	job := h.runJob(t, 3)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s (%v), want completed", job.Status, job.Error)
	}
	if job.Progress != progressComplete {
		t.Fatalf("progress = %q", job.Progress)
	}
	want := domain.Summary{TotalFrames: 9, TotalVideos: 8, SuccessfulVideos: 7, FailedVideos: 1}
	if job.Result == nil || job.Result.Summary != want {
		t.Fatalf("summary = %+v, want %+v", job.Result, want)
	}
	if job.Error != nil {
		t.Fatalf("completed job carries error %+v", job.Error)
	}

	seg := job.Artifacts.Segments[3]
	if seg.Succeeded || seg.StartFrame != 4 || seg.EndFrame != 5 || seg.Reason != "content rejected" {
		t.Fatalf("segment 4 = %+v", seg)
	}
	if got := h.videos.attempts(3); got != 1 {
		t.Fatalf("remote failure resubmitted %d times, want 1", got)
	}

	if len(h.stitcher.inputs) != 7 {
		t.Fatalf("stitched %d inputs, want 7", len(h.stitcher.inputs))
	}
	for i, in := range h.stitcher.inputs {
		wantIdx := i + 1
		if i >= 3 {
			wantIdx = i + 2
		}
		if base := filepath.Base(in); base != segmentName(wantIdx) {
			t.Fatalf("stitch input %d = %s, want %s", i, base, segmentName(wantIdx))
		}
	}

	data, err := h.store.Read(job.Result.FinalVideo)
	if err != nil {
		t.Fatalf("read final video: %v", err)
	}
	if !strings.HasPrefix(string(data), "video:seg-0-1") {
		t.Fatalf("final video starts with %q", string(data[:min(len(data), 20)]))
	}
	if job.Result.ContactSheet == "" || !h.store.Exists(job.Result.ContactSheet) {
		t.Fatalf("contact sheet missing: %q", job.Result.ContactSheet)
	}
	if len(job.Artifacts.Frames) != domain.FrameCount {
		t.Fatalf("frames = %d", len(job.Artifacts.Frames))
	}
}

func segmentName(n int) string {
	return "segment_0" + string(rune('0'+n)) + ".mp4"
}

func TestPipelineFailsWhenNoSegmentSucceeds(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Config) {
		h.videos.pollFn = func(providers.Handle, int, int, int) (providers.PollResult, error) {
			return providers.PollResult{State: providers.PollFailed, Reason: "nsfw"}, nil
		}
	})

	job := h.runJob(t, 2)
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Error == nil || job.Error.Code != domain.CodeProvider {
		t.Fatalf("error = %+v, want provider_error", job.Error)
	}
	if job.Result != nil {
		t.Fatalf("failed job has result %+v", job.Result)
	}
	if h.stitcher.inputs != nil {
		t.Fatalf("stitch ran after total segment failure")
	}
	if !strings.HasPrefix(job.Progress, "Failed: ") {
		t.Fatalf("progress = %q", job.Progress)
	}
}

func TestPipelineRejectsIndivisibleContactSheet(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Config) {
		h.sheets.data = pngBytes(t, 31, 30, color.White)
	})

	job := h.runJob(t, 2)
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Error == nil || job.Error.Code != domain.CodeContractViolation {
		t.Fatalf("error = %+v, want contract_violation", job.Error)
	}
	if len(job.Artifacts.Frames) != 0 {
		t.Fatalf("frames committed despite failure: %v", job.Artifacts.Frames)
	}
}

func TestPipelineRejectsUndecodableContactSheet(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Config) {
		h.sheets.data = []byte("not an image")
	})

	job := h.runJob(t, 2)
	if job.Error == nil || job.Error.Code != domain.CodeContractViolation {
		t.Fatalf("error = %+v, want contract_violation", job.Error)
	}
	if job.Artifacts.ContactSheet != "" {
		t.Fatalf("contact sheet committed: %q", job.Artifacts.ContactSheet)
	}
}

func TestPipelineAnalyzerFailureIsFatal(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Config) {
		h.analyzer.err = errors.New("quota exhausted")
	})

	job := h.runJob(t, 2)
	if job.Status != domain.JobStatusFailed || job.Error == nil || job.Error.Code != domain.CodeProvider {
		t.Fatalf("job = %s %+v, want failed provider_error", job.Status, job.Error)
	}
	if !strings.Contains(job.Error.Message, "quota exhausted") {
		t.Fatalf("message = %q", job.Error.Message)
	}
	if job.Artifacts.ContactSheet != "" {
		t.Fatalf("later stages ran after analyzer failure")
	}
}

func TestPipelineToleratesDegradedFrames(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Config) {
		h.upscaler.fail = map[int]bool{0: true, 5: true}
	})

	job := h.runJob(t, 2)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s (%+v), want completed", job.Status, job.Error)
	}
	degraded := 0
	for _, f := range job.Artifacts.Upscaled {
		if f.Degraded {
			degraded++
			if f.Key != job.Artifacts.Frames[f.Index] {
				t.Fatalf("degraded frame %d key = %q, want original %q", f.Index, f.Key, job.Artifacts.Frames[f.Index])
			}
		}
	}
	if degraded != 2 {
		t.Fatalf("degraded = %d, want 2", degraded)
	}
}

func TestPipelineFailsBeyondDegradedThreshold(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Config) {
		h.upscaler.fail = map[int]bool{0: true, 1: true, 2: true}
	})

	job := h.runJob(t, 2)
	if job.Status != domain.JobStatusFailed || job.Error == nil || job.Error.Code != domain.CodeProvider {
		t.Fatalf("job = %s %+v, want failed provider_error", job.Status, job.Error)
	}
	if len(job.Artifacts.Segments) != 0 {
		t.Fatalf("segments generated after upscale failure")
	}
}

func TestSubmitRetriesTransientErrors(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Config) {
		h.videos.submitErr = func(index, attempt int) error {
			if index == 0 && attempt < 3 {
				return providers.StatusError("submit", 503, "busy")
			}
			return nil
		}
	})

	job := h.runJob(t, 2)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s (%+v)", job.Status, job.Error)
	}
	seg := job.Artifacts.Segments[0]
	if !seg.Succeeded || seg.Attempts != 3 {
		t.Fatalf("segment 1 = %+v, want success on attempt 3", seg)
	}
	if job.Result.Summary.SuccessfulVideos != 8 {
		t.Fatalf("summary = %+v", job.Result.Summary)
	}
}

func TestSubmitGivesUpOnPermanentErrors(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Config) {
		h.videos.submitErr = func(index, _ int) error {
			if index == 7 {
				return providers.StatusError("submit", 400, "bad image")
			}
			return nil
		}
	})

	job := h.runJob(t, 2)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s (%+v)", job.Status, job.Error)
	}
	if got := h.videos.attempts(7); got != 1 {
		t.Fatalf("permanent submit error attempted %d times, want 1", got)
	}
	if job.Result.Summary.FailedVideos != 1 {
		t.Fatalf("summary = %+v", job.Result.Summary)
	}
}

func TestSubmitExhaustsTransientBudget(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Config) {
		h.videos.submitErr = func(index, _ int) error {
			if index == 2 {
				return providers.StatusError("submit", 429, "slow down")
			}
			return nil
		}
	})

	job := h.runJob(t, 2)
	if got := h.videos.attempts(2); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if seg := job.Artifacts.Segments[2]; seg.Succeeded || seg.Attempts != 3 {
		t.Fatalf("segment 3 = %+v", seg)
	}
}

func TestTransientPollErrorsKeepPolling(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Config) {
		h.videos.pollFn = func(hd providers.Handle, _, _, n int) (providers.PollResult, error) {
			if n <= 2 {
				return providers.PollResult{}, providers.StatusError("poll", 502, "")
			}
			return providers.PollResult{State: providers.PollSucceeded, VideoRef: hd.ID}, nil
		}
	})

	job := h.runJob(t, 2)
	if job.Status != domain.JobStatusCompleted || job.Result.Summary.SuccessfulVideos != 8 {
		t.Fatalf("job = %s %+v", job.Status, job.Result)
	}
	for i := 0; i < domain.SegmentCount; i++ {
		if got := h.videos.attempts(i); got != 1 {
			t.Fatalf("segment %d resubmitted %d times", i+1, got)
		}
	}
}

func TestPollTimeoutRestartsAttempt(t *testing.T) {
	h := newHarness(t, func(h *harness, cfg *Config) {
		cfg.SegmentTimeout = 30 * time.Millisecond
		h.videos.pollFn = func(hd providers.Handle, index, attempt, _ int) (providers.PollResult, error) {
			if index == 1 && attempt == 1 {
				return providers.PollResult{State: providers.PollPending}, nil
			}
			return providers.PollResult{State: providers.PollSucceeded, VideoRef: hd.ID}, nil
		}
	})

	job := h.runJob(t, 2)
	seg := job.Artifacts.Segments[1]
	if !seg.Succeeded || seg.Attempts != 2 {
		t.Fatalf("segment 2 = %+v, want success on attempt 2", seg)
	}
	h.videos.mu.Lock()
	defer h.videos.mu.Unlock()
	if len(h.videos.cancelled) != 1 || h.videos.cancelled[0] != "seg-1-1" {
		t.Fatalf("cancelled = %v, want the timed out task", h.videos.cancelled)
	}
}

func TestCancelDuringAnalysis(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, func(h *harness, _ *Config) {
		h.analyzer.block = true
		h.analyzer.started = started
	})

	id, err := h.svc.CreateJob(context.Background(), h.uploads(t, 2))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	<-started
	if err := h.svc.RequestCancel(id); err != nil {
		t.Fatalf("RequestCancel() error = %v", err)
	}

	job := h.wait(t, id)
	if job.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", job.Status)
	}
	if job.Progress != jobs.CancelledProgress {
		t.Fatalf("progress = %q", job.Progress)
	}
	if job.Error != nil || job.Result != nil {
		t.Fatalf("cancelled job has error=%v result=%v", job.Error, job.Result)
	}
	if job.Artifacts.ContactSheet != "" {
		t.Fatalf("contact sheet generated after cancellation")
	}
}

func TestCancelWhileQueuedNeverStarts(t *testing.T) {
	h := newHarness(t, nil)
	st := jobs.NewState("queued-job", nil)
	if !st.RequestCancellation() {
		t.Fatalf("RequestCancellation() on a queued job = false")
	}

	h.orch.Run(st)

	job := st.Snapshot()
	if job.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", job.Status)
	}
	if job.StartedAt != nil {
		t.Fatalf("StartedAt = %v, want nil for a job that never ran", job.StartedAt)
	}
	if job.FinishedAt == nil {
		t.Fatalf("FinishedAt not set")
	}
	if n := h.analyzer.calls.Load(); n != 0 {
		t.Fatalf("analyzer called %d times", n)
	}
	if n := h.videos.totalSubmits(); n != 0 {
		t.Fatalf("segments submitted: %d", n)
	}
	select {
	case <-st.Done():
	default:
		t.Fatalf("Done() not closed after Run returned")
	}
}

func TestCancelDuringSegmentPolling(t *testing.T) {
	var once sync.Once
	polling := make(chan struct{})
	h := newHarness(t, func(h *harness, cfg *Config) {
		// one worker, so the first segment is polling and the rest are queued
		cfg.SegmentConcurrency = 1
		h.videos.pollFn = func(providers.Handle, int, int, int) (providers.PollResult, error) {
			once.Do(func() { close(polling) })
			return providers.PollResult{State: providers.PollPending}, nil
		}
	})

	id, err := h.svc.CreateJob(context.Background(), h.uploads(t, 2))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	<-polling
	submitted := h.videos.totalSubmits()
	if err := h.svc.RequestCancel(id); err != nil {
		t.Fatalf("RequestCancel() error = %v", err)
	}

	job := h.wait(t, id)
	if job.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s (%+v), want cancelled", job.Status, job.Error)
	}
	if h.stitcher.inputs != nil {
		t.Fatalf("stitch ran after cancellation")
	}
	h.videos.mu.Lock()
	cancelled := len(h.videos.cancelled)
	h.videos.mu.Unlock()
	if cancelled == 0 {
		t.Fatalf("no remote task was cancelled")
	}
	if got := h.videos.totalSubmits(); got != submitted {
		t.Fatalf("submits after cancel = %d, want %d", got, submitted)
	}
	for _, seg := range job.Artifacts.Segments {
		if seg.Succeeded {
			t.Fatalf("segment %d succeeded after cancellation", seg.Index)
		}
	}
	if err := h.svc.RequestCancel(id); !errors.Is(err, jobs.ErrTerminal) {
		t.Fatalf("second RequestCancel() error = %v, want ErrTerminal", err)
	}
}

func TestStitchFailureIsProviderError(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Config) {
		h.stitcher.err = errors.New("ffmpeg exited with status 1")
	})

	job := h.runJob(t, 2)
	if job.Status != domain.JobStatusFailed || job.Error == nil || job.Error.Code != domain.CodeProvider {
		t.Fatalf("job = %s %+v, want failed provider_error", job.Status, job.Error)
	}
	if job.Artifacts.FinalVideo != "" {
		t.Fatalf("final video recorded after stitch failure")
	}
}
