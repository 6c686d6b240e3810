package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"showcase/internal/domain"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("jobs: job not found")
	// ErrTerminal is returned when a transition is attempted on a finished job.
	ErrTerminal = errors.New("jobs: job already terminal")
	// ErrCancelRequested is returned by MarkProcessing once cancellation was asked for.
	ErrCancelRequested = errors.New("jobs: cancellation requested")
	// ErrDuplicate is returned when registering an id twice.
	ErrDuplicate = errors.New("jobs: duplicate job id")
)

// CancelledProgress is the progress text committed on cancellation.
const CancelledProgress = "Job cancelled by user"

// State owns the mutable record of a single job. Every read and write of the
// record goes through its mutex; readers only ever see deep copies.
type State struct {
	mu     sync.Mutex
	job    domain.Job
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// NewState creates a queued job with the given id and ordered input keys.
func NewState(id string, inputs []string) *State {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC()
	return &State{
		job: domain.Job{
			ID:        id,
			Status:    domain.JobStatusQueued,
			Progress:  "Queued",
			Inputs:    append([]string(nil), inputs...),
			CreatedAt: now,
			UpdatedAt: now,
		},
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ID returns the immutable job id.
func (s *State) ID() string {
	return s.job.ID
}

// Context is cancelled when cancellation is requested or the job terminates.
// Provider calls use it so blocking requests unblock promptly.
func (s *State) Context() context.Context {
	return s.ctx
}

// Done is closed once the job reaches a terminal state.
func (s *State) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns a deep copy of the job record.
func (s *State) Snapshot() domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.Clone()
}

// Status returns the current status.
func (s *State) Status() domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.Status
}

// CancelRequested reports whether cancellation was requested.
func (s *State) CancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.CancelRequested
}

// MarkProcessing moves a queued job into processing.
func (s *State) MarkProcessing(progress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status.IsTerminal() {
		return ErrTerminal
	}
	if s.job.CancelRequested {
		return ErrCancelRequested
	}
	now := s.now()
	s.job.Status = domain.JobStatusProcessing
	s.job.Progress = progress
	s.job.UpdatedAt = now
	if s.job.StartedAt == nil {
		s.job.StartedAt = &now
	}
	return nil
}

// UpdateProgress replaces the progress text while the job is processing.
func (s *State) UpdateProgress(progress string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status != domain.JobStatusProcessing {
		return
	}
	s.job.Progress = progress
	s.job.UpdatedAt = s.now()
}

// RequestCancellation sets the cancellation flag on a non-terminal job and
// cancels its context. The state transition itself is left to the
// orchestrator. It reports whether the flag is set after the call.
func (s *State) RequestCancellation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status.IsTerminal() {
		return s.job.CancelRequested
	}
	if !s.job.CancelRequested {
		s.job.CancelRequested = true
		s.job.UpdatedAt = s.now()
		s.cancel()
	}
	return true
}

// Complete commits a successful result. It is a no-op on terminal jobs.
func (s *State) Complete(result domain.Result, progress string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status.IsTerminal() {
		return false
	}
	r := result
	s.job.Result = &r
	s.job.Artifacts.FinalVideo = result.FinalVideo
	s.finishLocked(domain.JobStatusCompleted, progress)
	return true
}

// Fail commits a failure. It is a no-op on terminal jobs.
func (s *State) Fail(jobErr domain.JobError) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status.IsTerminal() {
		return false
	}
	e := jobErr
	s.job.Error = &e
	s.finishLocked(domain.JobStatusFailed, "Failed: "+jobErr.Message)
	return true
}

// MarkCancelled commits the cancelled state. Only allowed once the flag is set.
func (s *State) MarkCancelled(progress string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status.IsTerminal() || !s.job.CancelRequested {
		return false
	}
	if progress == "" {
		progress = CancelledProgress
	}
	s.finishLocked(domain.JobStatusCancelled, progress)
	return true
}

func (s *State) finishLocked(status domain.JobStatus, progress string) {
	now := s.now()
	s.job.Status = status
	s.job.Progress = progress
	s.job.UpdatedAt = now
	s.job.FinishedAt = &now
	s.cancel()
	close(s.done)
}

// SetContactSheet records the stored contact sheet key.
func (s *State) SetContactSheet(key string) {
	s.mutate(func(j *domain.Job) { j.Artifacts.ContactSheet = key })
}

// SetFrames records the nine split frame keys.
func (s *State) SetFrames(keys []string) {
	frames := append([]string(nil), keys...)
	s.mutate(func(j *domain.Job) { j.Artifacts.Frames = frames })
}

// SetUpscaled records the upscaled frames, degraded ones included.
func (s *State) SetUpscaled(frames []domain.FrameArtifact) {
	out := append([]domain.FrameArtifact(nil), frames...)
	s.mutate(func(j *domain.Job) { j.Artifacts.Upscaled = out })
}

// SetSegments records all segment outcomes after the fan-out joined.
func (s *State) SetSegments(segments []domain.SegmentArtifact) {
	out := append([]domain.SegmentArtifact(nil), segments...)
	s.mutate(func(j *domain.Job) { j.Artifacts.Segments = out })
}

// SetFinalVideo records the stitched video key.
func (s *State) SetFinalVideo(key string) {
	s.mutate(func(j *domain.Job) { j.Artifacts.FinalVideo = key })
}

func (s *State) mutate(fn func(*domain.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status.IsTerminal() {
		return
	}
	fn(&s.job)
	s.job.UpdatedAt = s.now()
}
