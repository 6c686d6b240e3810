package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"showcase/internal/domain"
	"showcase/internal/jobs"
	"showcase/internal/storage"
)

var (
	ErrTooFewImages     = errors.New("too few images")
	ErrTooManyImages    = errors.New("too many images")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrShuttingDown     = errors.New("service is shutting down")
)

// sniffLen is how many leading bytes http.DetectContentType inspects.
const sniffLen = 512

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// Upload is one uploaded photo.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Service is the control surface over jobs: create, observe, cancel, delete
// and download. Each accepted job runs on its own goroutine.
type Service struct {
	orch     *Orchestrator
	registry *jobs.Registry
	store    *storage.FileStore
	logger   zerolog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	newID  func() string
}

// NewService binds the orchestrator to a registry.
func NewService(orch *Orchestrator, registry *jobs.Registry, logger zerolog.Logger) *Service {
	if registry == nil {
		registry = jobs.NewRegistry()
	}
	return &Service{
		orch:     orch,
		registry: registry,
		store:    orch.store,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Registry exposes the job registry.
func (s *Service) Registry() *jobs.Registry {
	return s.registry
}

// CreateJob validates and stores the uploads, registers a queued job and
// starts its pipeline in the background.
func (s *Service) CreateJob(ctx context.Context, uploads []Upload) (string, error) {
	cfg := s.orch.cfg
	if len(uploads) < cfg.MinImages {
		return "", domain.Wrap(domain.CodeValidation, "create_job",
			fmt.Sprintf("At least %d images are required, got %d", cfg.MinImages, len(uploads)), ErrTooFewImages)
	}
	if len(uploads) > cfg.MaxImages {
		return "", domain.Wrap(domain.CodeValidation, "create_job",
			fmt.Sprintf("At most %d images are allowed, got %d", cfg.MaxImages, len(uploads)), ErrTooManyImages)
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrShuttingDown
	}

	id := s.newID()
	keys := make([]string, 0, len(uploads))
	for i, up := range uploads {
		key, err := s.storeUpload(ctx, id, i, up)
		if err != nil {
			if rmErr := s.store.RemoveJob(id); rmErr != nil {
				s.logger.Warn().Err(rmErr).Str("job_id", id).Msg("failed to clean up rejected upload")
			}
			return "", err
		}
		keys = append(keys, key)
	}

	st := jobs.NewState(id, keys)
	if err := s.registry.Add(st); err != nil {
		_ = s.store.RemoveJob(id)
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_, _ = s.registry.Remove(id)
		_ = s.store.RemoveJob(id)
		return "", ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info().Str("job_id", id).Int("images", len(keys)).Msg("job accepted")
	go func() {
		defer s.wg.Done()
		s.orch.Run(st)
	}()
	return id, nil
}

func (s *Service) storeUpload(ctx context.Context, id string, i int, up Upload) (string, error) {
	if up.Body == nil {
		return "", domain.Wrap(domain.CodeValidation, "create_job", fmt.Sprintf("Image %d is empty", i+1), ErrUnsupportedImage)
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", domain.Wrap(domain.CodeValidation, "create_job", fmt.Sprintf("Reading image %d failed", i+1), err)
	}
	head = head[:n]
	if n == 0 {
		return "", domain.Wrap(domain.CodeValidation, "create_job", fmt.Sprintf("Image %d is empty", i+1), ErrUnsupportedImage)
	}
	mime := http.DetectContentType(head)
	ext, ok := imageExtensions[mime]
	if !ok {
		name := path.Base(up.Filename)
		return "", domain.Wrap(domain.CodeValidation, "create_job",
			fmt.Sprintf("File %q is not a supported image (%s)", name, mime), ErrUnsupportedImage)
	}
	key, _, err := s.store.WriteStream(ctx, storage.InputKey(id, i, ext), io.MultiReader(bytes.NewReader(head), up.Body))
	if err != nil {
		return "", fmt.Errorf("store upload %d: %w", i+1, err)
	}
	return key, nil
}

// Status returns a snapshot of the job.
func (s *Service) Status(id string) (domain.Job, error) {
	return s.registry.Snapshot(id)
}

// List returns snapshots of every registered job, oldest first.
func (s *Service) List() []domain.Job {
	return s.registry.List()
}

// RequestCancel flags a running or queued job for cancellation. The job
// reaches the cancelled state at its next checkpoint.
func (s *Service) RequestCancel(id string) error {
	st, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	if st.Status().IsTerminal() {
		return jobs.ErrTerminal
	}
	if !st.RequestCancellation() {
		return jobs.ErrTerminal
	}
	s.logger.Info().Str("job_id", id).Msg("cancellation requested")
	return nil
}

// DeleteJob evicts a job and removes its files. A running job is cancelled
// first; removal waits until its pipeline goroutine stopped touching storage.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	st, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	if !st.Status().IsTerminal() {
		st.RequestCancellation()
		select {
		case <-st.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if _, err := s.registry.Remove(id); err != nil {
		return err
	}
	if err := s.store.RemoveJob(id); err != nil {
		return fmt.Errorf("remove job files: %w", err)
	}
	s.logger.Info().Str("job_id", id).Msg("job deleted")
	return nil
}

// OpenArtifact opens the final video or the contact sheet of a job.
// domain.ErrNotReady is returned until the artifact exists.
func (s *Service) OpenArtifact(id string, kind storage.Kind) (*os.File, error) {
	job, err := s.registry.Snapshot(id)
	if err != nil {
		return nil, err
	}
	var key string
	switch kind {
	case storage.KindFinalVideo:
		if job.Status == domain.JobStatusCompleted {
			key = job.Artifacts.FinalVideo
		}
	case storage.KindContactSheet:
		key = job.Artifacts.ContactSheet
	default:
		return nil, fmt.Errorf("artifact %q: %w", kind, domain.ErrNotFound)
	}
	if key == "" {
		return nil, domain.ErrNotReady
	}
	return s.store.Open(key)
}

// Frame is one downloadable frame file.
type Frame struct {
	Name string
	Path string
}

// Frames lists the best available version of each frame: the upscaled file
// when present, otherwise the split frame.
func (s *Service) Frames(id string) ([]Frame, error) {
	job, err := s.registry.Snapshot(id)
	if err != nil {
		return nil, err
	}
	keys := job.Artifacts.Frames
	if len(job.Artifacts.Upscaled) > 0 {
		keys = make([]string, len(job.Artifacts.Upscaled))
		for i, f := range job.Artifacts.Upscaled {
			keys[i] = f.Key
		}
	}
	if len(keys) == 0 {
		return nil, domain.ErrNotReady
	}
	out := make([]Frame, 0, len(keys))
	for i, key := range keys {
		p, err := s.store.Path(key)
		if err != nil {
			return nil, err
		}
		out = append(out, Frame{Name: fmt.Sprintf("frame_%02d%s", i+1, path.Ext(key)), Path: p})
	}
	return out, nil
}

// Wait blocks until the job is terminal or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (domain.Job, error) {
	st, err := s.registry.Get(id)
	if err != nil {
		return domain.Job{}, err
	}
	select {
	case <-st.Done():
		return st.Snapshot(), nil
	case <-ctx.Done():
		return st.Snapshot(), ctx.Err()
	}
}

// Shutdown stops accepting jobs, cancels the running ones and waits for
// their goroutines until ctx expires.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	for _, job := range s.registry.List() {
		if job.Status.IsTerminal() {
			continue
		}
		if st, err := s.registry.Get(job.ID); err == nil {
			st.RequestCancellation()
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
