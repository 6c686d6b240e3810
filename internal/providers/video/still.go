package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"showcase/internal/infra"
	"showcase/internal/media"
	"showcase/internal/providers"
)

// ErrUnknownTask is returned for handles the generator does not track.
var ErrUnknownTask = errors.New("video: unknown task")

// Still renders segments locally as a crossfade between the two frames. It
// follows the same submit/poll/fetch contract as the remote vendors, which
// keeps the pipeline runnable without vendor credentials.
type Still struct {
	ffmpeg  *media.FFmpeg
	workDir string
	size    media.Size
	logger  *infra.Logger

	mu    sync.Mutex
	tasks map[string]*stillTask
}

type stillTask struct {
	cmd    *exec.Cmd
	output string
	done   chan struct{}
	err    error
}

// NewStill renders clips of the given size into workDir.
func NewStill(ffmpeg *media.FFmpeg, workDir string, size media.Size, logger *infra.Logger) (*Still, error) {
	if ffmpeg == nil {
		return nil, errors.New("video: ffmpeg runner is required")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("video: ensure work dir: %w", err)
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Still{ffmpeg: ffmpeg, workDir: workDir, size: size, logger: logger, tasks: make(map[string]*stillTask)}, nil
}

// Submit starts rendering in the background.
func (s *Still) Submit(ctx context.Context, req providers.SegmentRequest) (providers.Handle, error) {
	if err := ctx.Err(); err != nil {
		return providers.Handle{}, err
	}
	id := uuid.NewString()
	output := filepath.Join(s.workDir, id+".mp4")
	// the task outlives the submit call; Cancel stops it
	cmd := s.ffmpeg.TransitionCommand(context.Background(), req.StartFramePath, req.EndFramePath, output, req.DurationSeconds, s.size)
	if err := cmd.Start(); err != nil {
		return providers.Handle{}, fmt.Errorf("start render: %w", err)
	}
	task := &stillTask{cmd: cmd, output: output, done: make(chan struct{})}
	go func() {
		task.err = cmd.Wait()
		close(task.done)
	}()

	s.mu.Lock()
	s.tasks[id] = task
	s.mu.Unlock()
	s.logger.Debug().Str("task", id).Int("segment", req.Index+1).Msg("video: local render started")
	return providers.Handle{ID: id}, nil
}

// Poll reports whether the render finished.
func (s *Still) Poll(ctx context.Context, h providers.Handle) (providers.PollResult, error) {
	if err := ctx.Err(); err != nil {
		return providers.PollResult{}, err
	}
	task, ok := s.task(h.ID)
	if !ok {
		return providers.PollResult{}, ErrUnknownTask
	}
	select {
	case <-task.done:
		if task.err != nil {
			s.forget(h.ID)
			return providers.PollResult{State: providers.PollFailed, Reason: task.err.Error()}, nil
		}
		return providers.PollResult{State: providers.PollSucceeded, VideoRef: task.output}, nil
	default:
		return providers.PollResult{State: providers.PollPending}, nil
	}
}

// Fetch opens the rendered clip. The file is removed once the reader closes.
func (s *Still) Fetch(ctx context.Context, videoRef string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filepath.Dir(videoRef) != filepath.Clean(s.workDir) {
		return nil, fmt.Errorf("video: %s is outside the work dir", videoRef)
	}
	f, err := os.Open(videoRef)
	if err != nil {
		return nil, fmt.Errorf("video: open clip: %w", err)
	}
	s.forget(idFromOutput(videoRef))
	return &removeOnClose{File: f}, nil
}

// Cancel stops a running render and discards its output.
func (s *Still) Cancel(_ context.Context, h providers.Handle) error {
	task, ok := s.task(h.ID)
	if !ok {
		return nil
	}
	s.forget(h.ID)
	select {
	case <-task.done:
	default:
		if task.cmd.Process != nil {
			_ = task.cmd.Process.Kill()
		}
		<-task.done
	}
	if err := os.Remove(task.output); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Still) task(id string) (*stillTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *Still) forget(id string) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

func idFromOutput(p string) string {
	base := filepath.Base(p)
	return base[:len(base)-len(filepath.Ext(base))]
}

type removeOnClose struct {
	*os.File
}

func (r *removeOnClose) Close() error {
	err := r.File.Close()
	if rmErr := os.Remove(r.File.Name()); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

var (
	_ providers.VideoSegmentGenerator = (*Still)(nil)
	_ providers.Canceler              = (*Still)(nil)
)
