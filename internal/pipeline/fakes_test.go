package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"showcase/internal/domain"
	"showcase/internal/jobs"
	"showcase/internal/providers"
	"showcase/internal/storage"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(w, h, c), imaging.PNG); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type fakeAnalyzer struct {
	prompt string
	err    error
	// block makes Analyze wait for ctx cancellation.
	block   bool
	started chan struct{}
	calls   atomic.Int32
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, paths []string) (providers.Description, error) {
	f.calls.Add(1)
	if f.started != nil {
		close(f.started)
	}
	if f.block {
		<-ctx.Done()
		return providers.Description{}, ctx.Err()
	}
	if f.err != nil {
		return providers.Description{}, f.err
	}
	return providers.Description{Prompt: f.prompt}, nil
}

type fakeSheets struct {
	data []byte
	err  error
}

func (f *fakeSheets) GenerateSheet(context.Context, providers.Description, []string) ([]byte, error) {
	return f.data, f.err
}

type fakeUpscaler struct {
	data []byte
	fail map[int]bool
}

func (f *fakeUpscaler) Upscale(_ context.Context, framePath, _ string) ([]byte, error) {
	var n int
	if _, err := fmt.Sscanf(filepath.Base(framePath), "frame_%02d.png", &n); err != nil {
		return nil, fmt.Errorf("unexpected frame path %q", framePath)
	}
	if f.fail[n-1] {
		return nil, errors.New("upscale quota exceeded")
	}
	return f.data, nil
}

type fakeVideos struct {
	mu        sync.Mutex
	submits   map[int]int
	polls     map[string]int
	cancelled []string

	submitErr func(index, attempt int) error
	pollFn    func(h providers.Handle, index, attempt, n int) (providers.PollResult, error)
}

func newFakeVideos() *fakeVideos {
	return &fakeVideos{submits: map[int]int{}, polls: map[string]int{}}
}

func (f *fakeVideos) Submit(_ context.Context, req providers.SegmentRequest) (providers.Handle, error) {
	f.mu.Lock()
	f.submits[req.Index]++
	attempt := f.submits[req.Index]
	f.mu.Unlock()
	if f.submitErr != nil {
		if err := f.submitErr(req.Index, attempt); err != nil {
			return providers.Handle{}, err
		}
	}
	if req.Prompt == "" || req.StartFramePath == "" || req.EndFramePath == "" {
		return providers.Handle{}, errors.New("incomplete segment request")
	}
	return providers.Handle{ID: fmt.Sprintf("seg-%d-%d", req.Index, attempt)}, nil
}

func (f *fakeVideos) Poll(_ context.Context, h providers.Handle) (providers.PollResult, error) {
	f.mu.Lock()
	f.polls[h.ID]++
	n := f.polls[h.ID]
	f.mu.Unlock()
	var index, attempt int
	if _, err := fmt.Sscanf(h.ID, "seg-%d-%d", &index, &attempt); err != nil {
		return providers.PollResult{}, err
	}
	if f.pollFn != nil {
		return f.pollFn(h, index, attempt, n)
	}
	return providers.PollResult{State: providers.PollSucceeded, VideoRef: h.ID}, nil
}

func (f *fakeVideos) Fetch(_ context.Context, ref string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("video:" + ref)), nil
}

func (f *fakeVideos) Cancel(_ context.Context, h providers.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, h.ID)
	return nil
}

func (f *fakeVideos) totalSubmits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.submits {
		n += c
	}
	return n
}

func (f *fakeVideos) attempts(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits[index]
}

type fakeStitcher struct {
	mu     sync.Mutex
	inputs []string
	err    error
}

func (f *fakeStitcher) Concat(_ context.Context, inputs []string, output string) error {
	f.mu.Lock()
	f.inputs = append([]string(nil), inputs...)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	var buf bytes.Buffer
	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	return os.WriteFile(output, buf.Bytes(), 0o644)
}

type harness struct {
	svc      *Service
	orch     *Orchestrator
	store    *storage.FileStore
	analyzer *fakeAnalyzer
	sheets   *fakeSheets
	upscaler *fakeUpscaler
	videos   *fakeVideos
	stitcher *fakeStitcher
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FrameWidth = 8
	cfg.FrameHeight = 6
	cfg.SubmitBackoff = time.Millisecond
	cfg.PollInitial = time.Millisecond
	cfg.PollMax = 2 * time.Millisecond
	cfg.SegmentTimeout = 5 * time.Second
	return cfg
}

func newHarness(t *testing.T, mutate func(*harness, *Config)) *harness {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	h := &harness{
		store:    store,
		analyzer: &fakeAnalyzer{prompt: "a product on a table"},
		sheets:   &fakeSheets{data: pngBytes(t, 30, 30, color.NRGBA{R: 200, A: 255})},
		upscaler: &fakeUpscaler{data: pngBytes(t, 12, 8, color.NRGBA{G: 200, A: 255}), fail: map[int]bool{}},
		videos:   newFakeVideos(),
		stitcher: &fakeStitcher{},
	}
	cfg := testConfig()
	if mutate != nil {
		mutate(h, &cfg)
	}
	orch, err := NewOrchestrator(Deps{
		Analyzer: h.analyzer,
		Sheets:   h.sheets,
		Upscaler: h.upscaler,
		Videos:   h.videos,
		Stitcher: h.stitcher,
		Store:    store,
		Logger:   zerolog.Nop(),
	}, cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	h.orch = orch
	h.svc = NewService(orch, jobs.NewRegistry(), zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.svc.Shutdown(ctx)
	})
	return h
}

func (h *harness) uploads(t *testing.T, n int) []Upload {
	t.Helper()
	out := make([]Upload, n)
	for i := range out {
		out[i] = Upload{
			Filename: fmt.Sprintf("photo_%d.png", i+1),
			Body:     bytes.NewReader(pngBytes(t, 16, 16, color.NRGBA{B: uint8(40 * i), A: 255})),
		}
	}
	return out
}

// runJob creates a job and waits for its terminal snapshot.
func (h *harness) runJob(t *testing.T, images int) domain.Job {
	t.Helper()
	id, err := h.svc.CreateJob(context.Background(), h.uploads(t, images))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return h.wait(t, id)
}

func (h *harness) wait(t *testing.T, id string) domain.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := h.svc.Wait(ctx, id)
	if err != nil {
		t.Fatalf("job %s did not finish: %v (status %s, progress %q)", id, err, job.Status, job.Progress)
	}
	return job
}
