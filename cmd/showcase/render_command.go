package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"showcase/internal/bootstrap"
	"showcase/internal/domain"
	"showcase/internal/infra"
	"showcase/internal/pipeline"
	"showcase/internal/storage"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true}

func newRenderCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "render <photo-dir> [output.mp4]",
		Short: "Run one job synchronously over the photos in a directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := ""
			if len(args) == 2 {
				output = args[1]
			}
			return runRender(cmd, args[0], output, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Progress refresh interval")
	return cmd
}

func runRender(cmd *cobra.Command, dir, output string, interval time.Duration) error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	paths, err := photoPaths(dir)
	if err != nil {
		return err
	}
	uploads := make([]pipeline.Upload, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		uploads = append(uploads, pipeline.Upload{Filename: filepath.Base(p), Body: f})
	}

	id, err := rt.Service.CreateJob(ctx, uploads)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job %s: %d photos\n", id, len(uploads))

	job, err := follow(ctx, rt.Service, id, interval, func(progress string) {
		fmt.Fprintf(out, "  %s\n", progress)
	})
	if err != nil {
		// interrupted: cancel and wait for the pipeline to settle
		_ = rt.Service.RequestCancel(id)
		waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		job, _ = rt.Service.Wait(waitCtx, id)
	}

	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, summaryRows(job), nil))
	if job.Status != domain.JobStatusCompleted {
		if job.Error != nil {
			return fmt.Errorf("job %s %s: %s", id, job.Status, job.Error.Message)
		}
		return fmt.Errorf("job %s %s", id, job.Status)
	}

	if output != "" {
		if err := copyArtifact(rt, id, output); err != nil {
			return err
		}
		fmt.Fprintf(out, "video written to %s\n", output)
	}
	return nil
}

// follow prints every progress change until the job is terminal.
func follow(ctx context.Context, svc *pipeline.Service, id string, interval time.Duration, onProgress func(string)) (domain.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := ""
	for {
		job, err := svc.Status(id)
		if err != nil {
			return domain.Job{}, err
		}
		if job.Progress != last {
			last = job.Progress
			onProgress(last)
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func summaryRows(job domain.Job) [][]string {
	rows := [][]string{
		{"Job", job.ID},
		{"Status", string(job.Status)},
		{"Progress", job.Progress},
	}
	if job.StartedAt != nil && job.FinishedAt != nil {
		rows = append(rows, []string{"Duration", job.FinishedAt.Sub(*job.StartedAt).Round(time.Second).String()})
	}
	if job.Result != nil {
		s := job.Result.Summary
		rows = append(rows,
			[]string{"Frames", strconv.Itoa(s.TotalFrames)},
			[]string{"Segments", fmt.Sprintf("%d ok / %d failed of %d", s.SuccessfulVideos, s.FailedVideos, s.TotalVideos)},
			[]string{"Contact sheet", job.Result.ContactSheet},
			[]string{"Final video", job.Result.FinalVideo},
		)
	}
	degraded := 0
	for _, f := range job.Artifacts.Upscaled {
		if f.Degraded {
			degraded++
		}
	}
	if degraded > 0 {
		rows = append(rows, []string{"Degraded frames", strconv.Itoa(degraded)})
	}
	if job.Error != nil {
		rows = append(rows, []string{"Error", string(job.Error.Code) + ": " + job.Error.Message})
	}
	return rows
}

func photoPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("no photos found in %s", dir)
	}
	return out, nil
}

func copyArtifact(rt *bootstrap.Runtime, id, output string) error {
	src, err := rt.Service.OpenArtifact(id, storage.KindFinalVideo)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(output)
	if err != nil {
		return err
	}
	if _, err := dst.ReadFrom(src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
