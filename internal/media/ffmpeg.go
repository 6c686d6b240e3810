// Package media wraps the ffmpeg binary for the video operations the
// pipeline performs locally.
package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"showcase/internal/infra"
)

// FFmpeg runs ffmpeg subprocesses.
type FFmpeg struct {
	bin    string
	logger *infra.Logger
}

// NewFFmpeg returns a runner for bin, defaulting to "ffmpeg" on PATH.
func NewFFmpeg(bin string, logger *infra.Logger) *FFmpeg {
	if strings.TrimSpace(bin) == "" {
		bin = "ffmpeg"
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &FFmpeg{bin: bin, logger: logger}
}

// Available reports whether the binary can be resolved.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.bin)
	return err == nil
}

// Concat joins inputs, in order, into output with the concat demuxer and
// stream copy. All inputs must share codec parameters.
func (f *FFmpeg) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("ffmpeg concat: no inputs")
	}
	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ffmpeg concat: ensure output dir: %w", err)
	}
	listPath := filepath.Join(dir, ".concat-"+uuid.NewString()+".txt")
	if err := writeConcatList(listPath, inputs); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(listPath); err != nil && !os.IsNotExist(err) {
			f.logger.Warn().Err(err).Str("path", listPath).Msg("failed to remove concat list")
		}
	}()

	args := []string{"-hide_banner", "-loglevel", "error", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", "-y", output}
	f.logger.Debug().Int("inputs", len(inputs)).Str("output", output).Msg("ffmpeg concat")
	return f.run(ctx, "concat", args)
}

// Size is a clip's frame geometry in pixels.
type Size struct {
	Width  int
	Height int
}

// DefaultClipSize is used when a caller leaves the clip size unset.
var DefaultClipSize = Size{Width: 1280, Height: 720}

// even rounds both sides down to even numbers, as yuv420p requires, and
// falls back to DefaultClipSize for unusable values.
func (s Size) even() Size {
	s.Width -= s.Width % 2
	s.Height -= s.Height % 2
	if s.Width <= 0 || s.Height <= 0 {
		return DefaultClipSize
	}
	return s
}

// TransitionCommand builds, without starting, an ffmpeg command that renders
// a clip of the given length fading from the start still to the end still.
// Both stills are fitted into size and padded, so inputs of different
// resolution or aspect still produce clips that concatenate cleanly.
func (f *FFmpeg) TransitionCommand(ctx context.Context, start, end, output string, seconds int, size Size) *exec.Cmd {
	if seconds <= 0 {
		seconds = 5
	}
	dur := strconv.Itoa(seconds)
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-loop", "1", "-t", dur, "-i", start,
		"-loop", "1", "-t", dur, "-i", end,
		"-filter_complex", transitionFilter(seconds, size),
		"-t", dur, "-r", "24", "-c:v", "libx264", "-pix_fmt", "yuv420p", "-movflags", "+faststart",
		"-y", output,
	}
	return exec.CommandContext(ctx, f.bin, args...)
}

func transitionFilter(seconds int, size Size) string {
	size = size.even()
	fit := fmt.Sprintf("scale=%[1]d:%[2]d:force_original_aspect_ratio=decrease,pad=%[1]d:%[2]d:(ow-iw)/2:(oh-ih)/2,setsar=1", size.Width, size.Height)
	fade := float64(seconds) / 2
	return fmt.Sprintf("[0:v]%s[a];[1:v]%s[b];[a][b]xfade=transition=fade:duration=%.2f:offset=%.2f,format=yuv420p",
		fit, fit, fade, float64(seconds)-fade)
}

func (f *FFmpeg) run(ctx context.Context, op string, args []string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg %s: %w: %s", op, err, tail(stderr.String(), 400))
	}
	return nil
}

func writeConcatList(path string, inputs []string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ffmpeg concat: create list: %w", err)
	}
	writer := bufio.NewWriter(file)
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			file.Close()
			return fmt.Errorf("ffmpeg concat: resolve %s: %w", in, err)
		}
		if _, err := writer.WriteString("file '" + escapeConcatPath(abs) + "'\n"); err != nil {
			file.Close()
			return fmt.Errorf("ffmpeg concat: write list: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("ffmpeg concat: flush list: %w", err)
	}
	return file.Close()
}

// escapeConcatPath quotes a path for the concat demuxer's single-quoted form.
func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
