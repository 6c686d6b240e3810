// Package providers defines the narrow capability interfaces the pipeline
// consumes from external AI vendors, and the error classification shared by
// every vendor client.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// Description is the analyzer output: the contact sheet prompt with every
// placeholder filled from the uploaded photos.
type Description struct {
	Prompt string
}

// ImageAnalyzer turns uploaded photos into a scene description.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, imagePaths []string) (Description, error)
}

// SheetGenerator renders the 3x3 contact sheet. The returned image must have
// width and height divisible by three.
type SheetGenerator interface {
	GenerateSheet(ctx context.Context, desc Description, imagePaths []string) ([]byte, error)
}

// FrameUpscaler returns a higher resolution version of one frame.
type FrameUpscaler interface {
	Upscale(ctx context.Context, framePath string, aspectRatio string) ([]byte, error)
}

// SegmentRequest describes one frame-to-frame clip.
type SegmentRequest struct {
	Index           int
	StartFramePath  string
	EndFramePath    string
	Prompt          string
	NegativePrompt  string
	DurationSeconds int
}

// Handle identifies a submitted remote task.
type Handle struct {
	ID        string
	StatusURL string
	// Credential is the index of the credential pair the task was submitted with.
	Credential int
}

// PollState is the remote task state reported by Poll.
type PollState string

const (
	PollPending   PollState = "pending"
	PollSucceeded PollState = "succeeded"
	PollFailed    PollState = "failed"
)

// PollResult is one observation of a remote task.
type PollResult struct {
	State    PollState
	VideoRef string
	Reason   string
}

// VideoSegmentGenerator is a submit/poll/fetch video vendor.
type VideoSegmentGenerator interface {
	Submit(ctx context.Context, req SegmentRequest) (Handle, error)
	Poll(ctx context.Context, h Handle) (PollResult, error)
	Fetch(ctx context.Context, videoRef string) (io.ReadCloser, error)
}

// Canceler is implemented by vendors that can abort a remote task.
type Canceler interface {
	Cancel(ctx context.Context, h Handle) error
}

// ErrTransient marks failures worth retrying: 5xx and 429 responses and
// network errors.
var ErrTransient = errors.New("transient provider error")

type transientError struct {
	err error
}

func (e *transientError) Error() string        { return e.err.Error() }
func (e *transientError) Unwrap() error        { return e.err }
func (e *transientError) Is(target error) bool { return target == ErrTransient }

// MarkTransient wraps err so Transient reports true.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transient reports whether err is worth retrying. Context cancellation is
// never transient.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// StatusError builds an error for a non-success HTTP response, marking
// server errors and throttling as transient.
func StatusError(op string, status int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 512 {
		body = body[:512]
	}
	var err error
	if body != "" {
		err = fmt.Errorf("%s: status %d: %s", op, status, body)
	} else {
		err = fmt.Errorf("%s: status %d", op, status)
	}
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return MarkTransient(err)
	}
	return err
}
