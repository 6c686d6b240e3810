package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

const (
	uploadsDir = "uploads"
	outputsDir = "outputs"
)

// Kind names one class of job artifact.
type Kind string

const (
	KindContactSheet Kind = "contact_sheet"
	KindFrame        Kind = "frame"
	KindUpscaled     Kind = "upscaled"
	KindSegment      Kind = "segment"
	KindFinalVideo   Kind = "final_video"
)

// InputKey names the index-th uploaded photo of a job (0-based index).
func InputKey(jobID string, index int, ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(uploadsDir, jobID, fmt.Sprintf("input_%02d%s", index+1, ext))
}

// Key names an output artifact. index is 0-based and ignored for single
// artifacts; file names are 1-based to match frame numbering.
func Key(jobID string, kind Kind, index int) string {
	base := path.Join(outputsDir, jobID)
	switch kind {
	case KindContactSheet:
		return path.Join(base, "contact_sheet.png")
	case KindFrame:
		return path.Join(base, "frames", fmt.Sprintf("frame_%02d.png", index+1))
	case KindUpscaled:
		return path.Join(base, "upscaled", fmt.Sprintf("upscaled_frame_%02d.png", index+1))
	case KindSegment:
		return path.Join(base, "segments", fmt.Sprintf("segment_%02d.mp4", index+1))
	case KindFinalVideo:
		return path.Join(base, "final_video.mp4")
	default:
		return path.Join(base, string(kind))
	}
}

func validateJobID(jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) {
		return errors.New("storage: invalid job id")
	}
	return nil
}
