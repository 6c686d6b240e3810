package pipeline

import (
	"context"
	"fmt"

	"showcase/internal/domain"
	"showcase/internal/jobs"
	"showcase/internal/storage"
)

func stitchProgress(segments []domain.SegmentArtifact) string {
	n := 0
	for _, s := range segments {
		if s.Succeeded {
			n++
		}
	}
	return fmt.Sprintf("Stitching %d video segments...", n)
}

// stitch concatenates the successful segments in index order.
func (o *Orchestrator) stitch(ctx context.Context, st *jobs.State, segments []domain.SegmentArtifact) (string, error) {
	var inputs []string
	for _, s := range segments {
		if !s.Succeeded {
			continue
		}
		p, err := o.store.Path(s.Key)
		if err != nil {
			return "", contractViolation("stitch", err.Error())
		}
		inputs = append(inputs, p)
	}
	if len(inputs) == 0 {
		return "", contractViolation("stitch", "no successful segments to stitch")
	}

	key := storage.Key(st.ID(), storage.KindFinalVideo, 0)
	out, err := o.store.Path(key)
	if err != nil {
		return "", contractViolation("stitch", err.Error())
	}
	if err := o.stitcher.Concat(ctx, inputs, out); err != nil {
		if checkpoint(st) != nil {
			return "", errCancelled
		}
		return "", providerError("stitch", "Stitching video segments failed", err)
	}
	st.SetFinalVideo(key)
	return key, nil
}
