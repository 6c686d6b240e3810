package events

import (
	"testing"
	"time"

	"showcase/internal/domain"
)

func TestFromJobCarriesSummary(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	job := domain.Job{
		ID:        "j1",
		Status:    domain.JobStatusCompleted,
		Progress:  "Video generation complete!",
		UpdatedAt: at,
		Result:    &domain.Result{Summary: domain.Summary{TotalFrames: 9, TotalVideos: 8, SuccessfulVideos: 7, FailedVideos: 1}},
	}
	ev := FromJob(TypeCompleted, job)
	if ev.JobID != "j1" || ev.Status != domain.JobStatusCompleted || !ev.At.Equal(at) {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Summary == nil || ev.Summary.SuccessfulVideos != 7 {
		t.Fatalf("summary = %+v", ev.Summary)
	}
}

func TestSubjectNormalization(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: DefaultSubject},
		{in: "  ", want: DefaultSubject},
		{in: "acme.showcase.", want: "acme.showcase"},
	}
	for _, tc := range tests {
		n := &NATS{subject: normalizeSubject(tc.in)}
		if got := n.subjectFor(TypeFailed); got != tc.want+".failed" {
			t.Fatalf("subjectFor(%q) = %q, want %q", tc.in, got, tc.want+".failed")
		}
	}
}
