// Package events publishes job lifecycle notifications.
package events

import (
	"context"
	"time"

	"showcase/internal/domain"
)

// Event types.
const (
	TypeStarted   = "started"
	TypeStage     = "stage"
	TypeCompleted = "completed"
	TypeFailed    = "failed"
	TypeCancelled = "cancelled"
)

// Event is one lifecycle notification of a job.
type Event struct {
	Type     string           `json:"type"`
	JobID    string           `json:"job_id"`
	Status   domain.JobStatus `json:"status"`
	Stage    string           `json:"stage,omitempty"`
	Progress string           `json:"progress,omitempty"`
	Error    *domain.JobError `json:"error,omitempty"`
	Summary  *domain.Summary  `json:"summary,omitempty"`
	At       time.Time        `json:"at"`
}

// Publisher delivers events. Delivery is best effort: a failed publish never
// affects the job.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) {}

// FromJob builds an event of type typ from a job snapshot.
func FromJob(typ string, job domain.Job) Event {
	ev := Event{
		Type:     typ,
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.Error,
		At:       job.UpdatedAt,
	}
	if job.Result != nil {
		s := job.Result.Summary
		ev.Summary = &s
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return ev
}
