package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

const (
	// GridColumns and GridRows describe the contact sheet layout.
	GridColumns = 3
	GridRows    = 3
	// FrameCount is the number of frames cut from one contact sheet.
	FrameCount = GridColumns * GridRows
	// SegmentCount is the number of adjacent frame pairs.
	SegmentCount = FrameCount - 1
)

// Job is a point-in-time view of a showcase generation job. Values handed out
// by the registry are copies; mutating them has no effect on the job.
type Job struct {
	ID              string     `json:"job_id"`
	Status          JobStatus  `json:"status"`
	Progress        string     `json:"progress,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	Inputs          []string   `json:"inputs"`
	Artifacts       Artifacts  `json:"artifacts"`
	Result          *Result    `json:"result,omitempty"`
	Error           *JobError  `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Artifacts holds storage keys of intermediate and final files. A field is
// only populated once the stage producing it completed.
type Artifacts struct {
	ContactSheet string            `json:"contact_sheet,omitempty"`
	Frames       []string          `json:"frames,omitempty"`
	Upscaled     []FrameArtifact   `json:"upscaled,omitempty"`
	Segments     []SegmentArtifact `json:"segments,omitempty"`
	FinalVideo   string            `json:"final_video,omitempty"`
}

// FrameArtifact is one upscaled frame. Degraded frames keep the original
// split resolution because the upscale call failed.
type FrameArtifact struct {
	Index    int    `json:"index"`
	Key      string `json:"key"`
	Degraded bool   `json:"degraded,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// SegmentArtifact is the outcome of one video segment between two adjacent
// frames (1-based frame numbers).
type SegmentArtifact struct {
	Index      int    `json:"index"`
	StartFrame int    `json:"start_frame"`
	EndFrame   int    `json:"end_frame"`
	Succeeded  bool   `json:"succeeded"`
	Key        string `json:"key,omitempty"`
	Attempts   int    `json:"attempts"`
	Reason     string `json:"reason,omitempty"`
}

// Summary counts reported on completion.
type Summary struct {
	TotalFrames      int `json:"total_frames"`
	TotalVideos      int `json:"total_videos"`
	SuccessfulVideos int `json:"successful_videos"`
	FailedVideos     int `json:"failed_videos"`
}

// Result is present only on completed jobs.
type Result struct {
	FinalVideo   string  `json:"final_video"`
	ContactSheet string  `json:"contact_sheet"`
	Summary      Summary `json:"summary"`
}

// JobError is present only on failed jobs.
type JobError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Clone returns a deep copy of j.
func (j Job) Clone() Job {
	out := j
	out.Inputs = append([]string(nil), j.Inputs...)
	out.Artifacts.Frames = append([]string(nil), j.Artifacts.Frames...)
	out.Artifacts.Upscaled = append([]FrameArtifact(nil), j.Artifacts.Upscaled...)
	out.Artifacts.Segments = append([]SegmentArtifact(nil), j.Artifacts.Segments...)
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// SummarizeSegments derives the completion summary from segment outcomes.
func SummarizeSegments(frames int, segments []SegmentArtifact) Summary {
	s := Summary{TotalFrames: frames, TotalVideos: len(segments)}
	for _, seg := range segments {
		if seg.Succeeded {
			s.SuccessfulVideos++
		} else {
			s.FailedVideos++
		}
	}
	return s
}
