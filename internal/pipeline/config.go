package pipeline

import "time"

// Config holds the operational knobs of a pipeline run. Every schedule is a
// field so tests can shrink it.
type Config struct {
	MinImages int
	MaxImages int

	FrameWidth  int
	FrameHeight int

	UpscaleAspect      string
	UpscaleConcurrency int
	// MaxDegradedFrames is how many frames may keep their original
	// resolution before the upscale stage fails the job. Zero means the
	// default; use NoDegradedFrames to require every frame upscaled.
	MaxDegradedFrames int

	SegmentConcurrency     int
	SegmentDurationSeconds int
	// SubmitAttempts bounds submit/poll cycles per segment.
	SubmitAttempts int
	SubmitBackoff  time.Duration
	PollInitial    time.Duration
	PollMultiplier float64
	PollMax        time.Duration
	SegmentTimeout time.Duration
}

// NoDegradedFrames fails the upscale stage on the first frame that cannot
// be upscaled.
const NoDegradedFrames = -1

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinImages:              2,
		MaxImages:              10,
		FrameWidth:             1024,
		FrameHeight:            576,
		UpscaleAspect:          "3:2",
		UpscaleConcurrency:     3,
		MaxDegradedFrames:      2,
		SegmentConcurrency:     3,
		SegmentDurationSeconds: 5,
		SubmitAttempts:         3,
		SubmitBackoff:          2 * time.Second,
		PollInitial:            2 * time.Second,
		PollMultiplier:         1.2,
		PollMax:                10 * time.Second,
		SegmentTimeout:         15 * time.Minute,
	}
}

// normalize replaces unset or invalid values with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.MinImages <= 0 {
		c.MinImages = d.MinImages
	}
	if c.MaxImages < c.MinImages {
		c.MaxImages = max(d.MaxImages, c.MinImages)
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		c.FrameWidth, c.FrameHeight = d.FrameWidth, d.FrameHeight
	}
	if c.UpscaleAspect == "" {
		c.UpscaleAspect = d.UpscaleAspect
	}
	if c.UpscaleConcurrency <= 0 {
		c.UpscaleConcurrency = d.UpscaleConcurrency
	}
	switch {
	case c.MaxDegradedFrames == 0:
		c.MaxDegradedFrames = d.MaxDegradedFrames
	case c.MaxDegradedFrames < 0:
		c.MaxDegradedFrames = 0
	}
	if c.SegmentConcurrency <= 0 {
		c.SegmentConcurrency = d.SegmentConcurrency
	}
	if c.SegmentDurationSeconds <= 0 {
		c.SegmentDurationSeconds = d.SegmentDurationSeconds
	}
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = d.SubmitAttempts
	}
	if c.SubmitBackoff <= 0 {
		c.SubmitBackoff = d.SubmitBackoff
	}
	if c.PollInitial <= 0 {
		c.PollInitial = d.PollInitial
	}
	if c.PollMultiplier < 1 {
		c.PollMultiplier = d.PollMultiplier
	}
	if c.PollMax <= 0 {
		c.PollMax = d.PollMax
	}
	if c.PollMax < c.PollInitial {
		c.PollMax = c.PollInitial
	}
	if c.SegmentTimeout <= 0 {
		c.SegmentTimeout = d.SegmentTimeout
	}
	return c
}
