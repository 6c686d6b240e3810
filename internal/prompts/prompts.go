// Package prompts loads the text prompts the pipeline sends to vendors.
package prompts

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed presets.toml
var defaultPresets []byte

// MinCameraPrompts is the number of frame transitions in one showcase.
const MinCameraPrompts = 8

// Set holds every prompt used by one pipeline run.
type Set struct {
	Analyze      string   `toml:"analyze"`
	ContactSheet string   `toml:"contact_sheet"`
	Upscale      string   `toml:"upscale"`
	Negative     string   `toml:"negative"`
	Camera       []string `toml:"camera"`
}

// Default returns the embedded presets.
func Default() (*Set, error) {
	var set Set
	if err := decode(defaultPresets, &set); err != nil {
		return nil, fmt.Errorf("prompts: embedded presets: %w", err)
	}
	set.normalize()
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// Load returns the embedded presets overlaid with path, when given.
func Load(path string) (*Set, error) {
	set, err := Default()
	if err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return set, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: read %s: %w", path, err)
	}
	if err := decode(data, set); err != nil {
		return nil, fmt.Errorf("prompts: parse %s: %w", path, err)
	}
	set.normalize()
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

func decode(data []byte, set *Set) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(set)
}

func (s *Set) normalize() {
	s.Analyze = strings.TrimSpace(s.Analyze)
	s.ContactSheet = strings.TrimSpace(s.ContactSheet)
	s.Upscale = strings.TrimSpace(s.Upscale)
	s.Negative = strings.TrimSpace(s.Negative)
	camera := s.Camera[:0]
	for _, c := range s.Camera {
		if c = strings.TrimSpace(c); c != "" {
			camera = append(camera, c)
		}
	}
	s.Camera = camera
}

// Validate checks that every prompt the pipeline needs is present.
func (s *Set) Validate() error {
	var errs []error
	if s.ContactSheet == "" {
		errs = append(errs, errors.New("contact_sheet is empty"))
	}
	if s.Upscale == "" {
		errs = append(errs, errors.New("upscale is empty"))
	}
	if len(s.Camera) < MinCameraPrompts {
		errs = append(errs, fmt.Errorf("camera needs at least %d prompts, got %d", MinCameraPrompts, len(s.Camera)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("prompts: %w", errors.Join(errs...))
	}
	return nil
}

// CameraFor returns the camera prompt of the transition starting at frame
// index i (0-based).
func (s *Set) CameraFor(i int) string {
	if len(s.Camera) == 0 {
		return ""
	}
	if i < 0 {
		i = 0
	}
	if i >= len(s.Camera) {
		i = len(s.Camera) - 1
	}
	return s.Camera[i]
}
