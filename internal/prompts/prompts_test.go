package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPresets(t *testing.T) {
	set, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if len(set.Camera) < MinCameraPrompts {
		t.Fatalf("camera prompts = %d", len(set.Camera))
	}
	if !strings.Contains(set.ContactSheet, "3x3") {
		t.Fatalf("contact sheet template missing grid instruction")
	}
	if set.Upscale == "" || set.Negative == "" || set.Analyze == "" {
		t.Fatalf("missing prompt: %+v", set)
	}
	if set.CameraFor(0) != set.Camera[0] || set.CameraFor(99) != set.Camera[len(set.Camera)-1] {
		t.Fatalf("CameraFor() bounds wrong")
	}
}

func TestLoadOverridesKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.toml")
	content := "upscale = \"make it sharper\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	set, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if set.Upscale != "make it sharper" {
		t.Fatalf("Upscale = %q", set.Upscale)
	}
	if len(set.Camera) < MinCameraPrompts {
		t.Fatalf("defaults lost on override")
	}
}

func TestLoadRejectsInvalidOverrides(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "too few camera prompts", content: "camera = [\"a\", \"b\"]\n"},
		{name: "unknown key", content: "colour = \"red\"\n"},
		{name: "bad syntax", content: "upscale = \n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "prompts.toml")
			_ = os.WriteFile(path, []byte(tc.content), 0o644)
			if _, err := Load(path); err == nil {
				t.Fatalf("Load() succeeded, want error")
			}
		})
	}
}
