package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// touch creates an empty file to satisfy the input existence check.
func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.SegmentDuration != 120*time.Second {
		t.Errorf("segment duration = %s, want 120s", cfg.SegmentDuration)
	}
	if cfg.Workers < 1 {
		t.Errorf("default workers = %d, want >= 1", cfg.Workers)
	}
	if len(cfg.Encode.Codecs) != 2 || cfg.Encode.Codecs[0] != "h264_qsv" {
		t.Errorf("default codecs = %v", cfg.Encode.Codecs)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("retry attempts = %d, want 3", cfg.Retry.Attempts)
	}
}

func TestLoadFlags(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "in.mp4")

	cfg, err := Load([]string{
		"-i", in,
		"-o", filepath.Join(dir, "out.mp4"),
		"-segment-duration", "30s",
		"-workers", "2",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Input != in {
		t.Errorf("input = %q", cfg.Input)
	}
	if cfg.SegmentDuration != 30*time.Second {
		t.Errorf("segment duration = %s, want 30s", cfg.SegmentDuration)
	}
	if cfg.Workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.Workers)
	}
	if cfg.WorkDir != cfg.Output+".segments" {
		t.Errorf("workdir default = %q", cfg.WorkDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigFileWithFlagOverride(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "in.mp4")

	yml := `
segment_duration: 60s
workers: 3
encode:
  codecs: [libx264]
  width: 1920
  height: 1080
log:
  level: debug
`
	cfgPath := filepath.Join(dir, "segpipe.yaml")
	if err := os.WriteFile(cfgPath, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load([]string{
		"-config", cfgPath,
		"-i", in,
		"-o", filepath.Join(dir, "out.mp4"),
		"-workers", "5", // flag wins over file
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SegmentDuration != 60*time.Second {
		t.Errorf("segment duration = %s, want 60s from file", cfg.SegmentDuration)
	}
	if cfg.Workers != 5 {
		t.Errorf("workers = %d, want flag override 5", cfg.Workers)
	}
	if cfg.Encode.Width != 1920 || cfg.Encode.Height != 1080 {
		t.Errorf("resolution = %dx%d, want 1920x1080", cfg.Encode.Width, cfg.Encode.Height)
	}
	if len(cfg.Encode.Codecs) != 1 || cfg.Encode.Codecs[0] != "libx264" {
		t.Errorf("codecs = %v", cfg.Encode.Codecs)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestValidateFailures(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "in.mp4")

	base := Default()
	base.Input = in
	base.Output = filepath.Join(dir, "out.mp4")

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing input", func(c *Config) { c.Input = "" }},
		{"input does not exist", func(c *Config) { c.Input = filepath.Join(dir, "nope.mp4") }},
		{"missing output", func(c *Config) { c.Output = "" }},
		{"zero segment duration", func(c *Config) { c.SegmentDuration = 0 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"zero retry attempts", func(c *Config) { c.Retry.Attempts = 0 }},
		{"no codecs", func(c *Config) { c.Encode.Codecs = nil }},
		{"bad resolution", func(c *Config) { c.Encode.Width = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("got %v, want ErrInvalid", err)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Errorf("base config should validate: %v", err)
	}
}
