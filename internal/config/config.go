// Package config holds run configuration for segpipe.
//
// Configuration is resolved in three layers: built-in defaults, an optional
// YAML config file, and command-line flags (highest precedence). A few
// operational knobs also accept environment fallbacks so the tool can be
// dropped into CI without flag plumbing.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mediaforge/segpipe/internal/logging"
	"github.com/mediaforge/segpipe/internal/metrics"
)

// ErrInvalid is wrapped by all configuration validation failures. Callers
// map it to the invalid-configuration exit code.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full run configuration.
type Config struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`

	// WorkDir holds per-segment artifacts, the resume ledger and the run
	// journal. Defaults to "<output>.segments".
	WorkDir     string `yaml:"work_dir"`
	KeepWorkDir bool   `yaml:"keep_work_dir"`

	SegmentDuration time.Duration `yaml:"segment_duration"`
	Workers         int           `yaml:"workers"`

	Encode  EncodeConfig   `yaml:"encode"`
	Retry   RetryConfig    `yaml:"retry"`
	Publish PublishConfig  `yaml:"publish"`
	Notify  NotifyConfig   `yaml:"notify"`
	Metrics metrics.Config `yaml:"metrics"`
	Log     logging.Config `yaml:"log"`
}

// EncodeConfig describes the per-segment encode profile and the ordered
// codec strategies to try.
type EncodeConfig struct {
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	VideoBitrate string `yaml:"video_bitrate"`
	MaxRate      string `yaml:"max_rate"`
	BufSize      string `yaml:"buf_size"`
	AudioBitrate string `yaml:"audio_bitrate"`
	PixelFormat  string `yaml:"pixel_format"`
	ColorSpace   string `yaml:"color_space"`
	Sharpen      bool   `yaml:"sharpen"`

	// Codecs is the fallback list: each codec is tried in order for a
	// failing segment, only the final failure surfaces.
	Codecs []string `yaml:"codecs"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

// RetryConfig bounds per-segment retries inside the worker pool.
type RetryConfig struct {
	Attempts  int `yaml:"attempts"`
	BackoffMs int `yaml:"backoff_ms"`
}

// PublishConfig enables post-success publication of the final artifact,
// manifest and journal to a blob destination (file://, gs://, s3://).
type PublishConfig struct {
	URL    string `yaml:"url"` // empty disables publishing
	Prefix string `yaml:"prefix"`
}

// NotifyConfig enables a run-completed event POST.
type NotifyConfig struct {
	Endpoint  string `yaml:"endpoint"` // empty disables notification
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Default returns the built-in configuration, with environment fallbacks
// applied for operational knobs.
func Default() Config {
	return Config{
		SegmentDuration: 120 * time.Second,
		Workers:         defaultWorkers(),
		Encode: EncodeConfig{
			Width:        3840,
			Height:       2160,
			VideoBitrate: "35M",
			MaxRate:      "45M",
			BufSize:      "70M",
			AudioBitrate: "192k",
			PixelFormat:  "yuv420p",
			ColorSpace:   "bt709",
			Sharpen:      true,
			Codecs:       []string{"h264_qsv", "libx264"},
			FFmpegPath:   "ffmpeg",
			FFprobePath:  "ffprobe",
		},
		Retry: RetryConfig{
			Attempts:  3,
			BackoffMs: 1000,
		},
		Publish: PublishConfig{
			URL: os.Getenv("SEGPIPE_PUBLISH_URL"),
		},
		Notify: NotifyConfig{
			Endpoint:  os.Getenv("SEGPIPE_NOTIFY_ENDPOINT"),
			TimeoutMs: 30000,
		},
		Metrics: metrics.Config{
			Enabled: os.Getenv("SEGPIPE_METRICS_ADDR") != "",
			Address: getenvDefault("SEGPIPE_METRICS_ADDR", ":9090"),
		},
		Log: logging.Config{
			Format: getenvDefault("SEGPIPE_LOG_FORMAT", "text"),
			Level:  getenvDefault("SEGPIPE_LOG_LEVEL", "info"),
		},
	}
}

// defaultWorkers reserves two cores for system responsiveness, minimum 1.
func defaultWorkers() int {
	n := runtime.NumCPU() - 2
	if n < 1 {
		n = 1
	}
	return n
}

// registerFlags binds the CLI flags to cfg fields. Called twice when a
// config file is in play so flags win over file values.
func registerFlags(fs *flag.FlagSet, cfg *Config) (configPath *string, metricsOn *bool) {
	configPath = fs.String("config", "", "path to YAML config file")
	fs.StringVar(&cfg.Input, "i", cfg.Input, "input video file")
	fs.StringVar(&cfg.Output, "o", cfg.Output, "output video file")
	fs.StringVar(&cfg.WorkDir, "workdir", cfg.WorkDir, "work directory for segment artifacts and resume ledger")
	fs.BoolVar(&cfg.KeepWorkDir, "keep-workdir", cfg.KeepWorkDir, "keep segment artifacts and ledger after success")
	fs.DurationVar(&cfg.SegmentDuration, "segment-duration", cfg.SegmentDuration, "length of each segment")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of parallel encode workers")
	fs.StringVar(&cfg.Publish.URL, "publish", cfg.Publish.URL, "blob destination URL for the final artifact (file://, gs://, s3://)")
	fs.StringVar(&cfg.Notify.Endpoint, "notify", cfg.Notify.Endpoint, "HTTP endpoint for the run-completed event")
	fs.StringVar(&cfg.Metrics.Address, "metrics-addr", cfg.Metrics.Address, "Prometheus metrics listen address")
	metricsOn = fs.Bool("metrics", cfg.Metrics.Enabled, "serve Prometheus metrics")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level (debug|info|warn|error)")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "log format (text|json)")
	return configPath, metricsOn
}

// Load resolves configuration from defaults, an optional YAML file (via
// -config) and command-line flags.
func Load(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("segpipe", flag.ContinueOnError)
	configPath, metricsOn := registerFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if *configPath != "" {
		// Layer: defaults < file < flags. Reparse so flags win.
		cfg = Default()
		if err := loadFile(*configPath, &cfg); err != nil {
			return cfg, err
		}
		fs = flag.NewFlagSet("segpipe", flag.ContinueOnError)
		_, metricsOn = registerFlags(fs, &cfg)
		if err := fs.Parse(args); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	cfg.Metrics.Enabled = *metricsOn

	if cfg.WorkDir == "" && cfg.Output != "" {
		cfg.WorkDir = cfg.Output + ".segments"
	}

	return cfg, nil
}

// loadFile merges a YAML config file into cfg.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read config file: %v", ErrInvalid, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: parse config file %s: %v", ErrInvalid, path, err)
	}
	return nil
}

// Validate fails fast before any work starts.
func (c Config) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("%w: input file is required (-i)", ErrInvalid)
	}
	if _, err := os.Stat(c.Input); err != nil {
		return fmt.Errorf("%w: input %q: %v", ErrInvalid, c.Input, err)
	}
	if c.Output == "" {
		return fmt.Errorf("%w: output file is required (-o)", ErrInvalid)
	}
	if c.SegmentDuration <= 0 {
		return fmt.Errorf("%w: segment duration must be positive, got %s", ErrInvalid, c.SegmentDuration)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalid, c.Workers)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("%w: retry attempts must be at least 1, got %d", ErrInvalid, c.Retry.Attempts)
	}
	if len(c.Encode.Codecs) == 0 {
		return fmt.Errorf("%w: at least one encode codec is required", ErrInvalid)
	}
	if c.Encode.Width <= 0 || c.Encode.Height <= 0 {
		return fmt.Errorf("%w: target resolution %dx%d", ErrInvalid, c.Encode.Width, c.Encode.Height)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
