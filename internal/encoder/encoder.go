// Package encoder wraps the external ffmpeg/ffprobe binaries: probing the
// input, encoding one segment at a time, and stream-copy concatenation.
//
// Segment encodes are overwrite-idempotent (-y): re-running the same
// segment after a crash replaces any partial artifact with a valid one.
// Codec strategies form a fallback list; each is tried in order and only
// the final failure surfaces.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/mediaforge/segpipe/internal/config"
	"github.com/mediaforge/segpipe/internal/plan"
)

// Strategy is one codec attempt in the fallback list.
type Strategy struct {
	Name  string
	Codec string
	// ExtraArgs are codec-specific flags appended after the codec.
	ExtraArgs []string
}

// StrategiesFromCodecs builds the strategy list for the configured codecs.
// Known software encoders get a preset; hardware encoders run bare.
func StrategiesFromCodecs(codecs []string) []Strategy {
	out := make([]Strategy, 0, len(codecs))
	for _, c := range codecs {
		s := Strategy{Name: c, Codec: c}
		switch c {
		case "libx264", "libx265":
			s.ExtraArgs = []string{"-preset", "medium"}
		}
		out = append(out, s)
	}
	return out
}

// Job describes one segment encode.
type Job struct {
	Source  string
	Desc    plan.Descriptor
	OutPath string
}

// Result is the outcome of a successful segment encode.
type Result struct {
	Strategy string
	// Stderr holds the captured ffmpeg stderr of the last attempt, kept
	// for forensics when the encode failed.
	Stderr string
}

// FFmpeg invokes the external binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	profile     config.EncodeConfig
	strategies  []Strategy
	log         *slog.Logger
}

// New builds an FFmpeg engine from the encode configuration.
func New(cfg config.EncodeConfig, log *slog.Logger) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		profile:     cfg,
		strategies:  StrategiesFromCodecs(cfg.Codecs),
		log:         log,
	}
}

// EncodeSegment encodes one segment, trying each codec strategy in order.
// On total failure the returned Result still carries the last attempt's
// stderr so the caller can archive it.
func (e *FFmpeg) EncodeSegment(ctx context.Context, job Job) (Result, error) {
	var lastErr error
	var lastStderr string

	for _, s := range e.strategies {
		stderr, err := e.run(ctx, e.BuildSegmentArgs(s, job))
		if err == nil {
			return Result{Strategy: s.Name, Stderr: stderr}, nil
		}
		lastErr = err
		lastStderr = stderr

		if ctx.Err() != nil {
			return Result{Stderr: stderr}, ctx.Err()
		}

		e.log.Warn("strategy failed, falling back",
			"segment", job.Desc.Index,
			"strategy", s.Name,
			"reason", failureReason(stderr),
		)
	}

	return Result{Stderr: lastStderr},
		fmt.Errorf("segment %d: all %d strategies failed: %w", job.Desc.Index, len(e.strategies), lastErr)
}

// BuildSegmentArgs assembles the ffmpeg argument list for one segment
// under one strategy. Exported for testing without a real ffmpeg binary.
func (e *FFmpeg) BuildSegmentArgs(s Strategy, job Job) []string {
	p := e.profile

	filter := fmt.Sprintf("scale=%d:%d:flags=lanczos", p.Width, p.Height)
	if p.Sharpen {
		filter += ",unsharp=5:5:1.2"
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(job.Desc.Offset),
		"-t", formatSeconds(job.Desc.Length),
		"-i", job.Source,
		"-vf", filter,
		"-c:v", s.Codec,
	}
	args = append(args, s.ExtraArgs...)
	args = append(args,
		"-b:v", p.VideoBitrate,
		"-maxrate", p.MaxRate,
		"-bufsize", p.BufSize,
		"-pix_fmt", p.PixelFormat,
		"-colorspace", p.ColorSpace,
		"-c:a", "aac",
		"-b:a", p.AudioBitrate,
		"-movflags", "+faststart",
		job.OutPath,
	)
	return args
}

// run executes ffmpeg with the given args, capturing stderr for
// classification and forensics.
func (e *FFmpeg) run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	return stderrBuf.String(), err
}

// formatSeconds renders a duration as fractional seconds for ffmpeg.
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
