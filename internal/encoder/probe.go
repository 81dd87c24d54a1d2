package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ProbeResult holds the input properties segpipe needs for planning.
type ProbeResult struct {
	Duration   time.Duration
	Width      int
	Height     int
	FormatName string
	BitRate    int64
}

// Resolution returns "WxH", or "unknown" when no video stream was found.
func (p *ProbeResult) Resolution() string {
	if p.Width <= 0 || p.Height <= 0 {
		return "unknown"
	}
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// Probe runs a single ffprobe JSON call against path and returns the
// parsed result.
func (e *FFmpeg) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}

	return ParseProbeJSON(out)
}

// ParseProbeJSON converts raw ffprobe JSON output into a ProbeResult.
// Exported for testing without a real ffprobe binary.
func ParseProbeJSON(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	pr := &ProbeResult{
		Duration:   secondsToDuration(raw.Format.Duration),
		FormatName: raw.Format.FormatName,
		BitRate:    parseInt64(raw.Format.BitRate),
	}
	for i := range raw.Streams {
		s := &raw.Streams[i]
		if s.CodecType == "video" && pr.Width == 0 {
			pr.Width = s.Width
			pr.Height = s.Height
		}
	}
	return pr, nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

func secondsToDuration(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

func parseInt64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
