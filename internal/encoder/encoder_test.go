package encoder

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mediaforge/segpipe/internal/config"
	"github.com/mediaforge/segpipe/internal/plan"
)

func testEngine() *FFmpeg {
	cfg := config.Default().Encode
	return New(cfg, slog.Default())
}

func TestBuildSegmentArgs(t *testing.T) {
	e := testEngine()
	job := Job{
		Source:  "/in/movie.mp4",
		Desc:    plan.Descriptor{Index: 2, Offset: 240 * time.Second, Length: 10 * time.Second},
		OutPath: "/work/seg_002.mp4",
	}

	args := e.BuildSegmentArgs(Strategy{Name: "h264_qsv", Codec: "h264_qsv"}, job)
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-ss 240",
		"-t 10",
		"-i /in/movie.mp4",
		"-vf scale=3840:2160:flags=lanczos,unsharp=5:5:1.2",
		"-c:v h264_qsv",
		"-b:v 35M",
		"-maxrate 45M",
		"-bufsize 70M",
		"-pix_fmt yuv420p",
		"-colorspace bt709",
		"-c:a aac",
		"-b:a 192k",
		"-movflags +faststart",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q:\n%s", want, joined)
		}
	}
	if args[len(args)-1] != "/work/seg_002.mp4" {
		t.Errorf("output path must be last arg, got %q", args[len(args)-1])
	}
}

func TestBuildSegmentArgsFractionalOffset(t *testing.T) {
	e := testEngine()
	job := Job{
		Source:  "in.mp4",
		Desc:    plan.Descriptor{Index: 0, Offset: 1500 * time.Millisecond, Length: 120 * time.Second},
		OutPath: "out.mp4",
	}
	joined := strings.Join(e.BuildSegmentArgs(Strategy{Codec: "libx264"}, job), " ")
	if !strings.Contains(joined, "-ss 1.5 ") {
		t.Errorf("fractional offset not rendered: %s", joined)
	}
}

func TestBuildSegmentArgsNoSharpen(t *testing.T) {
	cfg := config.Default().Encode
	cfg.Sharpen = false
	e := New(cfg, slog.Default())

	joined := strings.Join(e.BuildSegmentArgs(Strategy{Codec: "libx264"}, Job{Source: "a", OutPath: "b"}), " ")
	if strings.Contains(joined, "unsharp") {
		t.Errorf("sharpen disabled but unsharp present: %s", joined)
	}
}

func TestStrategiesFromCodecs(t *testing.T) {
	got := StrategiesFromCodecs([]string{"h264_qsv", "libx264"})
	if len(got) != 2 {
		t.Fatalf("got %d strategies, want 2", len(got))
	}
	if got[0].Codec != "h264_qsv" || len(got[0].ExtraArgs) != 0 {
		t.Errorf("hardware strategy = %+v", got[0])
	}
	if got[1].Codec != "libx264" || len(got[1].ExtraArgs) == 0 {
		t.Errorf("software strategy should carry a preset: %+v", got[1])
	}
}

func TestBuildConcatList(t *testing.T) {
	list, err := BuildConcatList([]string{"/work/seg_000.mp4", "/work/seg_001.mp4"})
	if err != nil {
		t.Fatalf("BuildConcatList: %v", err)
	}
	want := "file '/work/seg_000.mp4'\nfile '/work/seg_001.mp4'\n"
	if list != want {
		t.Errorf("list = %q, want %q", list, want)
	}
}

func TestMatchEncoderUnavailable(t *testing.T) {
	cases := []struct {
		stderr string
		want   bool
	}{
		{"Unknown encoder 'h264_qsv'", true},
		{"Error initializing an internal MFX session", true},
		{"No VAAPI device found", true},
		{"Conversion failed!", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := MatchEncoderUnavailable(tc.stderr); got != tc.want {
			t.Errorf("MatchEncoderUnavailable(%q) = %v, want %v", tc.stderr, got, tc.want)
		}
	}
}

func TestFailureReason(t *testing.T) {
	cases := []struct {
		stderr string
		want   string
	}{
		{"Unknown encoder 'h264_qsv'", "encoder unavailable"},
		{"Invalid data found when processing input", "input unreadable"},
		{"Conversion failed!", "encode failed"},
		{"", "encode failed"},
	}
	for _, tc := range cases {
		if got := failureReason(tc.stderr); got != tc.want {
			t.Errorf("failureReason(%q) = %q, want %q", tc.stderr, got, tc.want)
		}
	}
}

func TestMatchInputIssue(t *testing.T) {
	if !MatchInputIssue("Invalid data found when processing input") {
		t.Error("input corruption not classified")
	}
	if MatchInputIssue("Unknown encoder 'x'") {
		t.Error("encoder issue misclassified as input issue")
	}
}
