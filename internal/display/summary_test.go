package display

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSuccessMentionsOutputAndReuse(t *testing.T) {
	out := Success(Summary{
		Output:     "movie_4k.mp4",
		Segments:   10,
		Completed:  10,
		Skipped:    4,
		Elapsed:    90 * time.Second,
		OutputSize: 5 << 30,
	})
	for _, want := range []string{"movie_4k.mp4", "10 (4 reused)", "5.0 GiB", "1m30s"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestFailureShowsResumeHint(t *testing.T) {
	out := Failure(Summary{
		Segments:  10,
		Completed: 7,
		Failed:    3,
		Elapsed:   time.Minute,
	}, errors.New("3 of 10 segments unresolved"))
	for _, want := range []string{"failed", "7 of 10 done", "rerun the same command"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{3 << 20, "3.0 MiB"},
	}
	for _, tc := range cases {
		if got := humanBytes(tc.n); got != tc.want {
			t.Errorf("humanBytes(%d) = %s, want %s", tc.n, got, tc.want)
		}
	}
}
