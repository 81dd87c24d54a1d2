package encoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Concat merges segment artifacts into out using the ffmpeg concat demuxer
// with stream copy. paths must already be in ascending segment order; the
// merge is container-level, not a byte concatenation, so the output stays
// a valid media file.
func (e *FFmpeg) Concat(ctx context.Context, paths []string, listPath, out string) error {
	if len(paths) == 0 {
		return fmt.Errorf("concat: no segment artifacts")
	}

	list, err := BuildConcatList(paths)
	if err != nil {
		return err
	}
	if err := os.WriteFile(listPath, []byte(list), 0o644); err != nil {
		return fmt.Errorf("write concat list %s: %w", listPath, err)
	}

	stderr, err := e.run(ctx, []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		out,
	})
	if err != nil {
		return fmt.Errorf("concat %d segments: %w (stderr: %s)", len(paths), err, strings.TrimSpace(stderr))
	}
	return nil
}

// BuildConcatList renders the concat demuxer list file content. Paths are
// made absolute so the list is valid regardless of ffmpeg's working
// directory. Exported for testing.
func BuildConcatList(paths []string) (string, error) {
	var b strings.Builder
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", p, err)
		}
		fmt.Fprintf(&b, "file '%s'\n", abs)
	}
	return b.String(), nil
}
