// Package workspace owns the on-disk namespace of a run: per-segment
// artifacts, the resume ledger, the concat list and the run journal all
// live under one directory so an interrupted run leaves nothing behind in
// the caller's working directory.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Workspace is the work directory for one run.
type Workspace struct {
	dir string
}

// New creates the work directory if needed.
func New(dir string) (*Workspace, error) {
	if dir == "" {
		return nil, fmt.Errorf("workspace directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string { return w.dir }

// ArtifactPath returns the artifact file for a segment index. One file per
// index; no two workers ever write the same path concurrently.
func (w *Workspace) ArtifactPath(index int) string {
	return filepath.Join(w.dir, fmt.Sprintf("seg_%03d.mp4", index))
}

// ArtifactExists reports whether a non-empty artifact is present for index.
// Zero-byte files count as absent: they are torn leftovers from a killed
// encode and must be redone.
func (w *Workspace) ArtifactExists(index int) bool {
	info, err := os.Stat(w.ArtifactPath(index))
	return err == nil && info.Size() > 0
}

// ArtifactSize returns the artifact byte size, or 0 when absent.
func (w *Workspace) ArtifactSize(index int) int64 {
	info, err := os.Stat(w.ArtifactPath(index))
	if err != nil {
		return 0
	}
	return info.Size()
}

// LedgerPath returns the resume ledger location.
func (w *Workspace) LedgerPath() string {
	return filepath.Join(w.dir, "resume.log")
}

// ConcatListPath returns the ffmpeg concat demuxer list file location.
func (w *Workspace) ConcatListPath() string {
	return filepath.Join(w.dir, "concat.txt")
}

// JournalPath returns the parquet run journal location.
func (w *Workspace) JournalPath() string {
	return filepath.Join(w.dir, "journal.parquet")
}

// StderrArchivePath returns the location for a failed segment's compressed
// ffmpeg stderr.
func (w *Workspace) StderrArchivePath(index, attempt int) string {
	return filepath.Join(w.dir, fmt.Sprintf("seg_%03d_a%d.stderr.zst", index, attempt))
}

// Cleanup removes the workspace directory and everything in it. Best
// effort: failures are logged and do not change the run outcome, since the
// run has already succeeded by the time cleanup executes.
func (w *Workspace) Cleanup(log *slog.Logger) {
	if err := os.RemoveAll(w.dir); err != nil {
		log.Warn("workspace cleanup failed", "dir", w.dir, "error", err)
		return
	}
	log.Info("workspace removed", "dir", w.dir)
}
