// Package assemble merges completed segment artifacts into the final
// output, in segment-index order.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/mediaforge/segpipe/internal/logging"
	"github.com/mediaforge/segpipe/internal/metrics"
	"github.com/mediaforge/segpipe/internal/plan"
	"github.com/mediaforge/segpipe/internal/workspace"
)

// ErrIncompleteBatch is returned when assembly is requested before every
// planned segment has a completed artifact.
var ErrIncompleteBatch = errors.New("incomplete batch")

// MergeFunc concatenates the part files, listed in order, into outPath.
// listPath is scratch space for merge implementations that need an
// on-disk part list.
type MergeFunc func(ctx context.Context, parts []string, listPath, outPath string) error

// Assembler validates batch completeness and produces the final artifact.
type Assembler struct {
	ws    *workspace.Workspace
	merge MergeFunc
	log   *slog.Logger
}

// New creates an assembler that merges with merge, normally the ffmpeg
// stream-copy concat.
func New(ws *workspace.Workspace, merge MergeFunc) *Assembler {
	return &Assembler{
		ws:    ws,
		merge: merge,
		log:   logging.Component("assemble"),
	}
}

// Assemble merges every segment in segs into outPath. All indices must be
// present in done and have a non-empty artifact on disk; otherwise it
// returns ErrIncompleteBatch, naming the first missing index, and writes
// nothing. Completion order during the run does not matter: parts are
// ordered by segment index here.
func (a *Assembler) Assemble(ctx context.Context, segs []plan.Descriptor, done map[int]struct{}, outPath string) error {
	if len(segs) == 0 {
		return fmt.Errorf("%w: empty segment plan", ErrIncompleteBatch)
	}

	ordered := make([]plan.Descriptor, len(segs))
	copy(ordered, segs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var missing int
	first := -1
	for _, d := range ordered {
		_, recorded := done[d.Index]
		if !recorded || !a.ws.ArtifactExists(d.Index) {
			missing++
			if first < 0 {
				first = d.Index
			}
		}
	}
	if missing > 0 {
		return fmt.Errorf("%w: %d of %d segments missing, first is %d", ErrIncompleteBatch, missing, len(ordered), first)
	}

	parts := make([]string, len(ordered))
	for i, d := range ordered {
		parts[i] = a.ws.ArtifactPath(d.Index)
	}

	a.log.Info("merging segments", "segments", len(parts), "output", outPath)
	start := time.Now()
	if err := a.merge(ctx, parts, a.ws.ConcatListPath(), outPath); err != nil {
		return fmt.Errorf("merge %d segments into %s: %w", len(parts), outPath, err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("verify merged output %s: %w", outPath, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("merged output %s is empty", outPath)
	}

	elapsed := time.Since(start)
	if m := metrics.Get(); m != nil {
		m.ObserveMergeDuration(elapsed.Seconds())
	}
	a.log.Info("merge complete",
		"output", outPath,
		"bytes", info.Size(),
		"merge_duration", elapsed.Round(time.Millisecond).String(),
	)
	return nil
}
