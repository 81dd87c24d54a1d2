// Package orchestrator drives a run through its lifecycle: plan the
// segments, resume from the ledger, dispatch encodes, reassemble, then
// clean up. A failed run keeps the work directory and ledger so the next
// invocation resumes instead of starting over.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/segpipe/internal/assemble"
	"github.com/mediaforge/segpipe/internal/config"
	"github.com/mediaforge/segpipe/internal/dispatch"
	"github.com/mediaforge/segpipe/internal/encoder"
	"github.com/mediaforge/segpipe/internal/journal"
	"github.com/mediaforge/segpipe/internal/ledger"
	"github.com/mediaforge/segpipe/internal/logging"
	"github.com/mediaforge/segpipe/internal/notify"
	"github.com/mediaforge/segpipe/internal/plan"
	"github.com/mediaforge/segpipe/internal/publish"
	"github.com/mediaforge/segpipe/internal/workspace"
)

// State names the lifecycle phase a run is in.
type State string

const (
	StatePlanning     State = "PLANNING"
	StateResuming     State = "RESUMING"
	StateDispatching  State = "DISPATCHING"
	StateReassembling State = "REASSEMBLING"
	StateCleaning     State = "CLEANING"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// Engine is the ffmpeg surface the orchestrator needs. Satisfied by
// *encoder.FFmpeg; faked in tests.
type Engine interface {
	Probe(ctx context.Context, path string) (*encoder.ProbeResult, error)
	EncodeSegment(ctx context.Context, job encoder.Job) (encoder.Result, error)
	Concat(ctx context.Context, paths []string, listPath, out string) error
}

// Deps are the run collaborators. Publisher may be nil; a nil Emitter
// falls back to the no-op emitter.
type Deps struct {
	Engine    Engine
	Publisher *publish.Publisher
	Emitter   notify.Emitter
}

// Outcome summarizes a finished run, successful or not.
type Outcome struct {
	RunID      string
	State      State
	Segments   int
	Completed  int
	Skipped    int
	Failed     int
	Resumed    int
	OutputSize int64
	Elapsed    time.Duration
	Manifest   *publish.Manifest
}

// Orchestrator owns a single run.
type Orchestrator struct {
	cfg     config.Config
	engine  Engine
	pub     *publish.Publisher
	emitter notify.Emitter
	log     *slog.Logger

	runID string
	state State
}

// New creates an orchestrator for one run of cfg.
func New(cfg config.Config, deps Deps) *Orchestrator {
	emitter := deps.Emitter
	if emitter == nil {
		emitter = notify.New(config.NotifyConfig{})
	}
	return &Orchestrator{
		cfg:     cfg,
		engine:  deps.Engine,
		pub:     deps.Publisher,
		emitter: emitter,
		log:     logging.Component("orchestrator"),
		runID:   uuid.NewString(),
		state:   StatePlanning,
	}
}

// State reports the current lifecycle phase.
func (o *Orchestrator) State() State { return o.state }

// RunID identifies this run in logs, events and the manifest.
func (o *Orchestrator) RunID() string { return o.runID }

func (o *Orchestrator) setState(s State) {
	o.state = s
	o.log.Info("state transition", "run_id", o.runID, "state", string(s))
}

// Run executes the full lifecycle and blocks until the run reaches DONE
// or FAILED. On failure the work directory and ledger are left in place.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()
	out := Outcome{RunID: o.runID, State: StatePlanning}

	probe, err := o.engine.Probe(ctx, o.cfg.Input)
	if err != nil {
		// An unreadable input is a configuration problem, not a runtime one.
		return o.fail(ctx, out, start, fmt.Errorf("%w: probe %s: %v", config.ErrInvalid, o.cfg.Input, err))
	}
	segs, err := plan.Plan(probe.Duration, o.cfg.SegmentDuration)
	if err != nil {
		return o.fail(ctx, out, start, err)
	}
	out.Segments = len(segs)
	o.log.Info("planned segments",
		"run_id", o.runID,
		"input", o.cfg.Input,
		"duration", probe.Duration.Round(time.Second).String(),
		"resolution", probe.Resolution(),
		"segments", len(segs),
	)

	ws, err := workspace.New(o.cfg.WorkDir)
	if err != nil {
		return o.fail(ctx, out, start, err)
	}
	led := ledger.New(ws.LedgerPath())
	defer led.Close()

	o.setState(StateResuming)
	done, err := led.Load()
	if err != nil {
		return o.fail(ctx, out, start, err)
	}
	// A torn append can persist a valid prefix of a larger index ("12\n"
	// surviving as "1"), which parses cleanly. Every completed entry must
	// be backed by a present artifact; the rest re-enter pending.
	for idx := range done {
		if !ws.ArtifactExists(idx) {
			o.log.Warn("ledger entry has no artifact, re-queueing", "run_id", o.runID, "segment", idx)
			delete(done, idx)
		}
	}
	pending := plan.Pending(segs, done)
	out.Resumed = len(segs) - len(pending)
	if out.Resumed > 0 {
		o.log.Info("resuming prior run", "run_id", o.runID, "already_done", out.Resumed, "pending", len(pending))
	}

	o.setState(StateDispatching)
	pool := dispatch.New(dispatch.Config{
		Workers:  o.cfg.Workers,
		MaxRetry: o.cfg.Retry.Attempts,
		Backoff:  time.Duration(o.cfg.Retry.BackoffMs) * time.Millisecond,
	}, ws, led, o.processFunc(ws))

	sum, dispatchErr := pool.Run(ctx, pending)
	out.Completed = out.Resumed + sum.Completed
	out.Skipped = sum.Skipped
	out.Failed = sum.Failed
	o.writeJournal(ws, sum.Results)
	if dispatchErr != nil {
		return o.fail(ctx, out, start, dispatchErr)
	}

	o.setState(StateReassembling)
	done, err = led.Load()
	if err != nil {
		return o.fail(ctx, out, start, err)
	}
	asm := assemble.New(ws, o.engine.Concat)
	if err := asm.Assemble(ctx, segs, done, o.cfg.Output); err != nil {
		return o.fail(ctx, out, start, err)
	}
	if info, err := os.Stat(o.cfg.Output); err == nil {
		out.OutputSize = info.Size()
	}

	if o.pub != nil {
		man, err := o.pub.Publish(ctx, o.runID, o.cfg.Output, ws.JournalPath(), len(segs))
		if err != nil {
			return o.fail(ctx, out, start, fmt.Errorf("publish: %w", err))
		}
		out.Manifest = &man
	}

	o.setState(StateCleaning)
	if err := led.Clear(); err != nil {
		o.log.Warn("ledger clear failed", "run_id", o.runID, "error", err)
	}
	if o.cfg.KeepWorkDir {
		o.log.Info("keeping work directory", "run_id", o.runID, "dir", ws.Dir())
	} else {
		ws.Cleanup(o.log)
	}

	o.setState(StateDone)
	out.State = StateDone
	out.Elapsed = time.Since(start)
	o.emit(ctx, "run_complete", out, nil)
	return out, nil
}

// fail marks the run FAILED, emits the failure event and returns err
// unchanged so callers can match sentinels.
func (o *Orchestrator) fail(ctx context.Context, out Outcome, start time.Time, err error) (Outcome, error) {
	o.setState(StateFailed)
	out.State = StateFailed
	out.Elapsed = time.Since(start)
	o.log.Error("run failed", "run_id", o.runID, "error", err)
	o.emit(ctx, "run_failed", out, err)
	return out, err
}

// emit sends the run event, best effort.
func (o *Orchestrator) emit(ctx context.Context, eventType string, out Outcome, runErr error) {
	evt := notify.Event{
		EventType: eventType,
		RunID:     o.runID,
		Input:     o.cfg.Input,
		Output:    o.cfg.Output,
		Segments:  out.Segments,
		Skipped:   out.Skipped,
		Failed:    out.Failed,
		Producer:  "segpipe",
	}
	if out.Manifest != nil {
		evt.SHA256 = out.Manifest.SHA256
		evt.SizeBytes = out.Manifest.SizeBytes
	}
	if runErr != nil {
		evt.Error = runErr.Error()
	}
	if err := o.emitter.Emit(ctx, evt); err != nil {
		o.log.Warn("run event not delivered", "run_id", o.runID, "error", err)
	}
}

// processFunc adapts the encode engine to the worker pool, archiving the
// ffmpeg stderr of failed attempts for later inspection.
func (o *Orchestrator) processFunc(ws *workspace.Workspace) dispatch.ProcessFunc {
	return func(ctx context.Context, d plan.Descriptor, outPath string, attempt int) (dispatch.Outcome, error) {
		res, err := o.engine.EncodeSegment(ctx, encoder.Job{
			Source:  o.cfg.Input,
			Desc:    d,
			OutPath: outPath,
		})
		if err != nil {
			if res.Stderr != "" {
				archivePath := ws.StderrArchivePath(d.Index, attempt)
				if aerr := journal.ArchiveStderr(archivePath, []byte(res.Stderr)); aerr != nil {
					o.log.Warn("stderr archive failed", "segment", d.Index, "error", aerr)
				}
			}
			return dispatch.Outcome{}, err
		}
		return dispatch.Outcome{Strategy: res.Strategy}, nil
	}
}

// writeJournal records per-segment results in the work directory, best
// effort. The journal survives to publication only when the run succeeds.
func (o *Orchestrator) writeJournal(ws *workspace.Workspace, results []dispatch.Result) {
	if len(results) == 0 {
		return
	}
	records := make([]journal.SegmentRecord, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		records = append(records, journal.SegmentRecord{
			Index:       int32(r.Desc.Index),
			OffsetMs:    r.Desc.Offset.Milliseconds(),
			LengthMs:    r.Desc.Length.Milliseconds(),
			EncodeMs:    r.EncodeDuration.Milliseconds(),
			Attempts:    int32(r.Attempts),
			Strategy:    r.Strategy,
			Skipped:     r.Skipped,
			ArtifactLen: ws.ArtifactSize(r.Desc.Index),
			CompletedAt: time.Now().UTC(),
		})
	}
	if len(records) == 0 {
		return
	}
	if err := journal.Write(ws.JournalPath(), records); err != nil {
		o.log.Warn("journal write failed", "run_id", o.runID, "error", err)
	}
}
