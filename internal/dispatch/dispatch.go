// Package dispatch fans pending segments out across a bounded worker pool.
//
// Segments are independent and may complete in any order; ordering is the
// reassembler's concern. The only cross-worker state is the resume ledger:
// a segment is durably ledger-recorded before its completion is reported,
// so a crash loses at most the in-flight segments. One failing segment
// never aborts the batch; it stays out of the ledger and is retried on the
// next invocation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediaforge/segpipe/internal/ledger"
	"github.com/mediaforge/segpipe/internal/logging"
	"github.com/mediaforge/segpipe/internal/metrics"
	"github.com/mediaforge/segpipe/internal/plan"
	"github.com/mediaforge/segpipe/internal/workspace"
)

// ErrIncomplete is returned when the batch ends with unresolved segments.
var ErrIncomplete = errors.New("batch incomplete")

// Outcome describes one successful process_fn invocation.
type Outcome struct {
	Strategy string
}

// ProcessFunc encodes one segment into outPath. It must be
// overwrite-idempotent: a partial artifact from a prior interrupted run
// may exist at outPath and must be replaced, not appended to. attempt is
// 1-based and lets the callee tag per-attempt forensics.
type ProcessFunc func(ctx context.Context, d plan.Descriptor, outPath string, attempt int) (Outcome, error)

// Result is one segment's terminal outcome for this run.
type Result struct {
	Desc           plan.Descriptor
	ArtifactPath   string
	EncodeDuration time.Duration
	Attempts       int
	Strategy       string
	Skipped        bool
	Err            error
}

// Config bounds the pool.
type Config struct {
	Workers   int
	QueueSize int
	MaxRetry  int
	Backoff   time.Duration
}

// Pool dispatches segment jobs to workers and collects completions.
type Pool struct {
	cfg      Config
	ws       *workspace.Workspace
	led      *ledger.Ledger
	process  ProcessFunc
	log      *slog.Logger
	inFlight atomic.Int64
}

// Summary tallies a finished batch.
type Summary struct {
	Total     int
	Completed int
	Skipped   int
	Failed    int
	Results   []Result
}

// New creates a worker pool. Zero or negative config values fall back to
// safe minimums.
func New(cfg Config, ws *workspace.Workspace, led *ledger.Ledger, process ProcessFunc) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = cfg.Workers * 2
	}
	if cfg.MaxRetry < 1 {
		cfg.MaxRetry = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Pool{
		cfg:     cfg,
		ws:      ws,
		led:     led,
		process: process,
		log:     logging.Component("dispatch"),
	}
}

// Run processes all pending segments and blocks until every one has a
// terminal outcome or ctx is cancelled. Completion order is arbitrary.
// Returns ErrIncomplete when the completed count falls short of pending.
func (p *Pool) Run(ctx context.Context, pending []plan.Descriptor) (Summary, error) {
	sum := Summary{Total: len(pending)}
	if len(pending) == 0 {
		return sum, nil
	}

	p.log.Info("dispatching segments", "pending", len(pending), "workers", p.cfg.Workers)

	workQueue := make(chan plan.Descriptor, p.cfg.QueueSize)
	resultChan := make(chan Result, p.cfg.QueueSize)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.workerLoop(ctx, workerID, workQueue, resultChan)
		}(i)
	}

	go func() {
		defer close(workQueue)
		for _, d := range pending {
			select {
			case <-ctx.Done():
				return
			case workQueue <- d:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	startTime := time.Now()
	for res := range resultChan {
		sum.Results = append(sum.Results, res)
		switch {
		case res.Err != nil:
			sum.Failed++
			p.log.Error("segment failed", "segment", res.Desc.Index, "error", res.Err)
		case res.Skipped:
			sum.Skipped++
			sum.Completed++
		default:
			sum.Completed++
			elapsed := time.Since(startTime)
			rate := float64(sum.Completed) / elapsed.Minutes()
			p.log.Info("segment complete",
				"segment", res.Desc.Index,
				"done", sum.Completed,
				"total", sum.Total,
				"encode_duration", res.EncodeDuration.Round(time.Second).String(),
				"rate_per_min", fmt.Sprintf("%.2f", rate),
			)
			if m := metrics.Get(); m != nil {
				m.SetSegmentsPerMinute(rate)
				m.SetLastSegmentIndex(float64(res.Desc.Index))
			}
		}
		if m := metrics.Get(); m != nil {
			m.SetPendingSegments(float64(sum.Total - len(sum.Results)))
		}
	}

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if sum.Completed < sum.Total {
		return sum, fmt.Errorf("%w: %d of %d segments unresolved", ErrIncomplete, sum.Total-sum.Completed, sum.Total)
	}
	return sum, nil
}

// workerLoop pulls segments until the queue closes or ctx is cancelled.
func (p *Pool) workerLoop(ctx context.Context, workerID int, queue <-chan plan.Descriptor, results chan<- Result) {
	for d := range queue {
		select {
		case <-ctx.Done():
			return
		default:
		}
		results <- p.processSegment(ctx, workerID, d)
	}
}

// processSegment drives one segment to a terminal outcome: fast-path skip
// when a verified artifact already exists, otherwise bounded retries with
// exponential backoff.
func (p *Pool) processSegment(ctx context.Context, workerID int, d plan.Descriptor) Result {
	correlationID := logging.GenerateCorrelationID()
	log := logging.SegmentLogger(correlationID, workerID, d.Index)
	outPath := p.ws.ArtifactPath(d.Index)

	// Artifact left by a prior interrupted run: the encode finished but
	// the crash hit before the ledger append. Verify-and-record instead
	// of re-encoding.
	if p.ws.ArtifactExists(d.Index) {
		if err := p.led.Record(d.Index); err != nil {
			return Result{Desc: d, ArtifactPath: outPath, Err: err}
		}
		log.Info("artifact already present, skipping encode")
		if m := metrics.Get(); m != nil {
			m.IncSegmentsSkipped()
		}
		return Result{Desc: d, ArtifactPath: outPath, Skipped: true}
	}

	inFlight := p.inFlight.Add(1)
	if m := metrics.Get(); m != nil {
		m.SetInFlightSegments(float64(inFlight))
	}
	defer func() {
		n := p.inFlight.Add(-1)
		if m := metrics.Get(); m != nil {
			m.SetInFlightSegments(float64(n))
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetry; attempt++ {
		start := time.Now()
		outcome, err := p.process(ctx, d, outPath, attempt)
		if err == nil {
			encodeDur := time.Since(start)
			// Record durably before reporting success so a crash after
			// this point never repeats the work.
			if recErr := p.led.Record(d.Index); recErr != nil {
				return Result{Desc: d, ArtifactPath: outPath, Attempts: attempt, Err: recErr}
			}
			if m := metrics.Get(); m != nil {
				m.IncSegmentsProcessed(outcome.Strategy)
				m.ObserveEncodeDuration(outcome.Strategy, encodeDur.Seconds())
			}
			return Result{
				Desc:           d,
				ArtifactPath:   outPath,
				EncodeDuration: encodeDur,
				Attempts:       attempt,
				Strategy:       outcome.Strategy,
			}
		}
		lastErr = err

		if ctx.Err() != nil {
			return Result{Desc: d, ArtifactPath: outPath, Attempts: attempt, Err: ctx.Err()}
		}

		if attempt < p.cfg.MaxRetry {
			backoff := p.cfg.Backoff * (1 << (attempt - 1))
			log.Warn("segment attempt failed, retrying",
				"attempt", attempt, "backoff", backoff.String(), "error", err)
			if m := metrics.Get(); m != nil {
				m.IncRetryAttempts()
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Result{Desc: d, ArtifactPath: outPath, Attempts: attempt, Err: ctx.Err()}
			}
		}
	}

	if m := metrics.Get(); m != nil {
		m.IncSegmentsFailed()
	}
	return Result{
		Desc:         d,
		ArtifactPath: outPath,
		Attempts:     p.cfg.MaxRetry,
		Err:          fmt.Errorf("segment %d failed after %d attempts: %w", d.Index, p.cfg.MaxRetry, lastErr),
	}
}
