package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mediaforge/segpipe/internal/ledger"
	"github.com/mediaforge/segpipe/internal/metrics"
	"github.com/mediaforge/segpipe/internal/plan"
	"github.com/mediaforge/segpipe/internal/workspace"
)

type fixture struct {
	ws  *workspace.Workspace
	led *ledger.Ledger

	mu    sync.Mutex
	calls map[int]int // segment index -> process invocations
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ws, err := workspace.New(filepath.Join(t.TempDir(), "work"))
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	led := ledger.New(ws.LedgerPath())
	t.Cleanup(func() { led.Close() })
	return &fixture{ws: ws, led: led, calls: make(map[int]int)}
}

func (f *fixture) countCall(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[index]++
	return f.calls[index]
}

func (f *fixture) callCount(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[index]
}

// okProcess writes a fake artifact and succeeds.
func (f *fixture) okProcess(ctx context.Context, d plan.Descriptor, outPath string, attempt int) (Outcome, error) {
	f.countCall(d.Index)
	if err := os.WriteFile(outPath, []byte("artifact"), 0o644); err != nil {
		return Outcome{}, err
	}
	return Outcome{Strategy: "fake"}, nil
}

func testPlan(t *testing.T, n int) []plan.Descriptor {
	t.Helper()
	segs, err := plan.Plan(time.Duration(n)*120*time.Second, 120*time.Second)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	return segs
}

func TestRunProcessesAllPending(t *testing.T) {
	f := newFixture(t)
	pending := testPlan(t, 5)

	pool := New(Config{Workers: 3, MaxRetry: 2, Backoff: time.Millisecond}, f.ws, f.led, f.okProcess)
	sum, err := pool.Run(context.Background(), pending)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Completed != 5 || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}
	for _, d := range pending {
		if f.callCount(d.Index) != 1 {
			t.Errorf("segment %d processed %d times, want 1", d.Index, f.callCount(d.Index))
		}
		if !f.ws.ArtifactExists(d.Index) {
			t.Errorf("segment %d artifact missing", d.Index)
		}
	}

	done, err := f.led.Load()
	if err != nil {
		t.Fatalf("ledger load: %v", err)
	}
	if len(done) != 5 {
		t.Errorf("ledger has %d entries, want 5", len(done))
	}
}

func TestRunSkipsExistingArtifacts(t *testing.T) {
	f := newFixture(t)
	pending := testPlan(t, 3)

	// Segment 1 finished in a prior run but crashed before the ledger
	// append: the artifact exists, the ledger entry does not.
	if err := os.WriteFile(f.ws.ArtifactPath(1), []byte("prior"), 0o644); err != nil {
		t.Fatal(err)
	}

	pool := New(Config{Workers: 2, MaxRetry: 1, Backoff: time.Millisecond}, f.ws, f.led, f.okProcess)
	sum, err := pool.Run(context.Background(), pending)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if f.callCount(1) != 0 {
		t.Errorf("segment 1 was re-encoded despite existing artifact")
	}
	if sum.Skipped != 1 || sum.Completed != 3 {
		t.Errorf("summary = %+v, want 3 completed with 1 skipped", sum)
	}

	done, _ := f.led.Load()
	if _, ok := done[1]; !ok {
		t.Error("skipped segment not ledger-recorded")
	}
}

func TestRunSingleFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	pending := testPlan(t, 4)

	process := func(ctx context.Context, d plan.Descriptor, outPath string, attempt int) (Outcome, error) {
		f.countCall(d.Index)
		if d.Index == 1 {
			return Outcome{}, fmt.Errorf("encoder exploded")
		}
		os.WriteFile(outPath, []byte("artifact"), 0o644)
		return Outcome{Strategy: "fake"}, nil
	}

	pool := New(Config{Workers: 2, MaxRetry: 2, Backoff: time.Millisecond}, f.ws, f.led, process)
	sum, err := pool.Run(context.Background(), pending)

	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("got %v, want ErrIncomplete", err)
	}
	if sum.Completed != 3 || sum.Failed != 1 {
		t.Errorf("summary = %+v, want 3 completed / 1 failed", sum)
	}
	if f.callCount(1) != 2 {
		t.Errorf("failing segment retried %d times, want 2 attempts", f.callCount(1))
	}

	// Failed index stays out of the ledger; completed ones stay in.
	done, _ := f.led.Load()
	if _, ok := done[1]; ok {
		t.Error("failed segment must not be ledger-recorded")
	}
	for _, idx := range []int{0, 2, 3} {
		if _, ok := done[idx]; !ok {
			t.Errorf("completed segment %d missing from ledger", idx)
		}
	}
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)
	pending := testPlan(t, 1)

	process := func(ctx context.Context, d plan.Descriptor, outPath string, attempt int) (Outcome, error) {
		if f.countCall(d.Index) == 1 {
			return Outcome{}, fmt.Errorf("transient failure")
		}
		os.WriteFile(outPath, []byte("artifact"), 0o644)
		return Outcome{Strategy: "fake"}, nil
	}

	pool := New(Config{Workers: 1, MaxRetry: 3, Backoff: time.Millisecond}, f.ws, f.led, process)
	sum, err := pool.Run(context.Background(), pending)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Completed != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.Results[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", sum.Results[0].Attempts)
	}
}

func TestRunInFlightGaugeReturnsToZero(t *testing.T) {
	m := metrics.Init("dispatch_test")

	f := newFixture(t)
	pending := testPlan(t, 6)
	pool := New(Config{Workers: 3, MaxRetry: 1, Backoff: time.Millisecond}, f.ws, f.led, f.okProcess)
	if _, err := pool.Run(context.Background(), pending); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := testutil.ToFloat64(m.InFlightSegments); got != 0 {
		t.Errorf("in-flight gauge = %v after run, want 0", got)
	}
}

func TestRunEmptyPendingIsNoop(t *testing.T) {
	f := newFixture(t)
	pool := New(Config{Workers: 2}, f.ws, f.led, f.okProcess)
	sum, err := pool.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Total != 0 || sum.Completed != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	f := newFixture(t)
	pending := testPlan(t, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := New(Config{Workers: 2, MaxRetry: 1, Backoff: time.Millisecond}, f.ws, f.led, f.okProcess)
	_, err := pool.Run(ctx, pending)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
