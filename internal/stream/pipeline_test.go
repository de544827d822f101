package stream

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type flushRecorder struct {
	mu     sync.Mutex
	snaps  []string
	dones  []bool
	closes int
}

func (f *flushRecorder) flush(snapshot string, done bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snapshot)
	f.dones = append(f.dones, done)
}

func (f *flushRecorder) onClose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func newRecordedPipeline() (*Pipeline, *flushRecorder) {
	rec := &flushRecorder{}
	return NewPipeline(rec.flush, rec.onClose, testLogger()), rec
}

func TestPipeline_DoneFlushesFullSnapshot(t *testing.T) {
	p, rec := newRecordedPipeline()

	p.Begin()
	p.HandleFragment("Hello, ", false)
	p.HandleFragment("world", true)

	if got := p.State(); got != StateCompleted {
		t.Fatalf("expected completed state, got %s", got)
	}
	if len(rec.snaps) == 0 {
		t.Fatal("expected at least the final flush")
	}
	last := rec.snaps[len(rec.snaps)-1]
	if last != "Hello, world" {
		t.Fatalf("expected full accumulated snapshot, got %q", last)
	}
	if !rec.dones[len(rec.dones)-1] {
		t.Fatal("expected final flush to be marked done")
	}
	if rec.closes != 1 {
		t.Fatalf("expected exactly one close, got %d", rec.closes)
	}
}

func TestPipeline_ThrottlesIntermediateFlushes(t *testing.T) {
	p, rec := newRecordedPipeline()

	p.Begin()
	// Back-to-back fragments land well inside one flush interval.
	for i := 0; i < 10; i++ {
		p.HandleFragment("x", false)
	}
	time.Sleep(120 * time.Millisecond)
	p.HandleFragment("y", false) // past the interval, flushes
	p.HandleFragment("z", true)

	if len(rec.snaps) != 2 {
		t.Fatalf("expected one throttled flush plus the final, got %d: %v", len(rec.snaps), rec.snaps)
	}
	if rec.snaps[0] != strings.Repeat("x", 10)+"y" {
		t.Fatalf("expected throttled flush to carry everything so far, got %q", rec.snaps[0])
	}
	if rec.snaps[1] != strings.Repeat("x", 10)+"yz" {
		t.Fatalf("expected final snapshot to carry everything, got %q", rec.snaps[1])
	}
	if rec.dones[0] || !rec.dones[1] {
		t.Fatalf("expected done flags [false true], got %v", rec.dones)
	}
}

func TestPipeline_FragmentsBeforeBeginDiscarded(t *testing.T) {
	p, rec := newRecordedPipeline()

	p.HandleFragment("early", true)

	if got := p.State(); got != StateIdle {
		t.Fatalf("expected pipeline to stay idle, got %s", got)
	}
	if len(rec.snaps) != 0 {
		t.Fatalf("expected no flushes, got %v", rec.snaps)
	}
	if rec.closes != 0 {
		t.Fatalf("expected no close, got %d", rec.closes)
	}
}

func TestPipeline_FailReplacesPartialText(t *testing.T) {
	p, rec := newRecordedPipeline()

	p.Begin()
	p.HandleFragment("partial answer", false)
	p.Fail(errors.New("engine crashed"))

	if got := p.State(); got != StateFailed {
		t.Fatalf("expected failed state, got %s", got)
	}
	last := rec.snaps[len(rec.snaps)-1]
	if last != "⚠️ Generation failed: engine crashed" {
		t.Fatalf("unexpected terminal snapshot: %q", last)
	}
	if !rec.dones[len(rec.dones)-1] {
		t.Fatal("expected failure flush to be terminal")
	}
	if rec.closes != 1 {
		t.Fatalf("expected exactly one close, got %d", rec.closes)
	}
}

func TestPipeline_CancelDiscardsLateFragments(t *testing.T) {
	p, rec := newRecordedPipeline()

	p.Begin()
	p.Cancel()
	p.HandleFragment("too late", true)
	p.Fail(errors.New("also late"))

	if got := p.State(); got != StateCancelled {
		t.Fatalf("expected cancelled state, got %s", got)
	}
	if len(rec.snaps) != 0 {
		t.Fatalf("expected cancel to flush nothing, got %v", rec.snaps)
	}
	if rec.closes != 1 {
		t.Fatalf("expected exactly one close, got %d", rec.closes)
	}
}

func TestPipeline_CloseRunsOnceAcrossTerminalPaths(t *testing.T) {
	p, rec := newRecordedPipeline()

	p.Begin()
	p.HandleFragment("answer", true)
	p.Fail(errors.New("after done"))
	p.Cancel()

	if rec.closes != 1 {
		t.Fatalf("expected exactly one close, got %d", rec.closes)
	}
	if got := p.State(); got != StateCompleted {
		t.Fatalf("expected completed to stick, got %s", got)
	}
}

func TestPipeline_BeginAfterTerminalIsNoOp(t *testing.T) {
	p, rec := newRecordedPipeline()

	p.Begin()
	p.Cancel()
	p.Begin()
	p.HandleFragment("resurrected", true)

	if got := p.State(); got != StateCancelled {
		t.Fatalf("expected cancelled to stick, got %s", got)
	}
	if len(rec.snaps) != 0 {
		t.Fatalf("expected no flushes after cancel, got %v", rec.snaps)
	}
}

func TestPipeline_ConcurrentFragmentsSafe(t *testing.T) {
	p, rec := newRecordedPipeline()

	p.Begin()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p.HandleFragment("a", false)
			}
		}()
	}
	wg.Wait()
	p.HandleFragment("", true)

	last := rec.snaps[len(rec.snaps)-1]
	if len(last) != 400 {
		t.Fatalf("expected all 400 fragments in the final snapshot, got %d chars", len(last))
	}
	if rec.closes != 1 {
		t.Fatalf("expected exactly one close, got %d", rec.closes)
	}
}
