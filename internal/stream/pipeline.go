// Package stream throttles incremental generation output into snapshot
// flushes a conversation surface can render.
package stream

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// flushInterval is the minimum spacing between intermediate flushes.
const flushInterval = 100 * time.Millisecond

type State int

const (
	StateIdle State = iota
	StateGenerating
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Pipeline accumulates generation fragments and flushes the full buffered
// text as replace-style snapshots: each flush carries everything generated
// so far, so re-applying a snapshot is harmless. Intermediate flushes are
// throttled to one per flushInterval; the final flush always happens.
//
// Fragments may arrive from any goroutine. Every state transition and
// buffer mutation happens under one mutex, and the close function runs
// exactly once across all terminal paths.
type Pipeline struct {
	mu        sync.Mutex
	state     State
	buf       strings.Builder
	lastFlush time.Time
	closed    bool

	flush   func(snapshot string, done bool)
	onClose func()
	logger  *slog.Logger
}

// NewPipeline builds a pipeline delivering snapshots to flush. onClose runs
// once when the pipeline reaches a terminal state; either callback may be
// nil.
func NewPipeline(flush func(snapshot string, done bool), onClose func(), logger *slog.Logger) *Pipeline {
	return &Pipeline{
		state:   StateIdle,
		flush:   flush,
		onClose: onClose,
		logger:  logger,
	}
}

// Begin starts a generation. Only valid from Idle; anything else is a no-op.
func (p *Pipeline) Begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return
	}
	p.buf.Reset()
	p.lastFlush = time.Now()
	p.state = StateGenerating
}

// HandleFragment appends one fragment. Fragments outside Generating are
// discarded. The accumulated snapshot is flushed when done is set or when
// flushInterval has elapsed since the previous flush.
func (p *Pipeline) HandleFragment(text string, done bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateGenerating {
		return
	}

	p.buf.WriteString(text)

	if done {
		p.state = StateCompleted
		p.emitLocked(p.buf.String(), true)
		p.closeLocked()
		return
	}

	now := time.Now()
	if now.Sub(p.lastFlush) >= flushInterval {
		p.lastFlush = now
		p.emitLocked(p.buf.String(), false)
	}
}

// Fail terminates the generation with an error snapshot that replaces any
// in-progress text.
func (p *Pipeline) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminalLocked() {
		return
	}
	p.state = StateFailed
	p.emitLocked(fmt.Sprintf("⚠️ Generation failed: %v", err), true)
	p.closeLocked()
}

// Cancel terminates the generation without flushing; late fragments are
// discarded.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminalLocked() {
		return
	}
	p.state = StateCancelled
	p.closeLocked()
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) terminalLocked() bool {
	return p.state == StateCompleted || p.state == StateFailed || p.state == StateCancelled
}

func (p *Pipeline) emitLocked(snapshot string, done bool) {
	if p.flush == nil {
		return
	}
	p.flush(snapshot, done)
}

func (p *Pipeline) closeLocked() {
	if p.closed {
		return
	}
	p.closed = true
	if p.logger != nil {
		p.logger.Debug("stream pipeline closed", "state", p.state.String(), "chars", p.buf.Len())
	}
	if p.onClose != nil {
		p.onClose()
	}
}
