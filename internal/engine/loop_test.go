package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/command"
	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBus struct {
	mu       sync.Mutex
	inbound  chan domain.InboundMessage
	outbound []domain.OutboundMessage
}

func newFakeBus() *fakeBus {
	return &fakeBus{inbound: make(chan domain.InboundMessage, 16)}
}

func (b *fakeBus) Publish(msg domain.InboundMessage)        { b.inbound <- msg }
func (b *fakeBus) Subscribe() <-chan domain.InboundMessage  { return b.inbound }
func (b *fakeBus) OnOutbound(string, func(domain.OutboundMessage)) {}
func (b *fakeBus) Close()                                   {}

func (b *fakeBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbound = append(b.outbound, msg)
}

func (b *fakeBus) sent() []domain.OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.OutboundMessage, len(b.outbound))
	copy(out, b.outbound)
	return out
}

func (b *fakeBus) lastFinal(t *testing.T) domain.OutboundMessage {
	t.Helper()
	sent := b.sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].StreamEvent != nil && sent[i].StreamEvent.Type == domain.StreamDone {
			return sent[i]
		}
	}
	t.Fatal("no final outbound message")
	return domain.OutboundMessage{}
}

// scriptedGenerator streams a fixed fragment sequence, then returns streamErr.
type scriptedGenerator struct {
	fragments []domain.Fragment
	streamErr error
	lastReq   domain.GenerateRequest
}

func (g *scriptedGenerator) Name() string                      { return "scripted" }
func (g *scriptedGenerator) Healthy(ctx context.Context) error { return nil }

func (g *scriptedGenerator) Complete(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	g.lastReq = req
	return &domain.GenerateResponse{Content: "complete"}, nil
}

func (g *scriptedGenerator) Stream(ctx context.Context, req domain.GenerateRequest, out chan<- domain.Fragment) error {
	defer close(out)
	g.lastReq = req
	for _, f := range g.fragments {
		out <- f
	}
	return g.streamErr
}

// completeOnly lacks the Stream method, forcing the non-streaming path.
type completeOnly struct {
	resp string
	err  error
}

func (g *completeOnly) Name() string                      { return "complete-only" }
func (g *completeOnly) Healthy(ctx context.Context) error { return nil }

func (g *completeOnly) Complete(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &domain.GenerateResponse{Content: g.resp}, nil
}

type engineMessenger struct {
	name    string
	records []domain.MessageRecord
	sends   []string
}

func (m *engineMessenger) Name() string { return m.name }

func (m *engineMessenger) Fetch(ctx context.Context, sender string, limit int) ([]domain.MessageRecord, error) {
	out := m.records
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *engineMessenger) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	m.sends = append(m.sends, recipient)
	return "Message sent to " + recipient, nil
}

func newTestLoop(b *fakeBus, gen domain.Generator) *Loop {
	mail := &engineMessenger{name: "mail", records: []domain.MessageRecord{{
		ID:        "m-1",
		Sender:    "amy@example.com",
		Subject:   "Quarterly numbers",
		Excerpt:   "See attached.",
		Timestamp: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}}}
	chat := &engineMessenger{name: "telegram"}
	d := command.NewDispatcher(mail, chat, nil, testLogger())
	return NewLoop(LoopConfig{
		Dispatcher: d,
		Generator:  gen,
		Bus:        b,
		Events:     bus.NewEventBus(testLogger()),
		Logger:     testLogger(),
	})
}

func inbound(content string) domain.InboundMessage {
	return domain.InboundMessage{
		Channel:   "cli",
		ChatID:    "local",
		SenderID:  "user",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestLoop_CommandPathFetch(t *testing.T) {
	b := newFakeBus()
	l := newTestLoop(b, nil)

	l.processMessage(context.Background(), inbound("fetch emails from amy@example.com"))

	final := b.lastFinal(t)
	if !strings.Contains(final.Content, "Latest 1 messages from amy@example.com") {
		t.Fatalf("expected fetch header, got %q", final.Content)
	}
	if !strings.Contains(final.Content, "Quarterly numbers") {
		t.Fatalf("expected record subject, got %q", final.Content)
	}

	sent := b.sent()
	if sent[0].StreamEvent == nil || sent[0].StreamEvent.Type != domain.StreamThinking {
		t.Fatal("expected a thinking event before the reply")
	}
}

func TestLoop_CommandDispatchedEvent(t *testing.T) {
	b := newFakeBus()
	l := newTestLoop(b, nil)

	var mu sync.Mutex
	var got []string
	l.events.On(bus.EventCommandDispatched, func(e bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Payload["intent"].(string))
	})

	l.processMessage(context.Background(), inbound("fetch emails from amy@example.com"))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "fetch_messages" {
		t.Fatalf("expected one fetch_messages event, got %v", got)
	}
}

func TestLoop_UnrecognizedCommandGetsHelp(t *testing.T) {
	b := newFakeBus()
	l := newTestLoop(b, nil)

	fired := false
	l.events.On(bus.EventCommandUnrecognized, func(e bus.Event) { fired = true })

	l.processMessage(context.Background(), inbound("please forward to @somewhere"))

	final := b.lastFinal(t)
	if !strings.Contains(final.Content, "RelayBot Commands") {
		t.Fatalf("expected help text, got %q", final.Content)
	}
	if !fired {
		t.Fatal("expected command.unrecognized event")
	}
}

func TestLoop_GenerationStreamsSnapshots(t *testing.T) {
	b := newFakeBus()
	gen := &scriptedGenerator{fragments: []domain.Fragment{
		{Text: "Hello"},
		{Text: " world"},
		{Done: true},
	}}
	l := newTestLoop(b, gen)

	completed := false
	l.events.On(bus.EventGenerationCompleted, func(e bus.Event) { completed = true })

	l.processMessage(context.Background(), inbound("what did amy send me?"))

	final := b.lastFinal(t)
	if final.Content != "Hello world" {
		t.Fatalf("expected accumulated text, got %q", final.Content)
	}
	if !completed {
		t.Fatal("expected generation.completed event")
	}

	turns := l.history.Snapshot("cli:local")
	if len(turns) != 2 {
		t.Fatalf("expected user+assistant history, got %d turns", len(turns))
	}
	if turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Fatalf("unexpected history roles: %+v", turns)
	}
	if turns[1].Content != "Hello world" {
		t.Fatalf("expected reply in history, got %q", turns[1].Content)
	}
}

func TestLoop_GenerationHistoryFlowsIntoRequest(t *testing.T) {
	b := newFakeBus()
	gen := &scriptedGenerator{fragments: []domain.Fragment{{Text: "yo"}, {Done: true}}}
	l := newTestLoop(b, gen)

	l.processMessage(context.Background(), inbound("hi there"))
	l.processMessage(context.Background(), inbound("and again"))

	if len(gen.lastReq.History) != 2 {
		t.Fatalf("expected 2 history turns in the second request, got %d", len(gen.lastReq.History))
	}
	if gen.lastReq.History[0].Content != "hi there" || gen.lastReq.History[1].Content != "yo" {
		t.Fatalf("unexpected history: %+v", gen.lastReq.History)
	}
	if gen.lastReq.Prompt != "and again" {
		t.Fatalf("expected prompt to be the new turn, got %q", gen.lastReq.Prompt)
	}
}

func TestLoop_GenerationFailureReplacesReply(t *testing.T) {
	b := newFakeBus()
	gen := &scriptedGenerator{
		fragments: []domain.Fragment{{Text: "par"}},
		streamErr: errors.New("model exploded"),
	}
	l := newTestLoop(b, gen)

	failed := false
	l.events.On(bus.EventGenerationFailed, func(e bus.Event) { failed = true })

	l.processMessage(context.Background(), inbound("tell me a story"))

	final := b.lastFinal(t)
	if final.Content != "⚠️ Generation failed: model exploded" {
		t.Fatalf("unexpected failure reply: %q", final.Content)
	}
	if !failed {
		t.Fatal("expected generation.failed event")
	}
	if got := len(l.history.Snapshot("cli:local")); got != 0 {
		t.Fatalf("expected failed turn to be left out of history, got %d turns", got)
	}
}

func TestLoop_NonStreamingGeneratorUsesComplete(t *testing.T) {
	b := newFakeBus()
	l := newTestLoop(b, &completeOnly{resp: "plain answer"})

	l.processMessage(context.Background(), inbound("what's new?"))

	final := b.lastFinal(t)
	if final.Content != "plain answer" {
		t.Fatalf("expected Complete result, got %q", final.Content)
	}
}

func TestLoop_NonStreamingFailure(t *testing.T) {
	b := newFakeBus()
	l := newTestLoop(b, &completeOnly{err: errors.New("connection refused")})

	l.processMessage(context.Background(), inbound("what's new?"))

	final := b.lastFinal(t)
	if !strings.Contains(final.Content, "⚠️ Generation failed: connection refused") {
		t.Fatalf("unexpected failure reply: %q", final.Content)
	}
}

func TestLoop_NoGeneratorRepliesWithNotice(t *testing.T) {
	b := newFakeBus()
	l := newTestLoop(b, nil)

	l.processMessage(context.Background(), inbound("how was your day?"))

	final := b.lastFinal(t)
	if !strings.Contains(final.Content, "No generation engine is configured") {
		t.Fatalf("expected the notice, got %q", final.Content)
	}
	if !strings.Contains(final.Content, "RelayBot Commands") {
		t.Fatalf("expected help text appended, got %q", final.Content)
	}
}

func TestLoop_RateLimitsFloods(t *testing.T) {
	b := newFakeBus()
	l := newTestLoop(b, nil)

	for i := 0; i < defaultRateBurst+1; i++ {
		l.processMessage(context.Background(), inbound("how was your day?"))
	}

	final := b.lastFinal(t)
	if final.Content != rateLimitedReply {
		t.Fatalf("expected the over-limit turn to be refused, got %q", final.Content)
	}
}

func TestLoop_RunStopsOnContextCancel(t *testing.T) {
	b := newFakeBus()
	l := newTestLoop(b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("expected Run to return after cancel")
	}
}

func TestLoop_RunStopsWhenBusCloses(t *testing.T) {
	b := newFakeBus()
	l := newTestLoop(b, nil)

	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()

	close(b.inbound)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("expected Run to return when the bus closes")
	}
}
