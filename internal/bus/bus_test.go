package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/domain"
)

func testBusLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(10, testBusLogger())
	defer b.Close()

	b.Publish(domain.InboundMessage{Channel: "cli", SenderID: "local", Content: "fetch email from a@b.com"})

	select {
	case msg := <-b.Subscribe():
		if msg.Content != "fetch email from a@b.com" {
			t.Errorf("expected published content, got %q", msg.Content)
		}
		if msg.Channel != "cli" {
			t.Errorf("expected channel cli, got %q", msg.Channel)
		}
	case <-time.After(time.Second):
		t.Fatal("expected message on subscribe channel")
	}
}

func TestInMemoryBus_OutboundRouting(t *testing.T) {
	b := New(10, testBusLogger())
	defer b.Close()

	var cliCount, tgCount int32
	b.OnOutbound("cli", func(msg domain.OutboundMessage) { atomic.AddInt32(&cliCount, 1) })
	b.OnOutbound("telegram", func(msg domain.OutboundMessage) { atomic.AddInt32(&tgCount, 1) })

	b.SendOutbound(domain.OutboundMessage{Channel: "cli", Content: "hello"})
	b.SendOutbound(domain.OutboundMessage{Channel: "cli", Content: "again"})
	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", Content: "hi"})

	if atomic.LoadInt32(&cliCount) != 2 {
		t.Errorf("expected 2 cli messages, got %d", cliCount)
	}
	if atomic.LoadInt32(&tgCount) != 1 {
		t.Errorf("expected 1 telegram message, got %d", tgCount)
	}
}

func TestInMemoryBus_NoHandlerDoesNotPanic(t *testing.T) {
	b := New(10, testBusLogger())
	defer b.Close()

	// No handler registered for "web", so this must be silently dropped.
	b.SendOutbound(domain.OutboundMessage{Channel: "web", Content: "orphan"})
}

func TestInMemoryBus_PublishAfterClose(t *testing.T) {
	b := New(10, testBusLogger())
	b.Close()

	// Must not panic on a closed bus.
	b.Publish(domain.InboundMessage{Channel: "cli", Content: "late"})
}

func TestInMemoryBus_CloseIdempotent(t *testing.T) {
	b := New(10, testBusLogger())
	b.Close()
	b.Close()
}

func TestInMemoryBus_DefaultBufferSize(t *testing.T) {
	b := New(0, testBusLogger())
	defer b.Close()

	// Should not block with the default buffer.
	for i := 0; i < 50; i++ {
		b.Publish(domain.InboundMessage{Channel: "cli", Content: "msg"})
	}
}
