// Package engine is the relay's turn loop: it consumes inbound messages,
// runs the command path or the generation path, and publishes replies.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/command"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/stream"
)

const (
	defaultHistoryLimit = 20
	defaultRateBurst    = 5
	defaultRatePerMin   = 30.0
	fragmentBuffer      = 64
)

const defaultSystemPrompt = "You are RelayBot, a messaging relay assistant. " +
	"You answer questions about the user's mail and chat messages and explain " +
	"the relay commands when asked. Be concise."

const rateLimitedReply = "⏳ Hold on, you're sending messages too quickly. Try again in a moment."

const noEngineNotice = "No generation engine is configured, so I can only run relay commands."

// Loop consumes the bus strictly sequentially: one turn at a time, so at
// most one generation is active and command evaluations never overlap.
type Loop struct {
	dispatcher *command.Dispatcher
	generator  domain.Generator
	bus        domain.MessageBus
	events     *bus.EventBus
	history    *History
	limiter    *RateLimiter
	logger     *slog.Logger
	model      string
}

// LoopConfig holds the engine's dependencies. Generator may be nil when
// generation is disabled; Events may be nil.
type LoopConfig struct {
	Dispatcher   *command.Dispatcher
	Generator    domain.Generator
	Bus          domain.MessageBus
	Events       *bus.EventBus
	Logger       *slog.Logger
	Model        string
	HistoryLimit int
}

func NewLoop(cfg LoopConfig) *Loop {
	return &Loop{
		dispatcher: cfg.Dispatcher,
		generator:  cfg.Generator,
		bus:        cfg.Bus,
		events:     cfg.Events,
		history:    NewHistory(cfg.HistoryLimit),
		limiter:    NewRateLimiter(defaultRateBurst, defaultRatePerMin),
		logger:     cfg.Logger,
		model:      cfg.Model,
	}
}

// Run consumes inbound messages until ctx is cancelled or the bus closes.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("engine loop started")
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("engine loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, engine loop stopping")
				return
			}
			l.processMessage(ctx, msg)
		}
	}
}

func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	l.logger.Info("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)
	metrics.MessagesTotal.Inc()
	l.emit(bus.EventMessageReceived, map[string]any{"channel": msg.Channel, "chat": msg.ChatID})

	chatKey := msg.Channel + ":" + msg.ChatID
	if !l.limiter.Allow(chatKey) {
		l.logger.Warn("turn rate limited", "chat", chatKey)
		l.sendFinal(msg, rateLimitedReply)
		return
	}

	// Signal the surface that the turn is being worked on.
	l.bus.SendOutbound(domain.OutboundMessage{
		Channel:     msg.Channel,
		ChatID:      msg.ChatID,
		StreamEvent: &domain.StreamEvent{Type: domain.StreamThinking},
	})

	if command.Classify(msg.Content) {
		l.runCommand(ctx, msg)
		return
	}
	l.runGeneration(ctx, msg, chatKey)
}

func (l *Loop) runCommand(ctx context.Context, msg domain.InboundMessage) {
	intent := command.Route(msg.Content)
	params := command.Extract(msg.Content, intent)
	reply := l.dispatcher.Dispatch(ctx, intent, params)

	if intent == domain.IntentUnrecognized {
		l.emit(bus.EventCommandUnrecognized, map[string]any{"channel": msg.Channel})
	} else {
		l.emit(bus.EventCommandDispatched, map[string]any{"intent": intent.String(), "channel": msg.Channel})
	}
	l.sendFinal(msg, reply)
}

func (l *Loop) runGeneration(ctx context.Context, msg domain.InboundMessage, chatKey string) {
	if l.generator == nil {
		l.sendFinal(msg, noEngineNotice+"\n\n"+command.HelpText())
		return
	}

	req := domain.GenerateRequest{
		Model:   l.model,
		System:  defaultSystemPrompt,
		Prompt:  msg.Content,
		Images:  msg.Media,
		History: l.history.Snapshot(chatKey),
	}
	l.emit(bus.EventGenerationStarted, map[string]any{"chat": chatKey})

	sg, streaming := l.generator.(domain.StreamingGenerator)
	if !streaming {
		l.completeTurn(ctx, msg, chatKey, req)
		return
	}

	pipe := stream.NewPipeline(func(snapshot string, done bool) {
		evt := &domain.StreamEvent{Type: domain.StreamSnapshot, Content: snapshot}
		out := domain.OutboundMessage{
			Channel:     msg.Channel,
			ChatID:      msg.ChatID,
			Format:      "markdown",
			StreamEvent: evt,
		}
		if done {
			evt.Type = domain.StreamDone
			out.Content = snapshot
		}
		l.bus.SendOutbound(out)
	}, nil, l.logger)
	pipe.Begin()

	streamCh := make(chan domain.Fragment, fragmentBuffer)
	errCh := make(chan error, 1)
	go func() {
		errCh <- sg.Stream(ctx, req, streamCh)
	}()

	var accumulated strings.Builder
	for f := range streamCh {
		accumulated.WriteString(f.Text)
		pipe.HandleFragment(f.Text, f.Done)
	}
	// Stream closes streamCh before returning, so range exits first. Block
	// on errCh to see the goroutine's verdict.
	if err := <-errCh; err != nil {
		if ctx.Err() != nil {
			pipe.Cancel()
			l.logger.Info("generation cancelled", "chat", chatKey)
			return
		}
		pipe.Fail(err)
		l.logger.Error("generation failed", "chat", chatKey, "error", err)
		l.emit(bus.EventGenerationFailed, map[string]any{"chat": chatKey, "error": err.Error()})
		return
	}

	final := accumulated.String()
	l.history.Append(chatKey, "user", msg.Content)
	l.history.Append(chatKey, "assistant", final)
	l.emit(bus.EventGenerationCompleted, map[string]any{"chat": chatKey, "chars": len(final)})
	l.emit(bus.EventMessageSent, map[string]any{"channel": msg.Channel})
}

// completeTurn is the non-streaming generation path.
func (l *Loop) completeTurn(ctx context.Context, msg domain.InboundMessage, chatKey string, req domain.GenerateRequest) {
	resp, err := l.generator.Complete(ctx, req)
	if err != nil {
		l.logger.Error("generation failed", "chat", chatKey, "error", err)
		l.emit(bus.EventGenerationFailed, map[string]any{"chat": chatKey, "error": err.Error()})
		l.sendFinal(msg, fmt.Sprintf("⚠️ Generation failed: %v", err))
		return
	}

	l.history.Append(chatKey, "user", msg.Content)
	l.history.Append(chatKey, "assistant", resp.Content)
	l.emit(bus.EventGenerationCompleted, map[string]any{"chat": chatKey, "latency_ms": resp.LatencyMs})
	l.sendFinal(msg, resp.Content)
}

func (l *Loop) sendFinal(msg domain.InboundMessage, content string) {
	l.bus.SendOutbound(domain.OutboundMessage{
		Channel:     msg.Channel,
		ChatID:      msg.ChatID,
		Content:     content,
		Format:      "markdown",
		StreamEvent: &domain.StreamEvent{Type: domain.StreamDone, Content: content},
	})
	l.emit(bus.EventMessageSent, map[string]any{"channel": msg.Channel})
}

func (l *Loop) emit(eventType string, payload map[string]any) {
	if l.events == nil {
		return
	}
	l.events.Emit(bus.Event{
		Type:      eventType,
		Source:    "engine",
		Payload:   payload,
		Timestamp: time.Now(),
	})
}
