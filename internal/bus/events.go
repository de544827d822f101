package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is one observable fact about the relay: a turn arrived, a command
// ran, a generation finished, a workflow fired.
type Event struct {
	Type      string         // e.g. "message.received", "command.dispatched", "workflow.run"
	Source    string         // component that emitted it
	Payload   map[string]any // whatever the emitter wants listeners to see
	Timestamp time.Time      // stamped at emit when zero
}

// EventHandler consumes events delivered by the bus.
type EventHandler func(Event)

// EventBus is topic-based pub/sub for relay telemetry. It supports wildcard
// subscriptions, event history replay, and async dispatch. Handlers are
// panic-isolated so one bad listener cannot take down an emitter.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriber
	nextID      int
	history     []Event
	historyCap  int
	logger      *slog.Logger
}

// subscriber pairs a handler with the ID handed back by On.
type subscriber struct {
	id string
	fn EventHandler
}

// NewEventBus creates an event bus with a bounded replay buffer.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]subscriber),
		historyCap:  1000,
		logger:      logger,
	}
}

// On registers a handler for the given event type. Use "*" to listen to all
// events. The returned ID unsubscribes via Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "#" + strconv.Itoa(eb.nextID)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber{id: id, fn: handler})
	return id
}

// Off removes a handler by its ID. Unknown IDs are a no-op.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	subs := eb.subscribers[eventType]
	for i, s := range subs {
		if s.id == handlerID {
			eb.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit records the event in the replay buffer and calls every matching
// handler synchronously, in registration order, wildcard listeners last.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.historyCap {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	eb.mu.Unlock()

	for _, s := range eb.matching(event.Type) {
		eb.safeCall(s, event)
	}
}

// EmitAsync fires the event from its own goroutine; callers that must not
// block on listeners use this.
func (eb *EventBus) EmitAsync(event Event) {
	go eb.Emit(event)
}

// matching snapshots the handlers for one event type plus the wildcard set,
// so Emit never holds the lock while running callbacks.
func (eb *EventBus) matching(eventType string) []subscriber {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	subs := make([]subscriber, 0, len(eb.subscribers[eventType])+len(eb.subscribers["*"]))
	subs = append(subs, eb.subscribers[eventType]...)
	if eventType != "*" {
		subs = append(subs, eb.subscribers["*"]...)
	}
	return subs
}

func (eb *EventBus) safeCall(s subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", s.id, "panic", r)
		}
	}()
	s.fn(event)
}

// Replay returns buffered events of the given type emitted at or after
// since. Use "*" for all event types.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// HistoryLen returns the current number of events in the replay buffer.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}

// --- Well-known event types ---
const (
	EventMessageReceived     = "message.received"
	EventMessageSent         = "message.sent"
	EventCommandDispatched   = "command.dispatched"
	EventCommandUnrecognized = "command.unrecognized"
	EventGenerationStarted   = "generation.started"
	EventGenerationCompleted = "generation.completed"
	EventGenerationFailed    = "generation.failed"
	EventFetchFallback       = "fetch.fallback"
	EventWorkflowCreated     = "workflow.created"
	EventWorkflowRun         = "workflow.run"
	EventWorkflowDeleted     = "workflow.deleted"
	EventProviderError       = "provider.error"
	EventMetricRecorded      = "metric.recorded"
)
