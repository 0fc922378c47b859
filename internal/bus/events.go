package bus

import (
	"log/slog"
	"sync"
	"time"
)

const defaultMaxHistory = 1000

// Event is something that happened inside the dispatcher.
type Event struct {
	Type      string         // one of the Event* constants
	Agent     string         // agent involved, if any
	RequestID string         // request involved, if any
	Payload   map[string]any // event-specific data
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus with wildcard subscriptions
// and a bounded history for replay.
type EventBus struct {
	handlers   map[string][]EventHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
}

// NewEventBus creates an EventBus that keeps up to maxHistory events
// (defaultMaxHistory when maxHistory <= 0).
func NewEventBus(maxHistory int, logger *slog.Logger) *EventBus {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]EventHandler),
		logger:     logger,
		maxHistory: maxHistory,
	}
}

// On registers a handler for the given event type. "*" receives every event.
func (eb *EventBus) On(eventType string, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Emit records the event and calls every matching handler synchronously.
// A panicking handler is logged and does not affect the others.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)

	var handlers []EventHandler
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}

// Replay returns recorded events of the given type ("*" for all) at or after since.
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

// Recent returns up to n of the most recent events, oldest first.
func (eb *EventBus) Recent(n int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if n <= 0 || len(eb.history) == 0 {
		return nil
	}
	start := len(eb.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]Event, len(eb.history)-start)
	copy(out, eb.history[start:])
	return out
}

// Dispatcher event types.
const (
	EventAgentRegistered  = "agent.registered"
	EventAgentInitialized = "agent.initialized"
	EventAgentExecuted    = "agent.executed"
	EventAgentUnmatched   = "agent.unmatched"
	EventAgentRejected    = "agent.rejected"
	EventAgentFailed      = "agent.failed"
	EventAgentCleanedUp   = "agent.cleaned_up"
)
