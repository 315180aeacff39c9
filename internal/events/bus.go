// Package events provides the in-process pub/sub bus for turn lifecycle
// notifications.
package events

import (
	"log"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBufferSize is the default per-subscriber channel capacity.
	DefaultBufferSize = 100

	// TypeTurnQueued identifies a message entering a session queue.
	TypeTurnQueued = "TurnQueued"
	// TypeTurnStarted identifies a turn beginning execution.
	TypeTurnStarted = "TurnStarted"
	// TypeTurnFinished identifies a turn producing its result.
	TypeTurnFinished = "TurnFinished"
	// TypeHealthCheck identifies doctor health check events.
	TypeHealthCheck = "HealthCheck"
)

const (
	// SeverityInfo indicates informational event severity.
	SeverityInfo = "INFO"
	// SeverityWarn indicates warning event severity.
	SeverityWarn = "WARN"
	// SeverityError indicates error event severity.
	SeverityError = "ERROR"
)

// Event is the normalized message delivered through the bus.
type Event struct {
	Type      string
	Timestamp time.Time
	SessionID string
	Payload   any
	Severity  string
}

// Handler consumes a published event.
type Handler func(Event)

// Logger captures warning logs for dropped events.
type Logger interface {
	Printf(format string, args ...any)
}

// Bus defines event subscription and publish behavior.
type Bus interface {
	Subscribe(eventType string, handler Handler)
	SubscribeAll(handler Handler)
	Publish(event Event)
}

// Option customizes bus construction.
type Option func(*InMemoryBus)

// WithBufferSize configures per-subscriber channel capacity.
func WithBufferSize(size int) Option {
	return func(bus *InMemoryBus) {
		if size > 0 {
			bus.bufferSize = size
		}
	}
}

// WithLogger configures the log sink used for dropped-event warnings.
func WithLogger(logger Logger) Option {
	return func(bus *InMemoryBus) {
		if logger != nil {
			bus.logger = logger
		}
	}
}

// InMemoryBus is a thread-safe in-process pub/sub bus backed by buffered
// channels. Slow subscribers drop events rather than blocking publishers.
type InMemoryBus struct {
	mu           sync.RWMutex
	bufferSize   int
	logger       Logger
	typedSubs    map[string][]*subscriber
	wildcardSubs []*subscriber
}

type subscriber struct {
	ch chan Event
}

// New creates an in-memory event bus with optional configuration.
func New(options ...Option) *InMemoryBus {
	bus := &InMemoryBus{
		bufferSize: DefaultBufferSize,
		logger:     log.Default(),
		typedSubs:  make(map[string][]*subscriber),
	}
	for _, option := range options {
		option(bus)
	}
	return bus
}

var _ Bus = (*InMemoryBus)(nil)

// Subscribe registers a handler for a specific event type.
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	normalized := strings.TrimSpace(eventType)
	if normalized == "" || handler == nil {
		return
	}
	sub := &subscriber{ch: make(chan Event, b.bufferSize)}

	b.mu.Lock()
	b.typedSubs[normalized] = append(b.typedSubs[normalized], sub)
	b.mu.Unlock()

	go consume(sub, handler)
}

// SubscribeAll registers a handler that receives every published event.
func (b *InMemoryBus) SubscribeAll(handler Handler) {
	if handler == nil {
		return
	}
	sub := &subscriber{ch: make(chan Event, b.bufferSize)}

	b.mu.Lock()
	b.wildcardSubs = append(b.wildcardSubs, sub)
	b.mu.Unlock()

	go consume(sub, handler)
}

// Publish delivers an event to typed and wildcard subscribers.
func (b *InMemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.typedSubs[event.Type])+len(b.wildcardSubs))
	subs = append(subs, b.typedSubs[event.Type]...)
	subs = append(subs, b.wildcardSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			b.logger.Printf("events: dropped %s event for slow subscriber", event.Type)
		}
	}
}

func consume(sub *subscriber, handler Handler) {
	for event := range sub.ch {
		handler(event)
	}
}
