// events.go implements the outbound event sink for a Session.
//
// Every hop transition, command submission and failure is reported as an
// Event. Summaries are built only from configuration and sanitized command
// lines, and are scrubbed with logutil.SanitizeForLog before they leave the
// package. Sinks receive events synchronously in registration order.

package shell

import (
	"log"
	"sync"
	"time"

	"github.com/gluk-w/hopshell/internal/logutil"
)

// EventKind identifies what happened.
type EventKind string

const (
	EventHopStarted       EventKind = "hop_started"
	EventHopAuthenticated EventKind = "hop_authenticated"
	EventHopCompleted     EventKind = "hop_completed"
	EventHopRetried       EventKind = "hop_retried"
	EventHopFailed        EventKind = "hop_failed"
	EventConnected        EventKind = "connected"
	EventConnectFailed    EventKind = "connect_failed"
	EventDisconnected     EventKind = "disconnected"
	EventCommandStarted   EventKind = "command_started"
	EventCommandCompleted EventKind = "command_completed"
	EventCommandFailed    EventKind = "command_failed"
	EventStreamStarted    EventKind = "stream_started"
	EventStreamStopped    EventKind = "stream_stopped"
	EventInterrupted      EventKind = "interrupted"
	EventAborted          EventKind = "aborted"
)

// Event is one structured report from a session.
type Event struct {
	SessionID string        `json:"session_id"`
	Kind      EventKind     `json:"kind"`
	Summary   string        `json:"summary"`
	Hop       string        `json:"hop,omitempty"`
	State     string        `json:"state"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration,omitempty"`
	Failed    bool          `json:"failed,omitempty"`
}

// EventSink receives session events.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

// LogSink writes events to the standard logger.
type LogSink struct{}

func (LogSink) Emit(e Event) {
	if e.Failed {
		log.Printf("[shell] %s [ERROR] %s (state %s)", e.Kind, e.Summary, e.State)
		return
	}
	log.Printf("[shell] %s %s (state %s)", e.Kind, e.Summary, e.State)
}

// eventBufferSize is the number of events kept by an EventRing.
const eventBufferSize = 100

// EventRing keeps the most recent events in memory for a front-end log
// pane.
type EventRing struct {
	mu     sync.RWMutex
	events [eventBufferSize]Event
	head   int
	count  int
}

// NewEventRing returns an empty ring.
func NewEventRing() *EventRing {
	return &EventRing{}
}

func (r *EventRing) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.head] = e
	r.head = (r.head + 1) % eventBufferSize
	if r.count < eventBufferSize {
		r.count++
	}
}

// Events returns the retained events, oldest first.
func (r *EventRing) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return nil
	}
	result := make([]Event, r.count)
	if r.count < eventBufferSize {
		copy(result, r.events[:r.count])
	} else {
		n := copy(result, r.events[r.head:])
		copy(result[n:], r.events[:r.head])
	}
	return result
}

type eventBus struct {
	mu    sync.RWMutex
	sinks []EventSink
}

func (b *eventBus) add(sink EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

func (b *eventBus) emit(e Event) {
	b.mu.RLock()
	sinks := make([]EventSink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Emit(e)
	}
}

// AddSink registers an event sink.
func (s *Session) AddSink(sink EventSink) {
	s.events.add(sink)
}

func (s *Session) emit(kind EventKind, hop, summary string, d time.Duration, failed bool) {
	s.events.emit(Event{
		SessionID: s.id,
		Kind:      kind,
		Summary:   logutil.SanitizeForLog(summary),
		Hop:       logutil.SanitizeForLog(hop),
		State:     s.State().String(),
		Timestamp: time.Now(),
		Duration:  d,
		Failed:    failed,
	})
}
