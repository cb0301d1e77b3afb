// Package events is the in-process event bus for generation lifecycle
// and workflow activity. Subscribers are the MQTT status publisher and the
// WebSocket handler. Publish on a nil *Bus is a no-op, so components do
// not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the orchestration loop.
	SourceAgent = "agent"
	// SourceWorkflow identifies events from the workflow runner.
	SourceWorkflow = "workflow"
	// SourceConnwatch identifies service health changes.
	SourceConnwatch = "connwatch"
)

// Kind constants describe the type of event within a source.
const (
	// KindRequestStart signals the beginning of a generation.
	// Data: request_id, session_id, provider.
	KindRequestStart = "request_start"
	// KindTurn signals a model round-trip within an attempt.
	// Data: request_id, attempt, turn.
	KindTurn = "turn"
	// KindToolCall signals the start of a tool execution.
	// Data: request_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: request_id, tool, duration_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete signals the end of a generation.
	// Data: request_id, status, attempts, turns, elapsed_ms.
	KindRequestComplete = "request_complete"

	// KindWorkflowRun signals a workflow finished running.
	// Data: workflow, steps, ok.
	KindWorkflowRun = "workflow_run"

	// KindServiceReady and KindServiceDown signal a watched service
	// changing state. Data: service, and error when down.
	KindServiceReady = "service_ready"
	KindServiceDown  = "service_down"
)

// Event is one thing that happened inside korb.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// DefaultBuffer is the subscription buffer used by the MQTT publisher and
// WebSocket clients.
const DefaultBuffer = 64

// subscription is one listener. dropped counts events it missed because
// its buffer was full.
type subscription struct {
	ch      chan Event
	dropped int
}

// Bus fans events out to subscribers without blocking the publisher. A
// subscriber that falls behind misses events.
type Bus struct {
	mu   sync.Mutex
	subs []*subscription
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Publish delivers e to every subscriber with room in its buffer. A nil
// bus discards the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped++
		}
	}
}

// Subscribe registers a listener with a buffer of size bufSize and
// returns its channel. Pair every Subscribe with Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	sub := &subscription{ch: make(chan Event, max(bufSize, 0))}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub.ch
}

// Unsubscribe removes the listener owning ch and closes ch. Unknown
// channels are ignored, so calling it twice is harmless.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if (<-chan Event)(sub.ch) != ch {
			continue
		}
		b.subs = append(b.subs[:i], b.subs[i+1:]...)
		close(sub.ch)
		return
	}
}

// SubscriberCount reports how many listeners are registered.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped reports how many events the listener owning ch has missed.
func (b *Bus) Dropped(ch <-chan Event) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if (<-chan Event)(sub.ch) == ch {
			return sub.dropped
		}
	}
	return 0
}
