// Package events provides a non-blocking pub/sub bus for task store changes.
package events

import (
	"sync"
	"time"

	"github.com/DiscoClaw/discoclaw/internal/model"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventTaskUpdated is published after a task record is written.
	EventTaskUpdated EventType = "task_updated"
	// EventSyncCompleted is published after a sync run finishes successfully.
	EventSyncCompleted EventType = "sync_completed"
)

// Event represents a single store or engine event. Origin distinguishes
// engine-driven writes from external ones so subscribers that trigger syncs
// can ignore the engine's own mutations.
type Event struct {
	Type      EventType
	Timestamp time.Time
	TaskID    string
	Origin    model.Origin
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus delivers events asynchronously via buffered channels. If a
// subscriber's channel is full the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// NewBus creates a new event bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for an event type and returns an
// unsubscribe function. The subscriber runs on its own goroutine.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					// A panicking subscriber must not take the bus down.
					_ = recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish sends an event to all subscribers of its type without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			// Channel full, drop rather than block the publisher.
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
