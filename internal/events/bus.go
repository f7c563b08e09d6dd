// Package events carries the one-way notification stream from the core to
// attached presentation clients: host list changes, snippet changes, channel
// lifecycle, terminal output, and internal failures.
//
// Publish order is delivery order for every subscriber. Terminal output
// events additionally carry a per-channel sequence number so a client can
// reconcile a transcript snapshot with the live stream.
package events

import (
	"log"
	"sync"
	"time"
)

// Event types published by the core.
const (
	TypeSessionsChanged  = "sessions.changed"
	TypeSnippetsChanged  = "snippets.changed"
	TypeChannelCreated   = "channel.created"
	TypeChannelDestroyed = "channel.destroyed"
	TypeChannelOutput    = "channel.output"
	TypeInternalError    = "internal.error"
)

// Event is a single notification. Data is a JSON-marshalable payload whose
// shape depends on Type.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// OutputPayload is the Data of a channel.output event. Target is "stdout" or
// "stderr". Seq increases by one per event within a channel.
type OutputPayload struct {
	ChannelID string `json:"channelId"`
	Target    string `json:"target"`
	Data      string `json:"data"`
	Seq       uint64 `json:"seq"`
}

// ErrorPayload is the Data of an internal.error event.
type ErrorPayload struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this loses events rather than stalling the core.
const subscriberBuffer = 256

// recentSize is the number of events retained for diagnostics.
const recentSize = 100

// recentBuffer is a fixed-size ring of the most recently published events.
type recentBuffer struct {
	events [recentSize]Event
	head   int // next write position
	count  int // total entries written (capped at buffer size for reads)
}

func (b *recentBuffer) record(ev Event) {
	b.events[b.head] = ev
	b.head = (b.head + 1) % recentSize
	if b.count < recentSize {
		b.count++
	}
}

// history returns events in chronological order (oldest first).
func (b *recentBuffer) history() []Event {
	if b.count == 0 {
		return nil
	}
	result := make([]Event, b.count)
	if b.count < recentSize {
		copy(result, b.events[:b.count])
	} else {
		// Buffer is full, head is the oldest entry.
		n := copy(result, b.events[b.head:])
		copy(result[n:], b.events[:b.head])
	}
	return result
}

// Bus fans published events out to all current subscribers.
type Bus struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan Event
	recent  recentBuffer
	dropped uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called when the subscriber goes away; after cancel the channel is closed.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber. Delivery never blocks: a
// subscriber with a full buffer misses the event. Callers may publish while
// holding their own locks.
func (b *Bus) Publish(eventType string, data any) {
	ev := Event{Type: eventType, Timestamp: time.Now(), Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.recent.record(ev)
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
			if b.dropped%100 == 1 {
				log.Printf("events: slow subscriber, %d events dropped so far", b.dropped)
			}
		}
	}
}

// Recent returns up to the last 100 published events, oldest first.
func (b *Bus) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recent.history()
}

// Dropped reports how many events were lost to slow subscribers.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
