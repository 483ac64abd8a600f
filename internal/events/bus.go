// Package events is the in-process publish/subscribe sink for engine
// progress. Subscribers (the SSE stream, tests) receive events on buffered
// channels; a slow subscriber drops events rather than blocking the engine.
package events

import (
	"sync"
	"time"
)

// Event names published by the engine.
const (
	CampaignStarted   = "campaign.started"
	CampaignPaused    = "campaign.paused"
	CampaignCompleted = "campaign.completed"
	CampaignProgress  = "campaign.progress"
	EngineError       = "engine.error"
)

// Event is one published engine event.
type Event struct {
	Name    string         `json:"name"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Publisher is the narrow interface the engine consumes.
type Publisher interface {
	Publish(name string, payload map[string]any)
}

const subscriberBuffer = 64

// Bus fans events out to all current subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[chan Event]struct{})}
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(name string, payload map[string]any) {
	event := Event{Name: name, At: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// subscriber buffer full; drop rather than stall the engine
		}
	}
}

// Subscribe registers a new subscriber channel.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}
