// Package events provides the in-process notification bus the engine uses to
// tell its host about state changes: timeline edits, playhead movement,
// export progress, asset updates.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened.
type EventType string

const (
	// Timeline events
	EventTimelineUpdated EventType = "timeline.updated"
	EventHistoryChanged  EventType = "history.changed"

	// Playback events
	EventPlaybackStarted EventType = "playback.started"
	EventPlaybackPaused  EventType = "playback.paused"
	EventPlaybackTime    EventType = "playback.time"

	// Export events
	EventExportStarted  EventType = "export.started"
	EventExportProgress EventType = "export.progress"
	EventExportDone     EventType = "export.done"
	EventExportFailed   EventType = "export.failed"

	// Asset events
	EventAssetImported EventType = "asset.imported"
	EventAssetUpdated  EventType = "asset.updated"
	EventAssetMissing  EventType = "asset.missing"
)

// Event is one bus emission.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler consumes events. Handlers must not block; slow consumers should
// hand off to their own goroutine.
type Handler func(Event)

type subscription struct {
	id      string
	pattern EventType // exact type, or "" for all
	handler Handler
}

// Bus is a synchronous in-process publish/subscribe dispatcher. Publish
// calls handlers on the publishing goroutine, so event order matches the
// order of the state changes that produced them.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for one event type, or for every event when
// eventType is empty. The returned function unsubscribes.
func (b *Bus) Subscribe(eventType EventType, handler Handler) (unsubscribe func()) {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, pattern: eventType, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to every matching subscriber, in subscription
// order.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	evt := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.pattern == "" || s.pattern == eventType {
			s.handler(evt)
		}
	}
}
