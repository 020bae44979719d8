package events

import (
	"log/slog"
	"sync"
)

// Lifecycle event types emitted by the tile cache and sync queue.
const (
	DownloadStart    = "download-start"
	DownloadProgress = "download-progress"
	DownloadComplete = "download-complete"
	DownloadError    = "download-error"

	SyncStart            = "sync-start"
	SyncComplete         = "sync-complete"
	SyncError            = "sync-error"
	IncidentSavedOffline = "incident-saved-offline"

	NetworkOnline  = "online"
	NetworkOffline = "offline"
)

// Event is a single lifecycle notification.
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data"`
}

// Listener receives events. Listeners must not block for long; emission is
// synchronous in the caller's goroutine.
type Listener func(Event)

// Bus fans events out to registered listeners. A panic in one listener is
// recovered and logged so the remaining listeners still receive the event.
type Bus struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		listeners: make(map[int]Listener),
	}
}

// AddListener registers a callback and returns an unsubscribe function.
func (b *Bus) AddListener(cb Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = cb

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Emit delivers the event to all registered listeners.
func (b *Bus) Emit(eventType string, data any) {
	b.mu.Lock()
	snapshot := make([]Listener, 0, len(b.listeners))
	for _, cb := range b.listeners {
		snapshot = append(snapshot, cb)
	}
	b.mu.Unlock()

	ev := Event{Type: eventType, Data: data}
	for _, cb := range snapshot {
		b.deliver(cb, ev)
	}
}

func (b *Bus) deliver(cb Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event listener panicked", "event", ev.Type, "panic", r)
		}
	}()
	cb(ev)
}
