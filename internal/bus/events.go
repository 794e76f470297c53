package bus

import (
	"log/slog"
	"sync"
	"time"

	"voxchat/internal/domain"
)

const defaultBufferSize = 64

type EventType string

// --- Well-known event types ---
const (
	EventTurnAppended   EventType = "turn.appended"
	EventStatusChanged  EventType = "status.changed"
	EventModeChanged    EventType = "mode.changed"
	EventHistoryCleared EventType = "history.cleared"
)

// Event is a notification from the orchestrator to presentation layers.
// Only the field matching Type is meaningful.
type Event struct {
	Type      EventType
	Turn      domain.Turn
	Status    domain.Status
	Mode      domain.Mode
	Timestamp time.Time
}

// Feed fans events out to subscribers over buffered channels.
// Publish never blocks: a subscriber whose buffer is full misses the event.
type Feed struct {
	mu         sync.RWMutex
	subs       map[int]chan Event
	nextID     int
	bufferSize int
	closed     bool
	logger     *slog.Logger
}

// NewFeed creates a Feed whose subscriber channels hold bufferSize events.
func NewFeed(bufferSize int, logger *slog.Logger) *Feed {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		subs:       make(map[int]chan Event),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe registers a new subscriber. The returned cancel func removes it
// and closes its channel; it is safe to call more than once.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Event, f.bufferSize)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	return ch, func() { f.unsubscribe(id) }
}

func (f *Feed) unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

// Publish delivers e to every subscriber without waiting.
func (f *Feed) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return
	}
	for id, ch := range f.subs {
		select {
		case ch <- e:
		default:
			f.logger.Warn("event dropped: subscriber buffer full", "subscriber", id, "event", e.Type)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
