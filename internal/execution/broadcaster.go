package execution

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventType is the "type" field of a streamed event.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStdout    EventType = "stdout"
	EventStderr    EventType = "stderr"
	EventSystem    EventType = "system"
	EventComplete  EventType = "complete"
)

// Event is one message delivered to stream subscribers.
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"executionId,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
	Status      Status    `json:"status,omitempty"`
	ExitCode    *int      `json:"exitCode,omitempty"`
}

// Event returns the stream event for a log entry of execution id.
func (e LogEntry) Event(id string) Event {
	return Event{Type: EventType(e.Channel), ExecutionID: id, Message: e.Message, Timestamp: e.Timestamp}
}

// DefaultSubscriberBuffer is the number of live events a subscriber may
// fall behind before it is dropped.
const DefaultSubscriberBuffer = 256

// Broadcaster fans live execution events out to subscribers. It keeps no
// history; replay comes from the execution record (see Service.Subscribe).
type Broadcaster struct {
	mu      sync.Mutex
	streams map[string]*stream
	buffer  int
	logger  *slog.Logger
}

type stream struct {
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is one observer of an execution stream. C is closed when
// the execution completes, when the subscriber is dropped for falling
// behind, or on Unsubscribe. Dropped tells the second case apart.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	id      string
	dropped atomic.Bool
}

// Dropped reports whether the subscription was cut off because its buffer
// filled up. Events published after that point were not delivered.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

// NewBroadcaster returns a broadcaster whose subscribers buffer up to
// buffer live events.
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{streams: make(map[string]*stream), buffer: buffer, logger: logger}
}

// Open registers an execution id. Publishing to an id that was never opened
// is a no-op.
func (b *Broadcaster) Open(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[id]; !ok {
		b.streams[id] = &stream{subs: make(map[*Subscription]struct{})}
	}
}

// Publish delivers e to every current subscriber of id. A subscriber whose
// buffer is full is marked dropped and closed; delivery to the others
// continues.
func (b *Broadcaster) Publish(id string, e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[id]
	if !ok || s.closed {
		return
	}
	if e.ExecutionID == "" {
		e.ExecutionID = id
	}
	for sub := range s.subs {
		select {
		case sub.ch <- e:
		default:
			delete(s.subs, sub)
			sub.dropped.Store(true)
			close(sub.ch)
			b.logger.Warn("dropping slow stream subscriber", "execution", id, "buffer", b.buffer)
		}
	}
}

// Subscribe returns a subscription for everything published to id from now
// on. For a closed stream the channel is already closed.
func (b *Broadcaster) Subscribe(id string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, id: id}
	if s.closed {
		close(ch)
	} else {
		s.subs[sub] = struct{}{}
	}
	return sub, nil
}

// Unsubscribe removes sub. It is safe to call more than once and for
// subscriptions that were already dropped.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[sub.id]
	if !ok {
		return
	}
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.ch)
	}
}

// Close ends every subscription of id.
func (b *Broadcaster) Close(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[id]
	if !ok || s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		close(sub.ch)
	}
	s.subs = nil
}

// Forget closes id and unregisters it.
func (b *Broadcaster) Forget(id string) {
	b.Close(id)
	b.mu.Lock()
	delete(b.streams, id)
	b.mu.Unlock()
}

// Subscribers returns the number of live subscribers of id.
func (b *Broadcaster) Subscribers(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[id]; ok {
		return len(s.subs)
	}
	return 0
}
