package archive

import (
	"sync"
	"time"
)

// eventSubscriberBuffer bounds how many unread events a slow subscriber can
// accumulate before new events are dropped for it rather than blocking the
// publisher.
const eventSubscriberBuffer = 64

// eventBroadcaster fans out archive lifecycle events to any number of
// subscribers (e.g. the segment catalog writer). It is the Go
// equivalent of a broadcast channel: publish never blocks on a slow
// subscriber, it drops for that subscriber instead.
type eventBroadcaster struct {
	mu          sync.Mutex
	subscribers map[chan EventEnvelope]struct{}
}

func newEventBroadcaster() *eventBroadcaster {
	return &eventBroadcaster{
		subscribers: make(map[chan EventEnvelope]struct{}),
	}
}

// subscribe registers a new receiver channel. The returned unsubscribe
// func must be called when the caller is done listening.
func (b *eventBroadcaster) subscribe() (<-chan EventEnvelope, func()) {
	ch := make(chan EventEnvelope, eventSubscriberBuffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe
}

func (b *eventBroadcaster) publish(event Event) {
	envelope := EventEnvelope{Event: event, At: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- envelope:
		default:
		}
	}
}
