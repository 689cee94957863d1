package events

import (
	"sync"
)

// GlobalTaskID subscribes a channel to every task's events.
const GlobalTaskID = "*"

// Publisher fans attempt and task events out to subscribers.
type Publisher interface {
	// Publish delivers an event to every subscriber whose scope matches
	// the event's task.
	Publish(event Event)
	// Subscribe returns a channel receiving events for one task, or for
	// all tasks when taskID is GlobalTaskID.
	Subscribe(taskID string) <-chan Event
	// Unsubscribe closes and removes a subscription channel.
	Unsubscribe(taskID string, ch <-chan Event)
	// Close shuts the publisher down and closes every subscription.
	Close()
}

// subscription pairs a delivery channel with the task scope it watches.
type subscription struct {
	scope string
	ch    chan Event
}

// MemoryPublisher delivers events in-process. Publishing never blocks:
// a subscriber that stops draining its channel loses events instead of
// stalling the attempt pipeline, and the loss is counted.
type MemoryPublisher struct {
	mu      sync.Mutex
	subs    []subscription
	buffer  int
	dropped uint64
	closed  bool
}

// PublisherOption configures a MemoryPublisher.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize sets the per-subscriber channel buffer.
func WithBufferSize(n int) PublisherOption {
	return func(p *MemoryPublisher) { p.buffer = n }
}

// NewMemoryPublisher creates an in-memory publisher.
func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{buffer: 100}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers the event to matching subscribers without blocking.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	for _, sub := range p.subs {
		if sub.scope != event.TaskID && sub.scope != GlobalTaskID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			p.dropped++
		}
	}
}

// Subscribe registers a channel for one task's events, or for all
// events with GlobalTaskID. On a closed publisher the returned channel
// is already closed.
func (p *MemoryPublisher) Subscribe(taskID string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, p.buffer)
	p.subs = append(p.subs, subscription{scope: taskID, ch: ch})
	return ch
}

// Unsubscribe closes and removes the subscription channel.
func (p *MemoryPublisher) Unsubscribe(taskID string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, sub := range p.subs {
		if sub.scope == taskID && sub.ch == ch {
			close(sub.ch)
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

// Close shuts the publisher down and closes every subscription.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for _, sub := range p.subs {
		close(sub.ch)
	}
	p.subs = nil
}

// Dropped reports how many events were discarded because a subscriber's
// buffer was full.
func (p *MemoryPublisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
