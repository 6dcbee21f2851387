package service

import (
	"sync"
)

// subscriberBuffer is how many undelivered events a subscriber may hold.
const subscriberBuffer = 16

// Event is a job transition pushed to subscribers.
type Event struct {
	Type     string // "status", "progress"
	Status   string
	Progress float64
	Message  string
}

// EventPublisher receives job transitions from the orchestrator.
type EventPublisher interface {
	Publish(jobID string, event Event)
}

// EventBus fans job events out to in-process subscribers, keyed by job id.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch chan Event
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers for events of jobID. The returned func unsubscribes and
// closes the channel; calling it more than once is safe.
func (eb *EventBus) Subscribe(jobID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	eb.mu.Lock()
	if eb.subscribers[jobID] == nil {
		eb.subscribers[jobID] = make(map[*subscriber]struct{})
	}
	eb.subscribers[jobID][sub] = struct{}{}
	eb.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { eb.unsubscribe(jobID, sub) })
	}
}

func (eb *EventBus) unsubscribe(jobID string, sub *subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[jobID]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(eb.subscribers, jobID)
	}
}

// Publish never blocks. A subscriber whose buffer is full loses its oldest
// pending event, so the most recent transition is always delivered.
func (eb *EventBus) Publish(jobID string, event Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for sub := range eb.subscribers[jobID] {
		select {
		case sub.ch <- event:
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

func (eb *EventBus) subscriberCount(jobID string) int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.subscribers[jobID])
}
