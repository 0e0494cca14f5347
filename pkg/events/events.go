package events

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventPlanStarted     EventType = "plan.started"
	EventPlanCompleted   EventType = "plan.completed"
	EventPlanPaused      EventType = "plan.paused"
	EventPlanResumed     EventType = "plan.resumed"
	EventPlanCancelled   EventType = "plan.cancelled"
	EventPhaseStarted    EventType = "phase.started"
	EventPhaseBlocked    EventType = "phase.blocked"
	EventPhaseCompleted  EventType = "phase.completed"
	EventInstanceLaunch  EventType = "instance.launched"
	EventInstanceReady   EventType = "instance.ready"
	EventInstanceFailed  EventType = "instance.failed"
	EventInstanceReplace EventType = "instance.replaced"
	EventInstanceDecomm  EventType = "instance.decommissioned"
)

// Event represents one orchestrator event.
type Event struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution. It also keeps a
// bounded ring of recent events for the operator status API.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}

	recent []*Event
	limit  int
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
		limit:       200,
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// Emit is the convenience form of Publish.
func (b *Broker) Emit(t EventType, message string, metadata map[string]string) {
	b.Publish(&Event{Type: t, Message: message, Metadata: metadata})
}

// Recent returns the most recent events, newest last.
func (b *Broker) Recent() []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Event, len(b.recent))
	copy(out, b.recent)
	return out
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.remember(event)
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) remember(event *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recent = append(b.recent, event)
	if len(b.recent) > b.limit {
		b.recent = b.recent[len(b.recent)-b.limit:]
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
