package events

import (
	"sync"
	"time"
)

// EventType represents the type of room-level event
type EventType string

const (
	EventRoomReset       EventType = "room.reset"
	EventRoomRestored    EventType = "room.restored"
	EventSubscriberAdded EventType = "subscriber.added"
	EventSubscriberPruned EventType = "subscriber.pruned"
	EventSharedRefPruned  EventType = "sharedref.pruned"
	EventBridgeApplied   EventType = "bridge.applied"
)

// Event represents a room-level event. Payload carries the structured
// control-frame body (e.g. {"type":"room-reset","resetEpoch":N}) that gets
// forwarded to connected sync clients verbatim; Metadata stays available for
// simple string tags that don't need their own payload shape.
type Event struct {
	ID        string
	Type      EventType
	RoomID    string
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
	Payload   any
}

// Subscriber is a channel that receives events, optionally narrowed to a
// single room by roomFilter.
type Subscriber chan *Event

// Broker manages event subscriptions and distribution. One Broker is
// shared by every Room a Registry hosts; callers that only care about a
// specific room's activity (e.g. an admin UI watching one room) should use
// SubscribeRoom rather than filtering a firehose Subscribe themselves.
type Broker struct {
	subscribers map[Subscriber]string // sub -> roomFilter ("" means all rooms)
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]string),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
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

// Subscribe creates a subscription that receives every event on the
// broker, regardless of which room it belongs to.
func (b *Broker) Subscribe() Subscriber {
	return b.subscribe("")
}

// SubscribeRoom creates a subscription that only receives events whose
// RoomID matches roomID, used by admin tooling that watches a single room
// instead of the whole coordinator's event stream.
func (b *Broker) SubscribeRoom(roomID string) Subscriber {
	return b.subscribe(roomID)
}

func (b *Broker) subscribe(roomFilter string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = roomFilter
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
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, roomFilter := range b.subscribers {
		if roomFilter != "" && roomFilter != event.RoomID {
			continue
		}
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
