package eventbus

import (
	"encoding/json"
	"log"
	"sync"
)

type TopicKind string

const (
	TopicOrganization TopicKind = "org"
	TopicContact      TopicKind = "contact"
)

// Topic addresses one fan-out scope. The two kinds form separate
// namespaces, so an organization id and a contact id can never collide.
type Topic struct {
	Kind TopicKind
	ID   string
}

func OrganizationTopic(orgID string) Topic {
	return Topic{Kind: TopicOrganization, ID: orgID}
}

func ContactTopic(contactID string) Topic {
	return Topic{Kind: TopicContact, ID: contactID}
}

type EventType string

const (
	EventNewMessage  EventType = "new_message"
	EventConvUpdated EventType = "conv_updated"
)

// Event is what travels through the bus. Payload is serialized up front
// so no handler can mutate what a later handler (or another process
// behind the bridge) observes.
type Event struct {
	Type    EventType       `json:"type"`
	OrgID   string          `json:"orgId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEvent(eventType EventType, orgID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:    eventType,
		OrgID:   orgID,
		Payload: raw,
	}, nil
}

type Handler func(Event)

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus is the in-process publish/subscribe registry. One instance is
// constructed per process and injected into every producer and consumer;
// there is no package-level singleton.
type Bus struct {
	mu     sync.RWMutex
	topics map[Topic][]subscriber
	nextID uint64

	// relay, when set, mirrors every local publish (e.g. onto redis so
	// streams held by other processes converge). Remote events come back
	// in through Dispatch, never Publish, so they are not re-relayed.
	relay func(Topic, Event)
}

func New() *Bus {
	return &Bus{
		topics: make(map[Topic][]subscriber),
	}
}

// SetRelay installs the cross-process relay hook. Must be called before
// the bus is shared; the bridge does this during bootstrap.
func (b *Bus) SetRelay(relay func(Topic, Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relay = relay
}

// Subscribe registers handler under topic and returns the capability
// that removes exactly this registration. Calling it more than once is
// a no-op after the first.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := b.topics[topic]
		if !ok {
			return
		}
		for i, sub := range subs {
			if sub.id == id {
				subs = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(subs) == 0 {
			delete(b.topics, topic)
		} else {
			b.topics[topic] = subs
		}
	}
}

// Publish synchronously invokes every handler registered for topic in
// registration order, then hands the event to the relay if one is set.
// Publishing to a topic nobody watches is a silent no-op.
func (b *Bus) Publish(topic Topic, event Event) {
	b.Dispatch(topic, event)

	b.mu.RLock()
	relay := b.relay
	b.mu.RUnlock()
	if relay != nil {
		relay(topic, event)
	}
}

// Dispatch delivers to local subscribers only. The bridge uses it to
// inject events received from other processes without echoing them back.
func (b *Bus) Dispatch(topic Topic, event Event) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		invoke(sub.handler, event)
	}
}

// invoke isolates one handler call: a panicking subscriber must not
// prevent delivery to the rest of the topic.
func invoke(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("eventbus: handler panic on %s event: %v", event.Type, r)
		}
	}()
	handler(event)
}

// SubscriberCount reports the current registration count for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// TopicCount reports how many topics currently hold registrations. An
// unsubscribed-empty topic is dropped entirely, not kept inert.
func (b *Bus) TopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}
