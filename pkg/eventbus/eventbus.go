package eventbus

import (
	"strings"
	"sync"
)

// EventBus is a topic based publish/subscribe hub used to fan inbound link
// traffic out to interested parties (pending calls, event subscribers, bulk
// data consumers and the anomaly log).
type EventBus interface {
	Publish(topic string, message any)
	Subscribe(topic string, bufSize int, filter func(any) bool) Subscriber
	// SubscribePrefix receives messages of every topic starting with prefix.
	SubscribePrefix(prefix string, bufSize int, filter func(any) bool) Subscriber
}

type Subscriber interface {
	C() <-chan any
	Unsubscribe()
}

// Envelope wraps messages delivered to prefix subscribers so the concrete
// topic is not lost.
type Envelope struct {
	Topic   string
	Message any
}

type eventBus struct {
	subscribers map[string]map[*subscriber]func(any) bool
	prefixed    map[string]map[*subscriber]func(any) bool
	mu          sync.Mutex
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan any
	closed bool
}

func MatchAll(any) bool {
	return true
}

// New returns an initialized EventBus.
func New() EventBus {
	return &eventBus{
		subscribers: make(map[string]map[*subscriber]func(any) bool),
		prefixed:    make(map[string]map[*subscriber]func(any) bool),
	}
}

// Publish a message to a topic (best-effort). Messages for subscribers with a
// full receive queue are dropped.
func (eb *eventBus) Publish(topic string, message any) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if subs, ok := eb.subscribers[topic]; ok {
		if deliver(subs, message) == 0 {
			delete(eb.subscribers, topic)
		}
	}

	for prefix, subs := range eb.prefixed {
		if !strings.HasPrefix(topic, prefix) {
			continue
		}
		if deliver(subs, Envelope{Topic: topic, Message: message}) == 0 {
			delete(eb.prefixed, prefix)
		}
	}
}

// deliver sends message to every open subscriber and returns how many remain.
func deliver(subs map[*subscriber]func(any) bool, message any) int {
	for sub, filter := range subs {
		sub.mu.Lock()
		// Clean up closed subscribers
		if sub.closed {
			sub.mu.Unlock()
			delete(subs, sub)
			continue
		}

		if filter(unwrap(message)) {
			// Try to send message, but don't block
			select {
			case sub.ch <- message:
			default:
			}
		}
		sub.mu.Unlock()
	}
	return len(subs)
}

func unwrap(message any) any {
	if env, ok := message.(Envelope); ok {
		return env.Message
	}
	return message
}

// Subscribe to a topic with a filter function. Returns a channel with given buffer size.
func (eb *eventBus) Subscribe(topic string, bufSize int, filter func(any) bool) Subscriber {
	return eb.subscribe(eb.subscribers, topic, bufSize, filter)
}

func (eb *eventBus) SubscribePrefix(prefix string, bufSize int, filter func(any) bool) Subscriber {
	return eb.subscribe(eb.prefixed, prefix, bufSize, filter)
}

func (eb *eventBus) subscribe(table map[string]map[*subscriber]func(any) bool, key string, bufSize int, filter func(any) bool) Subscriber {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if filter == nil {
		filter = MatchAll
	}

	sub := &subscriber{
		ch: make(chan any, bufSize),
	}

	if _, ok := table[key]; !ok {
		table[key] = make(map[*subscriber]func(any) bool)
	}
	table[key][sub] = filter

	return sub
}

func (s *subscriber) C() <-chan any {
	return s.ch
}

// Unsubscribe closes the receive channel. Calling it more than once is a no-op.
func (s *subscriber) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
