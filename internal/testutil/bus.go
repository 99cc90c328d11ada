package testutil

import (
	"context"
	"sync"

	"github.com/HerbHall/netreach/pkg/plugin"
)

var _ plugin.EventBus = (*MockBus)(nil)

// MockBus records published events without delivering them. Subscriptions
// are kept so a test can assert a module listens for a topic and replay an
// event to it with Deliver.
type MockBus struct {
	mu       sync.Mutex
	events   []plugin.Event
	handlers map[string][]plugin.EventHandler
	all      []plugin.EventHandler
}

func NewMockBus() *MockBus {
	return &MockBus{handlers: make(map[string][]plugin.EventHandler)}
}

func (b *MockBus) Publish(_ context.Context, event plugin.Event) error {
	b.record(event)
	return nil
}

func (b *MockBus) PublishAsync(_ context.Context, event plugin.Event) {
	b.record(event)
}

func (b *MockBus) record(event plugin.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *MockBus) Subscribe(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	idx := len(b.handlers[topic]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if hs := b.handlers[topic]; idx < len(hs) {
			hs[idx] = nil
		}
	}
}

func (b *MockBus) SubscribeAll(handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
	idx := len(b.all) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all[idx] = nil
	}
}

// Subscribed reports how many live handlers are registered for topic.
func (b *MockBus) Subscribed(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, h := range b.handlers[topic] {
		if h != nil {
			n++
		}
	}
	return n
}

// Deliver runs the handlers subscribed to event.Topic, and the catch-all
// handlers, synchronously. The event is not recorded.
func (b *MockBus) Deliver(ctx context.Context, event plugin.Event) {
	b.mu.Lock()
	var hs []plugin.EventHandler
	for _, h := range b.handlers[event.Topic] {
		if h != nil {
			hs = append(hs, h)
		}
	}
	for _, h := range b.all {
		if h != nil {
			hs = append(hs, h)
		}
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(ctx, event)
	}
}

// Events returns a copy of the recorded events in publish order.
func (b *MockBus) Events() []plugin.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]plugin.Event, len(b.events))
	copy(out, b.events)
	return out
}

// Count returns how many recorded events carry topic.
func (b *MockBus) Count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if ev.Topic == topic {
			n++
		}
	}
	return n
}

// Last returns the most recent event recorded for topic.
func (b *MockBus) Last(topic string) (plugin.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].Topic == topic {
			return b.events[i], true
		}
	}
	return plugin.Event{}, false
}

func (b *MockBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}
