package event

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/HerbHall/netreach/pkg/plugin"
)

const (
	topicStatus      = "reconcile.status"
	topicAssetStatus = "reconcile.asset.status"
	topicOffline     = "reconcile.alert.offline"
	topicSettings    = "settings.changed"
)

func statusEvent(topic string) plugin.Event {
	return plugin.Event{
		Topic:     topic,
		Source:    "reconcile",
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:   map[string]any{"asset_id": "a1", "is_online": true},
	}
}

// recorder collects handler invocations by name.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(name string) plugin.EventHandler {
	return func(_ context.Context, _ plugin.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestBus_TopicHandlersRunBeforeCatchAll(t *testing.T) {
	bus := NewBus(zap.NewNop())
	rec := &recorder{}

	bus.SubscribeAll(rec.handler("websocket"))
	bus.Subscribe(topicStatus, rec.handler("metrics"))
	bus.Subscribe(topicStatus, rec.handler("notify"))

	var got plugin.Event
	bus.Subscribe(topicStatus, func(_ context.Context, e plugin.Event) { got = e })

	if err := bus.Publish(context.Background(), statusEvent(topicStatus)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if want := []string{"metrics", "notify", "websocket"}; !slices.Equal(rec.got(), want) {
		t.Errorf("calls = %v, want %v", rec.got(), want)
	}
	if got.Source != "reconcile" || got.Topic != topicStatus {
		t.Errorf("event = %+v, want reconcile.status from reconcile", got)
	}
}

func TestBus_TopicsAreIsolated(t *testing.T) {
	bus := NewBus(zap.NewNop())
	rec := &recorder{}
	bus.Subscribe(topicAssetStatus, rec.handler("asset"))
	bus.Subscribe(topicOffline, rec.handler("offline"))

	_ = bus.Publish(context.Background(), statusEvent(topicOffline))
	_ = bus.Publish(context.Background(), statusEvent(topicOffline))

	if want := []string{"offline", "offline"}; !slices.Equal(rec.got(), want) {
		t.Errorf("calls = %v, want %v", rec.got(), want)
	}
}

func TestBus_UnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	bus := NewBus(zap.NewNop())
	rec := &recorder{}

	unsubRecon := bus.Subscribe(topicSettings, rec.handler("recon"))
	bus.Subscribe(topicSettings, rec.handler("reconcile"))

	_ = bus.Publish(context.Background(), plugin.Event{Topic: topicSettings})
	unsubRecon()
	unsubRecon()
	_ = bus.Publish(context.Background(), plugin.Event{Topic: topicSettings})

	if want := []string{"recon", "reconcile", "reconcile"}; !slices.Equal(rec.got(), want) {
		t.Errorf("calls = %v, want %v", rec.got(), want)
	}
}

func TestBus_UnsubscribeCatchAll(t *testing.T) {
	bus := NewBus(zap.NewNop())
	rec := &recorder{}

	unsub := bus.SubscribeAll(rec.handler("websocket"))
	_ = bus.Publish(context.Background(), statusEvent(topicStatus))
	unsub()
	_ = bus.Publish(context.Background(), statusEvent(topicAssetStatus))

	if want := []string{"websocket"}; !slices.Equal(rec.got(), want) {
		t.Errorf("calls = %v, want %v", rec.got(), want)
	}
}

func TestBus_PublishAsyncFansOut(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var wg sync.WaitGroup
	rec := &recorder{}

	wg.Add(3)
	for _, name := range []string{"recon", "reconcile"} {
		h := rec.handler(name)
		bus.Subscribe(topicSettings, func(ctx context.Context, e plugin.Event) {
			defer wg.Done()
			h(ctx, e)
		})
	}
	bus.SubscribeAll(func(ctx context.Context, e plugin.Event) {
		defer wg.Done()
		rec.handler("websocket")(ctx, e)
	})

	bus.PublishAsync(context.Background(), plugin.Event{Topic: topicSettings, Source: "settings"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("async handlers did not all run, got %v", rec.got())
	}
	if n := len(rec.got()); n != 3 {
		t.Errorf("async handlers called %d times, want 3", n)
	}
}

func TestBus_PanickingHandlerIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	bus := NewBus(zap.New(core))
	rec := &recorder{}

	bus.Subscribe(topicOffline, func(context.Context, plugin.Event) { panic("nil asset") })
	bus.Subscribe(topicOffline, rec.handler("notify"))

	if err := bus.Publish(context.Background(), statusEvent(topicOffline)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if want := []string{"notify"}; !slices.Equal(rec.got(), want) {
		t.Errorf("calls = %v, want %v", rec.got(), want)
	}

	entries := logs.FilterMessage("event handler panicked").All()
	if len(entries) != 1 {
		t.Fatalf("panic log entries = %d, want 1", len(entries))
	}
	if topic := entries[0].ContextMap()["topic"]; topic != topicOffline {
		t.Errorf("logged topic = %v, want %s", topic, topicOffline)
	}
}

func TestBus_SubscribeFromHandler(t *testing.T) {
	bus := NewBus(zap.NewNop())
	rec := &recorder{}

	var once sync.Once
	bus.Subscribe(topicStatus, func(context.Context, plugin.Event) {
		once.Do(func() { bus.Subscribe(topicStatus, rec.handler("late")) })
	})

	_ = bus.Publish(context.Background(), statusEvent(topicStatus))
	if n := len(rec.got()); n != 0 {
		t.Errorf("handler added during publish ran %d times for that event, want 0", n)
	}
	_ = bus.Publish(context.Background(), statusEvent(topicStatus))
	if want := []string{"late"}; !slices.Equal(rec.got(), want) {
		t.Errorf("calls = %v, want %v", rec.got(), want)
	}
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	if err := bus.Publish(context.Background(), statusEvent(topicStatus)); err != nil {
		t.Fatalf("Publish() with no subscribers error = %v", err)
	}
	bus.PublishAsync(context.Background(), statusEvent(topicStatus))
}
