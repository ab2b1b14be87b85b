package lanebus

import (
	"context"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// captureEmitter records emitted lifecycle events for inspection.
type captureEmitter struct {
	mu     sync.Mutex
	events []cloudevents.Event
}

func (c *captureEmitter) EmitEvent(_ context.Context, event cloudevents.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureEmitter) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type()
	}
	return out
}

func (c *captureEmitter) has(eventType string) bool {
	for _, got := range c.types() {
		if got == eventType {
			return true
		}
	}
	return false
}

func TestEngineEmitsSubscriptionLifecycleEvents(t *testing.T) {
	emitter := &captureEmitter{}
	d := NewSyncDispatcher(DefaultLaneCount)
	defer d.Dispose()
	e := NewEngine[nodeEvent, int](d, WithEventEmitter(emitter))

	recv := newTestReceiver[nodeEvent, int]("r1")
	h, err := e.Subscribe(laneConsensus, 0, onBlock, recv)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	e.Unsubscribe(onBlock, h)

	for _, want := range []string{
		EventTypeKeyCreated,
		EventTypeSubscriptionCreated,
		EventTypeSubscriptionRemoved,
		EventTypeKeyRemoved,
	} {
		want := want
		waitFor(t, 2*time.Second, func() bool { return emitter.has(want) }, want)
	}
}

func TestLifecycleEventFormat(t *testing.T) {
	event := newLifecycleEvent(EventTypeSubscriptionCreated, map[string]any{"lane": 0})
	if event.Type() != EventTypeSubscriptionCreated {
		t.Fatalf("type = %s", event.Type())
	}
	if event.Source() != eventSource {
		t.Fatalf("source = %s", event.Source())
	}
	if event.ID() == "" {
		t.Fatal("event id must be set")
	}
	if event.SpecVersion() != cloudevents.VersionV1 {
		t.Fatalf("spec version = %s", event.SpecVersion())
	}
}

func TestDispatcherEmitsDisposedEvent(t *testing.T) {
	emitter := &captureEmitter{}
	d, err := NewPoolDispatcher(DefaultConfig(), WithEventEmitter(emitter))
	if err != nil {
		t.Fatalf("new pool dispatcher: %v", err)
	}
	d.Dispose()

	waitFor(t, 2*time.Second, func() bool {
		return emitter.has(EventTypeDispatcherDisposed)
	}, "dispatcher disposed event emitted")
}
