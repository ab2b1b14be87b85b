package lanebus

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Lifecycle event type constants, following CloudEvents reverse domain
// notation.
const (
	// Subscription events
	EventTypeSubscriptionCreated = "com.gocodealone.lanebus.subscription.created"
	EventTypeSubscriptionRemoved = "com.gocodealone.lanebus.subscription.removed"

	// Key events
	EventTypeKeyCreated = "com.gocodealone.lanebus.key.created"
	EventTypeKeyRemoved = "com.gocodealone.lanebus.key.removed"

	// Dispatcher lifecycle events
	EventTypeDispatcherDisposed = "com.gocodealone.lanebus.dispatcher.disposed"

	// Manager lifecycle events
	EventTypeManagerDisposed = "com.gocodealone.lanebus.manager.disposed"
)

// eventSource identifies this package as the CloudEvents source.
const eventSource = "lanebus"

// EventEmitter receives lifecycle events from the subscription runtime.
// Implementations must be safe for concurrent use; emission happens on
// short-lived goroutines and errors are logged, never propagated.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event cloudevents.Event) error
}

// newLifecycleEvent builds a properly formatted CloudEvent for a lifecycle
// notification.
func newLifecycleEvent(eventType string, data map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(uuid.New().String())
	event.SetSource(eventSource)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}
