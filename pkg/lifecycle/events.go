// Lifecycle events handed to external collaborators (persistence, event
// publication). Emitted after the cluster lock is released so slow
// downstream calls never extend a critical section.

package lifecycle

import (
	"context"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/deployment"
)

// EventType: Kind of lifecycle transition
type EventType string

const (
	EventCreated   EventType = "created"
	EventQueued    EventType = "queued"
	EventStarted   EventType = "started" // carries StartedAt on the record
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// Event: One lifecycle transition
// Deployment is a snapshot taken at transition time; consumers may keep it.
type Event struct {
	Type       EventType              `json:"type"`
	Deployment *deployment.Deployment `json:"deployment"`
}

// Notifier: Consumer of lifecycle events
// Called synchronously after the transition commits; implementations that
// do real I/O should be quick or hand off internally.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc: Adapter to use a plain function as a Notifier
type NotifierFunc func(ctx context.Context, ev Event)

// Notify implements Notifier
func (f NotifierFunc) Notify(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Multi: Fan an event out to several notifiers in order
func Multi(notifiers ...Notifier) Notifier {
	return NotifierFunc(func(ctx context.Context, ev Event) {
		for _, n := range notifiers {
			n.Notify(ctx, ev)
		}
	})
}
