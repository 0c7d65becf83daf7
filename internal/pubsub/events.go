// Package pubsub provides a generic publish/subscribe event system used to
// fan timer events out to API clients.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// StateChangedEvent fires after every timer state mutation.
	StateChangedEvent EventType = "state_changed"
	// SegmentCompletedEvent fires when a work, break or countdown segment reaches zero.
	SegmentCompletedEvent EventType = "segment_completed"
	// PlanCompletedEvent fires when a whole pomodoro plan or a countdown finishes.
	PlanCompletedEvent EventType = "plan_completed"
	// StateResetEvent fires when persisted state was found corrupt and replaced.
	StateResetEvent EventType = "state_reset"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
