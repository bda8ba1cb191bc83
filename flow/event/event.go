// Package event defines the canonical Event type delivered through the flow
// pipeline: an opaque typed value with a runtime variant tag and an optional
// routing key, immutable once emitted (§3 of the design).
package event

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Event is an opaque typed value flowing through a Stream. Key returns the
// routing key used for partitioning and instance lookup; an empty key means
// the event is unkeyed (broadcast-style delivery, see Stream.KeyFunc).
type Event interface {
	Key() string
	Variant() reflect.Type
}

// Supertyper is optionally implemented by event payloads that participate in
// a subtype hierarchy for dispatch-table specificity ordering (§4.1). An
// event variant with no Supertypes is only matched by an exact-type handler.
type Supertyper interface {
	// Supertypes lists, most-specific first, the ancestor variants this
	// event's runtime type is also dispatchable as.
	Supertypes() []reflect.Type
}

// Typed wraps a plain payload struct as an Event without requiring the
// payload itself to implement the interface. Two Typed[T] values with equal
// T share the same Variant(), which is what the dispatch table keys on.
type Typed[T any] struct {
	TraceID string
	RouteKey string
	Payload T
}

// NewTyped constructs a Typed event, always stamping a fresh trace id,
// grounded in the teacher's ingestion convention of tagging every canonical
// event with a trace identifier.
func NewTyped[T any](key string, payload T) Typed[T] {
	return Typed[T]{
		TraceID:  uuid.NewString(),
		RouteKey: key,
		Payload:  payload,
	}
}

// Key implements Event.
func (t Typed[T]) Key() string { return t.RouteKey }

// Variant implements Event.
func (t Typed[T]) Variant() reflect.Type {
	return reflect.TypeOf(t.Payload)
}

// TimerEvent is the synthetic event synthesized by the output scheduler's
// time-based, non-event-coupled policy (§4.5). It carries no user key: it is
// delivered directly to a specific instance by the scheduler, bypassing the
// stream/key-extraction path.
type TimerEvent struct {
	Prototype string
	Instance  string
	FiredAt   time.Time
}

// Key implements Event. TimerEvent is delivered out-of-band by the
// scheduler, so its key is informational only.
func (t TimerEvent) Key() string { return t.Instance }

// Variant implements Event.
func (t TimerEvent) Variant() reflect.Type {
	return reflect.TypeOf(t)
}

func (t TimerEvent) String() string {
	return fmt.Sprintf("TimerEvent{prototype=%s instance=%s firedAt=%s}", t.Prototype, t.Instance, t.FiredAt.Format(time.RFC3339Nano))
}
