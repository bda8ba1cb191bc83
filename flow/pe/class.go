// Package pe implements the PE Prototype / Instance model of §4.2-§4.5: a
// keyed registry of per-key handler state, dispatch-table-driven routing,
// per-instance serialization, and the count/time output scheduler.
package pe

import (
	"context"

	"github.com/coachpo/flow/flow/dispatch"
	"github.com/coachpo/flow/flow/event"
)

// Class is implemented by PE authors. It supplies the per-instance state
// factory (§4.3's NewState replacement for the source's implicit shallow
// clone), the input/output handler registrations consumed once at
// Prototype construction, and the create/remove lifecycle hooks.
type Class interface {
	// Name identifies the PE class in logs and dispatch-miss messages.
	Name() string
	// NewState constructs fresh per-instance state for a newly created key.
	// The prototype itself never holds user state, only configuration.
	NewState() any
	// ThreadSafe reports whether instances of this class may be dispatched
	// to concurrently (§5's opt-out). Recorded once, at the class's first
	// instance creation, and inherited by every later instance.
	ThreadSafe() bool
	// RegisterInput declares input-event handlers against b, typically via
	// Bind, mirroring the PE author calling register<Event1>(p.onEvent1)
	// during onCreate in the source system.
	RegisterInput(b *dispatch.Builder)
	// RegisterOutput declares output-event handlers against b.
	RegisterOutput(b *dispatch.Builder)
	// OnCreate runs exactly once for a newly inserted instance. A returned
	// error aborts creation: the registry entry is removed and the error is
	// propagated to the caller that triggered the delivery (§4.2 step 6).
	OnCreate(inst *Instance) error
	// OnRemove runs exactly once when an instance's slot is freed, whether
	// by expiration, explicit removal, or prototype teardown.
	OnRemove(inst *Instance)
}

// HandlerFunc is the signature a PE author writes for one event variant. It
// receives the target Instance directly rather than threading state through
// a closure, since a single dispatch.Table is shared immutably across every
// instance of the class (§4.1).
type HandlerFunc func(ctx context.Context, inst *Instance, e event.Event) error

// Bind registers a HandlerFunc for the variant of sample against b, adapting
// it to dispatch.Handler's target-as-any signature.
func Bind(b *dispatch.Builder, sample any, h HandlerFunc) {
	b.RegisterHandler(sample, adapt(h))
}

func adapt(h HandlerFunc) dispatch.Handler {
	return func(ctx context.Context, target any, e event.Event) error {
		inst, ok := target.(*Instance)
		if !ok {
			return nil
		}
		return h(ctx, inst, e)
	}
}
