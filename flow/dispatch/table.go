// Package dispatch builds and evaluates the per-PE-class dispatch tables
// described in §4.1: an ordered mapping from event variant to handler,
// most-specific first, computed once per PE class and then treated as
// immutable so routing proceeds without synchronization.
package dispatch

import (
	"context"
	"fmt"
	"reflect"

	"github.com/coachpo/flow/errs"
	"github.com/coachpo/flow/flow/event"
	"github.com/coachpo/flow/flow/observability"
)

// Handler processes one delivered event against target — the PE instance
// the event was routed to. target is typed any so this package has no
// import-time dependency on flow/pe; flow/pe type-asserts it back on the
// way in and out. Keeping the table per-class (rather than per-instance
// closures) is the reading of §4.1 this implementation follows: tables are
// built once per PE class and never touched again.
type Handler func(ctx context.Context, target any, e event.Event) error

// Entry pairs an event variant with the handler registered for it.
type Entry struct {
	Variant reflect.Type
	Handler Handler
}

// Table is an immutable, ordered dispatch table. Selection walks the table
// once per event and is intentionally simple: §4.1 states H (handler count)
// is small, so no index beyond a slice is warranted.
type Table struct {
	class   string
	entries []Entry
}

// Select returns the first handler whose declared variant matches e's
// runtime variant, per §3's "at most one handler" invariant.
func (t *Table) Select(target any, e event.Event) (Handler, bool) {
	if t == nil || e == nil {
		return nil, false
	}
	v := e.Variant()
	for _, entry := range t.entries {
		if accepts(entry.Variant, v) {
			return entry.Handler, true
		}
	}
	return nil, false
}

// Dispatch selects and invokes the matching handler. When no handler
// matches, it logs the DispatchMiss contract message verbatim and returns
// the sentinel error so the caller can drop the event and continue.
func (t *Table) Dispatch(ctx context.Context, target any, e event.Event) error {
	handler, ok := t.Select(target, e)
	if !ok {
		v := e.Variant()
		typeName := "<nil>"
		if v != nil {
			typeName = v.String()
		}
		observability.Log().Error(fmt.Sprintf("Cannot dispatch event of type [%s] to PE of type [%s] : no matching handler", typeName, t.class))
		return errs.New("dispatch/select", errs.CodeDispatchMiss, errs.WithPEContext(t.class, e.Key(), typeName))
	}
	return handler(ctx, target, e)
}

// Len reports the number of registered entries, mostly useful for tests.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// accepts reports whether a handler declared for `declared` may process an
// event whose runtime variant is `actual`: either an exact match, or
// `declared` appears in actual's supertype closure (actual <: declared).
func accepts(declared, actual reflect.Type) bool {
	if declared == nil || actual == nil {
		return false
	}
	if declared == actual {
		return true
	}
	for _, super := range supertypeClosure(actual) {
		if super == declared {
			return true
		}
	}
	return false
}

// supertypeClosure returns the transitive closure of t's declared
// supertypes, via the optional event.Supertyper hook (§4.1 design note:
// "an event variant may accept a supertype to catch all subtypes").
func supertypeClosure(t reflect.Type) []reflect.Type {
	direct := directSupertypes(t)
	if len(direct) == 0 {
		return nil
	}
	seen := make(map[reflect.Type]struct{}, len(direct))
	var closure []reflect.Type
	queue := append([]reflect.Type(nil), direct...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		closure = append(closure, next)
		queue = append(queue, directSupertypes(next)...)
	}
	return closure
}

func directSupertypes(t reflect.Type) []reflect.Type {
	if t == nil {
		return nil
	}
	zero := reflect.New(t).Elem().Interface()
	st, ok := zero.(event.Supertyper)
	if !ok {
		return nil
	}
	return st.Supertypes()
}
