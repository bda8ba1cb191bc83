package dispatch_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/flow/flow/dispatch"
	"github.com/coachpo/flow/flow/event"
)

type Event1 struct{ N int }
type Event2 struct{ S string }

func (Event1) Key() string           { return "" }
func (Event1) Variant() reflect.Type { return reflect.TypeOf(Event1{}) }
func (Event1) Supertypes() []reflect.Type {
	return []reflect.Type{reflect.TypeOf(EventBase{})}
}

func (Event2) Key() string           { return "" }
func (Event2) Variant() reflect.Type { return reflect.TypeOf(Event2{}) }

// EventBase / Event1a form the hierarchy Event1a <: Event1 <: EventBase used
// by the subtype-dispatch scenario.
type EventBase struct{}

func (EventBase) Key() string           { return "" }
func (EventBase) Variant() reflect.Type { return reflect.TypeOf(EventBase{}) }

type Event1a struct{ Event1 }

func (e Event1a) Key() string           { return "" }
func (e Event1a) Variant() reflect.Type { return reflect.TypeOf(e) }
func (Event1a) Supertypes() []reflect.Type {
	return []reflect.Type{reflect.TypeOf(Event1{}), reflect.TypeOf(EventBase{})}
}

func TestExactMatchDispatch(t *testing.T) {
	var h1Called, h2Called bool
	b := dispatch.NewBuilder("TestPE")
	b.RegisterHandler(Event1{}, func(ctx context.Context, target any, e event.Event) error {
		h1Called = true
		return nil
	})
	b.RegisterHandler(Event2{}, func(ctx context.Context, target any, e event.Event) error {
		h2Called = true
		return nil
	})
	table := b.Build()

	err := table.Dispatch(context.Background(), nil, Event1{N: 1})
	require.NoError(t, err)
	require.True(t, h1Called)
	require.False(t, h2Called)
}

func TestSubtypeDispatch(t *testing.T) {
	var baseCalled, specificCalled bool
	b := dispatch.NewBuilder("TestPE")
	b.RegisterHandler(EventBase{}, func(ctx context.Context, target any, e event.Event) error {
		baseCalled = true
		return nil
	})
	b.RegisterHandler(Event1{}, func(ctx context.Context, target any, e event.Event) error {
		specificCalled = true
		return nil
	})
	table := b.Build()

	err := table.Dispatch(context.Background(), nil, Event1a{Event1: Event1{N: 2}})
	require.NoError(t, err)
	require.True(t, specificCalled, "most specific ancestor handler should run")
	require.False(t, baseCalled)
}

func TestNoMatchingHandlerIsDropped(t *testing.T) {
	b := dispatch.NewBuilder("TestPE")
	b.RegisterHandler(Event1{}, func(ctx context.Context, target any, e event.Event) error {
		return nil
	})
	table := b.Build()

	err := table.Dispatch(context.Background(), nil, Event2{S: "x"})
	require.Error(t, err)
}

func TestOrderingNeverContradictsSubtypeRelation(t *testing.T) {
	var called string
	b := dispatch.NewBuilder("TestPE")
	b.RegisterHandler(EventBase{}, func(context.Context, any, event.Event) error { called = "base"; return nil })
	b.RegisterHandler(Event1a{}, func(context.Context, any, event.Event) error { called = "1a"; return nil })
	b.RegisterHandler(Event1{}, func(context.Context, any, event.Event) error { called = "1"; return nil })
	table := b.Build()
	require.Equal(t, 3, table.Len())

	// Declared base-first, yet each event must reach its own, most specific
	// handler: Event1a ahead of Event1 ahead of EventBase.
	require.NoError(t, table.Dispatch(context.Background(), nil, Event1a{}))
	require.Equal(t, "1a", called)
	require.NoError(t, table.Dispatch(context.Background(), nil, Event1{}))
	require.Equal(t, "1", called)
	require.NoError(t, table.Dispatch(context.Background(), nil, EventBase{}))
	require.Equal(t, "base", called)
}

// TestBuildOrdersNonAdjacentSubtypePastUnrelatedEntry registers a base type,
// an unrelated type, and a proper subtype of the base — in that order — and
// asserts the subtype still ends up ahead of its supertype even though the
// two are not adjacent in declaration order. A plain adjacent-swap stable
// sort (e.g. sort.SliceStable's insertion sort for small slices) stops the
// first time a comparison against the immediate neighbor is false and never
// discovers this non-adjacent relation, leaving the base handler reachable
// before the subtype's — which is exactly what this test exercises via
// Dispatch, not just Len.
func TestBuildOrdersNonAdjacentSubtypePastUnrelatedEntry(t *testing.T) {
	var baseCalled, subtypeCalled bool
	b := dispatch.NewBuilder("TestPE")
	b.RegisterHandler(EventBase{}, func(context.Context, any, event.Event) error {
		baseCalled = true
		return nil
	})
	b.RegisterHandler(Event2{}, func(context.Context, any, event.Event) error {
		return nil
	})
	b.RegisterHandler(Event1{}, func(context.Context, any, event.Event) error {
		subtypeCalled = true
		return nil
	})
	table := b.Build()

	err := table.Dispatch(context.Background(), nil, Event1a{Event1: Event1{N: 3}})
	require.NoError(t, err)
	require.True(t, subtypeCalled, "Event1 (proper subtype of EventBase) must be selected over EventBase")
	require.False(t, baseCalled)
}
