package dispatch

import "reflect"

// Builder accumulates handler registrations for one PE class and produces an
// immutable Table via Build. This replaces the source's runtime bytecode
// generation (§9 design note (a)): a PE author calls RegisterHandler during a
// one-time setup pass — typically from Class.RegisterInput/RegisterOutput,
// which pe.NewPrototype calls once per prototype — the same observable
// contract, realized without a codegen step.
type Builder struct {
	class   string
	entries []Entry
}

// NewBuilder constructs a Builder for the named PE class.
func NewBuilder(class string) *Builder {
	return &Builder{class: class}
}

// RegisterHandler declares a handler for the variant of the given sample
// value (typically the zero value of the event payload struct, or an
// event.Event implementation). Registration order is preserved as the
// tie-break for variants with no subtype relationship (§4.1: "unrelated
// variants may appear in any relative order, deterministic tie-break:
// declaration order").
func (b *Builder) RegisterHandler(sample any, handler Handler) {
	b.entries = append(b.entries, Entry{Variant: reflect.TypeOf(sample), Handler: handler})
}

// Build orders the accumulated entries so that, for any pair (h_i, h_j) where
// h_i's variant is a proper subtype of h_j's variant, h_i precedes h_j, and
// returns the resulting immutable Table.
//
// This is a partial-order placement, not a comparison sort: sort.SliceStable's
// insertion sort only ever swaps adjacent elements, so a subtype relation
// between two non-adjacent entries (e.g. registration order base, unrelated,
// subtype-of-base) never gets discovered and the invariant silently breaks.
// Build instead walks each entry leftward past every earlier entry it is a
// proper subtype of, inserting it immediately before the first such
// supertype found — not just its immediate neighbor — and otherwise leaves
// declaration order untouched for entries with no subtype relationship.
func (b *Builder) Build() *Table {
	entries := append([]Entry(nil), b.entries...)
	for i := 1; i < len(entries); i++ {
		cur := entries[i]
		insertAt := i
		for j := 0; j < i; j++ {
			if isProperSubtype(cur.Variant, entries[j].Variant) {
				insertAt = j
				break
			}
		}
		if insertAt != i {
			copy(entries[insertAt+1:i+1], entries[insertAt:i])
			entries[insertAt] = cur
		}
	}
	return &Table{class: b.class, entries: entries}
}

// isProperSubtype reports whether a is a proper subtype of b, i.e. b is
// reachable in a's declared supertype closure.
func isProperSubtype(a, b reflect.Type) bool {
	if a == nil || b == nil || a == b {
		return false
	}
	for _, super := range supertypeClosure(a) {
		if super == b {
			return true
		}
	}
	return false
}
