// Package serialize implements the Serializer seam of §6: encode/decode an
// event.Event to/from bytes, round-trip preserving its runtime variant and
// payload. Two implementations are provided: a reflection-based gob codec
// (the default) and a github.com/goccy/go-json fast path for JSON-friendly
// payload types. The caller constructs whichever it wants; node configuration
// has no setting that chooses between them.
package serialize

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/coachpo/flow/errs"
	"github.com/coachpo/flow/flow/event"
)

// Serializer round-trips an event.Event to bytes and back, per §6.
type Serializer interface {
	Encode(e event.Event) ([]byte, error)
	Decode(b []byte) (event.Event, error)
}

// TypeRegistry maps an event variant's type name to its reflect.Type, so a
// decoder can reconstruct the correct concrete type from the wire name. Both
// Serializer implementations share the same registration API.
type TypeRegistry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
}

// NewTypeRegistry constructs an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{byName: make(map[string]reflect.Type)}
}

// Register records sample's type under its reflect.Type.String() name
// (package name plus type name, e.g. "mypkg.Trade"), so Decode
// can resolve it later. PE authors call this once per event variant at
// startup, alongside their dispatch.Builder registrations.
func (r *TypeRegistry) Register(sample any) {
	t := reflect.TypeOf(sample)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[t.String()] = t
}

func (r *TypeRegistry) resolve(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

func typeNameOf(e event.Event) string {
	return reflect.TypeOf(e).String()
}

func errDecodeUnknownType(name string) error {
	return errs.New("serialize/decode", errs.CodeInvalid,
		errs.WithMessage(fmt.Sprintf("unregistered event type %q", name)))
}
