package serialize

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/coachpo/flow/flow/event"
)

// envelope carries the wire-level type tag alongside the gob-encoded
// payload, since gob cannot decode into a bare interface without the
// concrete type already registered process-wide.
type envelope struct {
	TypeName string
	Value    any
}

// GobCodec is the reflection-based default Serializer, grounded in the
// standard library's own reflection-driven encoding package. Register must
// be called for every event variant before it can round-trip.
type GobCodec struct {
	registry *TypeRegistry
}

// NewGobCodec constructs a GobCodec backed by registry. Register samples
// through the codec's own Register, not directly on registry: only the
// codec's Register also registers them with the process-wide gob registry,
// which encoding/gob requires for concrete types behind an interface field
// before Encode/Decode.
func NewGobCodec(registry *TypeRegistry) *GobCodec {
	return &GobCodec{registry: registry}
}

// Register records sample for both name resolution and gob's own interface
// encoding requirements.
func (c *GobCodec) Register(sample any) {
	c.registry.Register(sample)
	gob.Register(sample)
}

// Encode implements Serializer.
func (c *GobCodec) Encode(e event.Event) ([]byte, error) {
	var buf bytes.Buffer
	env := envelope{TypeName: typeNameOf(e), Value: e}
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode implements Serializer.
func (c *GobCodec) Decode(b []byte) (event.Event, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&env); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	if _, ok := c.registry.resolve(env.TypeName); !ok {
		return nil, errDecodeUnknownType(env.TypeName)
	}
	e, ok := env.Value.(event.Event)
	if !ok {
		return nil, errDecodeUnknownType(env.TypeName)
	}
	return e, nil
}
