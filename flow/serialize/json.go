package serialize

import (
	"fmt"
	"reflect"

	gojson "github.com/goccy/go-json"

	"github.com/coachpo/flow/flow/event"
)

// jsonEnvelope is the wire shape for JSONCodec: a type tag plus the raw
// payload bytes.
type jsonEnvelope struct {
	TypeName string          `json:"type"`
	Payload  gojson.RawMessage `json:"payload"`
}

// JSONCodec is the high-throughput Serializer for JSON-friendly payload
// types, backed by github.com/goccy/go-json (the teacher's own choice for
// hot-path JSON encoding).
type JSONCodec struct {
	registry *TypeRegistry
}

// NewJSONCodec constructs a JSONCodec backed by registry.
func NewJSONCodec(registry *TypeRegistry) *JSONCodec {
	return &JSONCodec{registry: registry}
}

// Register records sample so Decode can reconstruct its concrete type.
func (c *JSONCodec) Register(sample any) {
	c.registry.Register(sample)
}

// Encode implements Serializer.
func (c *JSONCodec) Encode(e event.Event) ([]byte, error) {
	payload, err := gojson.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("json marshal payload: %w", err)
	}
	return gojson.Marshal(jsonEnvelope{TypeName: typeNameOf(e), Payload: payload})
}

// Decode implements Serializer.
func (c *JSONCodec) Decode(b []byte) (event.Event, error) {
	var env jsonEnvelope
	if err := gojson.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("json unmarshal envelope: %w", err)
	}
	t, ok := c.registry.resolve(env.TypeName)
	if !ok {
		return nil, errDecodeUnknownType(env.TypeName)
	}

	ptr := reflect.New(t)
	if err := gojson.Unmarshal(env.Payload, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("json unmarshal payload: %w", err)
	}
	e, ok := ptr.Elem().Interface().(event.Event)
	if !ok {
		return nil, errDecodeUnknownType(env.TypeName)
	}
	return e, nil
}
