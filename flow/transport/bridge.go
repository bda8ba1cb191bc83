package transport

import (
	"context"
	"fmt"

	"github.com/coachpo/flow/flow/event"
	"github.com/coachpo/flow/flow/serialize"
)

// EventSender adapts a byte-oriented Sender plus a Serializer into the
// event-oriented Sender interface flow/stream expects, keeping the stream
// fabric decoupled from wire format.
type EventSender struct {
	Sender     Sender
	Serializer serialize.Serializer
}

// Send encodes e and forwards the bytes to the underlying Sender.
func (s EventSender) Send(ctx context.Context, partition int, e event.Event) error {
	b, err := s.Serializer.Encode(e)
	if err != nil {
		return fmt.Errorf("encode event for transport: %w", err)
	}
	return s.Sender.Send(ctx, partition, b)
}
