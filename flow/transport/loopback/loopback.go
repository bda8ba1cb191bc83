// Package loopback implements an in-process transport.Sender/Receiver pair
// for single-node runs and tests, where every partition is local and no real
// network hop is needed.
package loopback

import (
	"context"
	"sync"

	"github.com/coachpo/flow/errs"
)

type message struct {
	payload   []byte
	partition int
}

// Transport is a shared in-process channel pairing a Sender and Receiver.
type Transport struct {
	ch     chan message
	once   sync.Once
	closed chan struct{}
}

// New constructs a Transport with the given buffer depth.
func New(capacity int) *Transport {
	if capacity <= 0 {
		capacity = 64
	}
	return &Transport{ch: make(chan message, capacity), closed: make(chan struct{})}
}

// Send implements transport.Sender.
func (t *Transport) Send(ctx context.Context, partition int, payload []byte) error {
	select {
	case t.ch <- message{payload: payload, partition: partition}:
		return nil
	case <-t.closed:
		return errs.New("transport/loopback", errs.CodeTransport, errs.WithMessage("transport closed"))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv implements transport.Receiver.
func (t *Transport) Recv(ctx context.Context) ([]byte, int, error) {
	select {
	case m := <-t.ch:
		return m.payload, m.partition, nil
	case <-t.closed:
		return nil, 0, errs.New("transport/loopback", errs.CodeTransport, errs.WithMessage("transport closed"))
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

// Close implements transport.Receiver.
func (t *Transport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}
