package stream_test

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/flow/errs"
	"github.com/coachpo/flow/flow/event"
	"github.com/coachpo/flow/flow/stream"
)

type fakeEvent struct {
	key string
}

func (e fakeEvent) Key() string           { return e.key }
func (e fakeEvent) Variant() reflect.Type { return reflect.TypeOf(e) }

type recordingSubscriber struct {
	mu   sync.Mutex
	keys []string
}

func (s *recordingSubscriber) Deliver(ctx context.Context, key string, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return nil
}

func TestPutDeliversLocallyToSubscribers(t *testing.T) {
	sub := &recordingSubscriber{}
	s := stream.New("trades", stream.Config{PartitionCount: 4})
	defer s.Close()
	s.Subscribe(sub)

	require.NoError(t, s.Put(context.Background(), fakeEvent{key: "BTCUSD"}))

	require.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return len(sub.keys) == 1 && sub.keys[0] == "BTCUSD"
	}, time.Second, 5*time.Millisecond)
}

func TestPutOnClosedStreamIsNoop(t *testing.T) {
	s := stream.New("trades", stream.Config{})
	s.Close()
	require.NoError(t, s.Put(context.Background(), fakeEvent{key: "k"}))
}

// blockingSubscriber parks the stream's run loop inside Deliver until
// release is closed, so the queue behind it can be filled deterministically.
type blockingSubscriber struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSubscriber) Deliver(context.Context, string, event.Event) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-s.release
	return nil
}

func TestPutDropsWhenQueueFullNonBlocking(t *testing.T) {
	sub := &blockingSubscriber{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := stream.New("trades", stream.Config{QueueCapacity: 1, Blocking: false})
	defer s.Close()
	defer close(sub.release)
	s.Subscribe(sub)

	// The first event is taken off the queue by the run loop, which then
	// blocks inside Deliver; the second fills the 1-slot queue; the third
	// finds it full and is dropped without blocking the caller.
	require.NoError(t, s.Put(context.Background(), fakeEvent{key: "k"}))
	<-sub.started
	require.NoError(t, s.Put(context.Background(), fakeEvent{key: "k"}))
	err := s.Put(context.Background(), fakeEvent{key: "k"})
	require.ErrorIs(t, err, errs.New("", errs.CodeQueueOverflow))
}
