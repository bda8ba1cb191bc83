// Package stream implements the named routed queue of §4.6: partition a
// keyed event, then either enqueue it locally for every subscribed PE
// prototype or hand it to the transport Sender for a remote partition.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/coachpo/flow/errs"
	"github.com/coachpo/flow/flow/event"
	"github.com/coachpo/flow/flow/observability"
	"github.com/coachpo/flow/flow/partition"
)

const defaultQueueCapacity = 256

// KeyFunc extracts the routing key from an event, the "key extractor"
// provided per stream in §4.6. A nil KeyFunc falls back to event.Event.Key.
type KeyFunc func(e event.Event) string

// Subscriber is satisfied by *pe.Prototype's Deliver method. Declared here,
// rather than imported from flow/pe, so the stream fabric has no
// import-time dependency on the PE runtime (§9's weak-link guidance).
type Subscriber interface {
	Deliver(ctx context.Context, key string, e event.Event) error
}

// Sender hands an event bound for a remote partition to the comm layer
// (§6's Emitter seam, named Sender here to match spec.md's component list).
type Sender interface {
	Send(ctx context.Context, partition int, e event.Event) error
}

// Config configures a Stream at construction.
type Config struct {
	KeyFunc        KeyFunc
	Hasher         partition.Hasher
	PartitionCount int
	// IsLocal reports whether a partition index is owned by this node.
	// Defaults to "every partition is local" for single-node runs.
	IsLocal func(partition int) bool
	Sender  Sender
	// QueueCapacity bounds the stream's own delivery queue. Defaults to 256.
	QueueCapacity int
	// Blocking selects the §7 QueueOverflow policy: true blocks Put until
	// space frees or the context is cancelled; false drops with a warning
	// and a QueueOverflow metric increment.
	Blocking bool
	Metrics  *observability.Metrics
}

// Stream is the named routed queue described in §4.6.
type Stream struct {
	name string
	cfg  Config

	mu          sync.Mutex
	subscribers []Subscriber

	queue  chan event.Event
	closed int32
	once   sync.Once
	done   chan struct{}
}

// New constructs and starts a Stream named name.
func New(name string, cfg Config) *Stream {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.IsLocal == nil {
		cfg.IsLocal = func(int) bool { return true }
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics()
	}
	s := &Stream{
		name:  name,
		cfg:   cfg,
		queue: make(chan event.Event, cfg.QueueCapacity),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Name returns the stream's stable name, used to wire cross-app dependencies
// (§4.7).
func (s *Stream) Name() string { return s.name }

// Subscribe registers a PE prototype as a local subscriber of this stream.
func (s *Stream) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// Put extracts e's key, hashes it to a partition, and enqueues it for local
// delivery or remote send, per §4.6. Closed streams log a warning and
// return nil (documented no-op, §4.6).
func (s *Stream) Put(ctx context.Context, e event.Event) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		observability.Log().Info("put on closed stream ignored", observability.Field{Key: "stream", Value: s.name})
		return nil
	}

	if s.cfg.Blocking {
		select {
		case s.queue <- e:
			s.cfg.Metrics.QueueDepth.Add(ctx, 1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case s.queue <- e:
		s.cfg.Metrics.QueueDepth.Add(ctx, 1)
		return nil
	default:
		s.cfg.Metrics.QueueOverflow.Add(ctx, 1)
		observability.Log().Error("stream queue overflow, event dropped", observability.Field{Key: "stream", Value: s.name})
		return errs.New("stream/put", errs.CodeQueueOverflow, errs.WithMessage("stream "+s.name+" queue is full"))
	}
}

func (s *Stream) run() {
	defer close(s.done)
	for e := range s.queue {
		s.cfg.Metrics.QueueDepth.Add(context.Background(), -1)
		s.dispatch(e)
	}
}

func (s *Stream) dispatch(e event.Event) {
	key := e.Key()
	if s.cfg.KeyFunc != nil {
		key = s.cfg.KeyFunc(e)
	}
	idx := partition.Of(s.cfg.Hasher, key, s.cfg.PartitionCount)

	if s.cfg.IsLocal(idx) {
		s.mu.Lock()
		subs := append([]Subscriber(nil), s.subscribers...)
		s.mu.Unlock()
		for _, sub := range subs {
			if err := sub.Deliver(context.Background(), key, e); err != nil {
				observability.Log().Error("subscriber delivery failed",
					observability.Field{Key: "stream", Value: s.name},
					observability.Field{Key: "error", Value: err})
			}
		}
		return
	}

	if s.cfg.Sender == nil {
		observability.Log().Error("no sender configured for remote partition",
			observability.Field{Key: "stream", Value: s.name}, observability.Field{Key: "partition", Value: idx})
		return
	}
	if err := s.cfg.Sender.Send(context.Background(), idx, e); err != nil {
		observability.Log().Error("transport send failed",
			observability.Field{Key: "stream", Value: s.name}, observability.Field{Key: "error", Value: err})
	}
}

// Close drains then shuts down the queue. Idempotent.
func (s *Stream) Close() {
	s.once.Do(func() {
		atomic.StoreInt32(&s.closed, 1)
		close(s.queue)
		<-s.done
	})
}
