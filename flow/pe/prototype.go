package pe

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/flow/errs"
	"github.com/coachpo/flow/flow/dispatch"
	"github.com/coachpo/flow/flow/event"
	"github.com/coachpo/flow/flow/observability"
	"github.com/coachpo/flow/flow/registry"
)

const defaultMailboxCapacity = 64

// Snapshotter receives a periodic, best-effort copy of one instance's state
// for external debug inspection. *snapshot.Sink implements this; declared
// locally so this package has no import-time dependency on flow/snapshot,
// mirroring flow/app's Closer seam.
type Snapshotter interface {
	Record(ctx context.Context, prototype, instance string, eventCount uint64, state []byte)
}

// Config configures a Prototype at construction time. Zero values disable
// the corresponding policy (§4.5: "N = 0 disables", "setInterval(0)
// cancels").
type Config struct {
	// ExpireAfter enables access-based eviction when > 0 (§4.2).
	ExpireAfter time.Duration
	// OutputEveryN is the count-based output policy (§4.5).
	OutputEveryN int
	// OutputInterval is the time-based output policy's tick period (§4.5).
	OutputInterval time.Duration
	// OutputOnEvent selects the time-based mode: true defers the tick's
	// output to the instance's next input event; false dispatches a
	// synthetic TimerEvent directly, out of band.
	OutputOnEvent bool
	// MailboxCapacity bounds each instance's mailbox. Defaults to 64.
	MailboxCapacity int
	// Workers bounds the prototype's shared drain-goroutine pool. When <= 0
	// the pool is sourcegraph/conc's default, which has no goroutine limit.
	Workers int
	// Clock overrides time.Now, for deterministic expiration tests.
	Clock func() time.Time
	// Metrics receives instrumentation; NewMetrics() is used when nil.
	Metrics *observability.Metrics
	// Snapshot, if non-nil, receives one Record call per live instance on
	// every output-interval tick (nil disables snapshotting; it never runs
	// without a configured OutputInterval, since the scheduler's own tick is
	// what drives it rather than a separate timer).
	Snapshot Snapshotter
}

// Prototype is the configuration template and instance registry for one PE
// class (§4.2). It owns the immutable input/output dispatch tables, the
// instance registry, the output timer, and the shared drain-worker pool.
type Prototype struct {
	class Class

	mailboxCapacity int
	pool            *pool.Pool

	registry *registry.Registry

	inputTable  *dispatch.Table
	outputTable *dispatch.Table

	threadSafeOnce sync.Once
	threadSafe     bool

	outputEveryN int

	timerMu  sync.Mutex
	interval time.Duration
	onEvent  bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	metrics  *observability.Metrics
	snapshot Snapshotter
}

// NewPrototype constructs a Prototype for class, building its input/output
// dispatch tables from the class's registrations (§4.1) and starting its
// output timer if configured (§4.5).
func NewPrototype(class Class, cfg Config) *Prototype {
	inputBuilder := dispatch.NewBuilder(class.Name())
	class.RegisterInput(inputBuilder)
	outputBuilder := dispatch.NewBuilder(class.Name())
	class.RegisterOutput(outputBuilder)

	mailboxCapacity := cfg.MailboxCapacity
	if mailboxCapacity <= 0 {
		mailboxCapacity = defaultMailboxCapacity
	}

	workerPool := pool.New()
	if cfg.Workers > 0 {
		workerPool = workerPool.WithMaxGoroutines(cfg.Workers)
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	p := &Prototype{
		class:           class,
		mailboxCapacity: mailboxCapacity,
		pool:            workerPool,
		inputTable:      inputBuilder.Build(),
		outputTable:     outputBuilder.Build(),
		outputEveryN:    cfg.OutputEveryN,
		metrics:         metrics,
		snapshot:        cfg.Snapshot,
	}
	p.registry = registry.New(cfg.ExpireAfter, p.evict, cfg.Clock)

	if cfg.OutputInterval > 0 {
		p.SetOutputInterval(cfg.OutputInterval, cfg.OutputOnEvent)
	}
	return p
}

// Deliver routes one input event, keyed by key, through the 6-step path of
// §4.4: locate-or-create the instance, serialize, count, dispatch input,
// check output policies, dispatch output when due.
func (p *Prototype) Deliver(ctx context.Context, key string, e event.Event) error {
	inst, err := p.getOrCreate(key)
	if err != nil {
		return err
	}
	return inst.submit(ctx, mailboxJob{kind: kindInput, ctx: ctx, event: e})
}

func (p *Prototype) getOrCreate(key string) (*Instance, error) {
	v, err := p.registry.GetOrCreate(key, func() any {
		return newInstance(p, key)
	}, func(v any) error {
		p.threadSafeOnce.Do(func() {
			p.threadSafe = p.class.ThreadSafe()
		})
		inst := v.(*Instance)
		if err := p.class.OnCreate(inst); err != nil {
			return err
		}
		p.metrics.InstanceCreated.Add(context.Background(), 1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Instance), nil
}

// evict is the registry's EvictFunc for this prototype. OnRemove runs via
// inst.runExclusive so it is serialized against any job the instance's own
// drain goroutine is mid-processing, rather than racing user state from the
// sweep goroutine (or whichever goroutine called Remove/RemoveAll).
func (p *Prototype) evict(key string, value any) {
	inst := value.(*Instance)
	inst.runExclusive(func() {
		p.class.OnRemove(inst)
	})
	p.metrics.InstanceEvicted.Add(context.Background(), 1)
}

// Len reports the number of live instances for this prototype.
func (p *Prototype) Len() int { return p.registry.Len() }

// Close implements §4.2's teardown contract: cancel the output timer, then
// remove every instance, invoking onRemove exactly once each, then close the
// registry itself so its background expiry sweep (started whenever
// ExpireAfter > 0) stops rather than leaking for the life of the process.
// The prototype itself never receives onRemove. Calling Close twice is a
// no-op the second time (idempotent, per §8).
func (p *Prototype) Close() {
	p.timerMu.Lock()
	p.stopTimerLocked()
	p.timerMu.Unlock()

	p.pool.Wait()
	p.registry.RemoveAll()
	p.registry.Close()
}

// errUserHandler wraps a user handler failure with PE context, per §7's
// UserHandlerError logging contract.
func (p *Prototype) errUserHandler(key, variant string, cause error) error {
	return errs.New("pe/dispatch", errs.CodeUserHandler,
		errs.WithPEContext(p.class.Name(), key, variant),
		errs.WithCause(cause))
}
