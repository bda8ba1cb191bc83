package pe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/coachpo/flow/flow/event"
)

type jobKind int

const (
	kindInput jobKind = iota
	kindTimer
	kindEvict
)

type mailboxJob struct {
	kind  jobKind
	ctx   context.Context
	event event.Event

	// fn and done carry a kindEvict job: fn is the exclusive work to run
	// (Class.OnRemove), done is closed once it has.
	fn   func()
	done chan struct{}
}

// Instance is a live per-key copy of a Prototype (§4.3). Unlike the source's
// shallow clone, user state is never copied: it is constructed fresh by
// Class.NewState for each new key.
type Instance struct {
	proto *Prototype
	id    string
	state any

	eventCount uint64

	// pendingTimedOutput is the §4.5 outputOnEvent=true flag: set by a timer
	// tick, consumed (and cleared) by the next input event this instance
	// receives.
	pendingTimedOutput int32

	mailbox chan mailboxJob

	// drainMu guards draining so the "is anyone draining, and is the
	// mailbox really empty" check is one atomic step. See drainLoop: a
	// lock-free CAS version of this check raced with submit's own
	// scheduleDrain call and could strand a just-re-queued job with no
	// goroutine left to pick it up.
	drainMu  sync.Mutex
	draining bool
}

func newInstance(proto *Prototype, key string) *Instance {
	return &Instance{
		proto:   proto,
		id:      key,
		state:   proto.class.NewState(),
		mailbox: make(chan mailboxJob, proto.mailboxCapacity),
	}
}

// ID returns the routing key this instance was created for.
func (inst *Instance) ID() string { return inst.id }

// State returns the per-instance user state produced by Class.NewState.
// Callers type-assert it to their concrete state type.
func (inst *Instance) State() any { return inst.state }

// EventCount reports the number of input events processed so far.
func (inst *Instance) EventCount() uint64 {
	return atomic.LoadUint64(&inst.eventCount)
}

// Class returns the owning prototype's Class.
func (inst *Instance) Class() Class { return inst.proto.class }

// runExclusive runs fn under the same per-instance serialization as
// input/output job processing, then blocks until it has run. This is how
// eviction invokes Class.OnRemove: routing it through the instance's own
// mailbox means OnRemove can never overlap a drain goroutine mid-process for
// a non-thread-safe class, instead of calling it directly on the evicting
// goroutine (the registry's sweep goroutine, or whichever goroutine called
// Remove/RemoveAll) with no coordination at all.
func (inst *Instance) runExclusive(fn func()) {
	done := make(chan struct{})
	_ = inst.submit(context.Background(), mailboxJob{kind: kindEvict, fn: fn, done: done})
	<-done
}
