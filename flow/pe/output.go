package pe

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/coachpo/flow/errs"
	"github.com/coachpo/flow/flow/event"
	"github.com/coachpo/flow/flow/observability"
)

// process runs one mailbox job under the instance's serialization
// discipline (already held by the caller, whether that's the calling
// goroutine for thread-safe classes or the instance's own drain goroutine).
func (inst *Instance) process(job mailboxJob) {
	switch job.kind {
	case kindTimer:
		inst.dispatchOutput(job.ctx, job.event)
	case kindEvict:
		job.fn()
		close(job.done)
	default:
		inst.processInput(job.ctx, job.event)
	}
}

// processInput implements steps 3-5 of §4.4's handle(event) path: increment
// eventCount, dispatch input, and dispatch output once per trigger that is
// due. Per §4.5 the count-based and time-based triggers are independent —
// both may fire on the same event, running the output handler twice.
func (inst *Instance) processInput(ctx context.Context, e event.Event) {
	count := atomic.AddUint64(&inst.eventCount, 1)

	if err := inst.proto.inputTable.Dispatch(ctx, inst, e); err != nil {
		inst.logUserHandlerIfNeeded(e, err)
	}

	n := inst.proto.outputEveryN
	countTriggered := n > 0 && count%uint64(n) == 0
	timerTriggered := atomic.CompareAndSwapInt32(&inst.pendingTimedOutput, 1, 0)

	if countTriggered {
		inst.dispatchOutput(ctx, e)
	}
	if timerTriggered {
		inst.dispatchOutput(ctx, e)
	}
}

func (inst *Instance) dispatchOutput(ctx context.Context, e event.Event) {
	if err := inst.proto.outputTable.Dispatch(ctx, inst, e); err != nil {
		inst.logUserHandlerIfNeeded(e, err)
		return
	}
	inst.proto.metrics.OutputTriggered.Add(ctx, 1)
}

var dispatchMissSentinel = errs.New("", errs.CodeDispatchMiss)

// logUserHandlerIfNeeded swallows dispatch.Table's own DispatchMiss error
// (already logged by the table itself) and otherwise logs a user handler
// failure with PE class, key and event variant, per §7: the event is
// considered processed and instance state is not rolled back.
func (inst *Instance) logUserHandlerIfNeeded(e event.Event, err error) {
	if errors.Is(err, dispatchMissSentinel) {
		return
	}
	wrapped := inst.proto.errUserHandler(inst.id, e.Variant().String(), err)
	observability.Log().Error("PE user handler failed", observability.Field{Key: "error", Value: wrapped})
}

// SetOutputEveryN reconfigures the count-based output policy. N = 0
// disables it (§4.5).
func (p *Prototype) SetOutputEveryN(n int) {
	p.outputEveryN = n
}

// SetOutputInterval (re)configures the time-based output policy per §4.5's
// timer lifecycle: starting the timer at the first call with interval > 0,
// cancelling and restarting on every later call, and cancelling outright
// when interval == 0.
func (p *Prototype) SetOutputInterval(interval time.Duration, onEvent bool) {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()

	p.stopTimerLocked()
	p.interval = interval
	p.onEvent = onEvent
	if interval > 0 {
		p.startTimerLocked()
	}
}

func (p *Prototype) startTimerLocked() {
	stop := make(chan struct{})
	done := make(chan struct{})
	p.stopCh = stop
	p.doneCh = done
	interval := p.interval
	onEvent := p.onEvent

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.onTick(onEvent)
			}
		}
	}()
}

func (p *Prototype) stopTimerLocked() {
	if p.stopCh == nil {
		return
	}
	close(p.stopCh)
	<-p.doneCh
	p.stopCh = nil
	p.doneCh = nil
}

// onTick fires one timer period. outputOnEvent=true sets the pending flag on
// every live instance, consumed by that instance's next input event.
// outputOnEvent=false synthesizes a TimerEvent per live instance and
// dispatches it through the output table directly, under that instance's own
// mailbox serialization (§4.5's concurrency contract). When a Snapshotter is
// configured, every live instance's state is also recorded this tick,
// independent of the onEvent branch below.
func (p *Prototype) onTick(onEvent bool) {
	now := time.Now()
	p.registry.Range(func(key string, value any) {
		inst := value.(*Instance)
		if p.snapshot != nil {
			p.recordSnapshot(inst)
		}
		if onEvent {
			atomic.StoreInt32(&inst.pendingTimedOutput, 1)
			return
		}
		timerEvent := event.TimerEvent{Prototype: p.class.Name(), Instance: key, FiredAt: now}
		_ = inst.submit(context.Background(), mailboxJob{kind: kindTimer, ctx: context.Background(), event: timerEvent})
	})
}

// recordSnapshot serializes inst's current state to JSON and hands it to the
// configured Snapshotter. Best-effort: a marshal failure is logged and
// swallowed, matching the sink's own non-durable contract.
func (p *Prototype) recordSnapshot(inst *Instance) {
	state, err := gojson.Marshal(inst.State())
	if err != nil {
		observability.Log().Error("snapshot state marshal failed",
			observability.Field{Key: "prototype", Value: p.class.Name()},
			observability.Field{Key: "instance", Value: inst.ID()},
			observability.Field{Key: "error", Value: err})
		return
	}
	p.snapshot.Record(context.Background(), p.class.Name(), inst.ID(), inst.EventCount(), state)
}

