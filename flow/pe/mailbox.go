package pe

import (
	"context"
)

// submit delivers a job to the instance, obeying §5's per-instance
// serialization discipline: thread-safe classes dispatch on the calling
// goroutine directly (a pool-of-concurrent-consumers by construction), every
// other class enqueues onto the instance's mailbox and, if no drain is
// currently running for this instance, schedules one on the prototype's
// shared worker pool. Exactly one drain goroutine ever runs per instance at
// a time, which is the serialization invariant of §4.4/§5.
func (inst *Instance) submit(ctx context.Context, job mailboxJob) error {
	if inst.proto.threadSafe {
		inst.process(job)
		return nil
	}
	select {
	case inst.mailbox <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	inst.scheduleDrain()
	return nil
}

func (inst *Instance) scheduleDrain() {
	inst.drainMu.Lock()
	if inst.draining {
		inst.drainMu.Unlock()
		return
	}
	inst.draining = true
	inst.drainMu.Unlock()
	inst.proto.pool.Go(func() {
		inst.drainLoop()
	})
}

// drainLoop processes queued jobs until the mailbox is empty, then releases
// the drain flag. The empty-check and the flag release happen under drainMu
// as one step, so a submit() arriving concurrently either lands inside that
// step (and gets processed without this goroutine ever giving up ownership)
// or strictly after it (and safely schedules a fresh drain). Checking the
// mailbox and clearing the flag separately, or handing the job back to the
// channel for a new owner to find, both leave a window where the job is
// re-queued after the new owner already checked and exited, stranding it
// with no goroutine left to drain it.
func (inst *Instance) drainLoop() {
	for {
		select {
		case job := <-inst.mailbox:
			inst.process(job)
			continue
		default:
		}

		inst.drainMu.Lock()
		select {
		case job := <-inst.mailbox:
			inst.drainMu.Unlock()
			inst.process(job)
		default:
			inst.draining = false
			inst.drainMu.Unlock()
			return
		}
	}
}
