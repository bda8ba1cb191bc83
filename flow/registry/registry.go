// Package registry implements the PE instance registry of §4.2: a
// concurrent key → instance map with lazy insert-if-absent creation,
// optional access-based expiration, and an eviction callback. It is
// deliberately generic over the stored value (any) so flow/pe can layer PE
// lifecycle semantics (onCreate/onRemove, back-references) on top without a
// circular import.
package registry

import (
	"sync"
	"time"
)

// EvictFunc is invoked exactly once per freed slot, before the slot is
// removed from the map (§4.2: "Eviction MUST invoke onRemove() on the
// instance before the slot is freed").
type EvictFunc func(key string, value any)

type entry struct {
	value      any
	lastAccess time.Time
}

// Registry is the concurrent key → instance map described in §4.2.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	expireAfter time.Duration
	onEvict     EvictFunc
	clock       func() time.Time

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New constructs a Registry. expireAfter of 0 disables access-based
// expiration (§3: "expiration policy: none | expire-after-access(d)"). clock
// defaults to time.Now; tests may override it to make expiration
// deterministic.
func New(expireAfter time.Duration, onEvict EvictFunc, clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	r := &Registry{
		entries:     make(map[string]*entry),
		expireAfter: expireAfter,
		onEvict:     onEvict,
		clock:       clock,
	}
	if expireAfter > 0 {
		r.startSweep()
	}
	return r
}

// Get returns the instance for key, resetting its access time, or false if
// absent.
func (r *Registry) Get(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	e.lastAccess = r.clock()
	return e.value, true
}

// GetOrCreate implements the 6-step lookup/create contract of §4.2:
//  1. If present, return the existing instance (access time refreshed).
//  2. Otherwise call newFn to allocate a fresh instance (no onCreate yet).
//  3. Attempt an atomic insert-if-absent.
//  4. If another caller won the race, discard the new instance — newFn's
//     result is simply dropped, onCreateFn is never invoked on it — and
//     return the winner.
//  5. On a won race, run onCreateFn on the instance.
//  6. If onCreateFn fails, remove the entry and propagate the error,
//     leaving the registry as if the instance had never been inserted.
func (r *Registry) GetOrCreate(key string, newFn func() any, onCreateFn func(any) error) (any, error) {
	if v, ok := r.Get(key); ok {
		return v, nil
	}

	candidate := newFn()

	r.mu.Lock()
	if existing, ok := r.entries[key]; ok {
		existing.lastAccess = r.clock()
		r.mu.Unlock()
		return existing.value, nil
	}
	r.entries[key] = &entry{value: candidate, lastAccess: r.clock()}
	r.mu.Unlock()

	if onCreateFn != nil {
		if err := onCreateFn(candidate); err != nil {
			r.mu.Lock()
			delete(r.entries, key)
			r.mu.Unlock()
			return nil, err
		}
	}
	return candidate, nil
}

// Remove evicts the entry for key, invoking onEvict if present. It is a
// no-op if the key is absent.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if ok && r.onEvict != nil {
		r.onEvict(key, e.value)
	}
}

// RemoveAll evicts every entry, invoking onEvict once per instance (§4.2
// Teardown). The registry remains usable afterward.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	snapshot := make(map[string]any, len(r.entries))
	for k, e := range r.entries {
		snapshot[k] = e.value
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	if r.onEvict == nil {
		return
	}
	for k, v := range snapshot {
		r.onEvict(k, v)
	}
}

// Range calls fn for every live entry at the time of the call, refreshing no
// access times. Used by the output scheduler (§4.5) to enumerate instances
// for time-based, non-event-coupled ticks.
func (r *Registry) Range(fn func(key string, value any)) {
	r.mu.Lock()
	snapshot := make(map[string]any, len(r.entries))
	for k, e := range r.entries {
		snapshot[k] = e.value
	}
	r.mu.Unlock()
	for k, v := range snapshot {
		fn(k, v)
	}
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops the background expiration sweep, if running. It does not
// evict entries; callers wanting onRemove semantics on shutdown should call
// RemoveAll first. Idempotent: calling Close twice is a no-op the second
// time.
func (r *Registry) Close() {
	r.mu.Lock()
	stop, done := r.sweepStop, r.sweepDone
	r.sweepStop, r.sweepDone = nil, nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (r *Registry) startSweep() {
	interval := r.expireAfter / 4
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	r.sweepStop = make(chan struct{})
	r.sweepDone = make(chan struct{})
	go func() {
		defer close(r.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.sweepStop:
				return
			case <-ticker.C:
				r.sweepOnce()
			}
		}
	}()
}

// sweepOnce evicts entries idle for at least expireAfter. Eviction timing is
// best-effort (§9 open question): a periodic sweep, not a precise per-entry
// timer.
func (r *Registry) sweepOnce() {
	now := r.clock()
	r.mu.Lock()
	var expired []string
	for k, e := range r.entries {
		if now.Sub(e.lastAccess) >= r.expireAfter {
			expired = append(expired, k)
		}
	}
	evicted := make(map[string]any, len(expired))
	for _, k := range expired {
		evicted[k] = r.entries[k].value
		delete(r.entries, k)
	}
	r.mu.Unlock()

	if r.onEvict == nil {
		return
	}
	for k, v := range evicted {
		r.onEvict(k, v)
	}
}
