// Package app implements the root application container of §4.7: the
// init/start/close lifecycle, the PE prototypes and streams an application
// owns, and the explicit cross-app subscription API that replaces the
// source's hardcoded name-matching placeholder (§9).
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/coachpo/flow/errs"
	"github.com/coachpo/flow/flow/event"
	"github.com/coachpo/flow/flow/observability"
	"github.com/coachpo/flow/flow/stream"
)

// Closer is satisfied by *pe.Prototype's Close method. Declared locally so
// App has no import-time dependency on flow/pe, mirroring flow/stream's
// Subscriber seam.
type Closer interface {
	Close()
}

// Snapshotter is satisfied by *snapshot.Sink and matches pe.Snapshotter's
// method set exactly, so a Lifecycle's Init can pass App.Snapshot() straight
// into a pe.Config.Snapshot field without either package importing the
// other.
type Snapshotter interface {
	Record(ctx context.Context, prototype, instance string, eventCount uint64, state []byte)
}

// Lifecycle is implemented by a user application. Init constructs
// prototypes and streams; Start runs any post-init hook (e.g. kicking off a
// poller); Close is never called by the user directly — App.Close drives
// teardown of everything registered via NewStream/RegisterPrototype first.
type Lifecycle interface {
	Init(a *App) error
	Start(a *App) error
}

// App is the root container for a user application (§4.7).
type App struct {
	name string
	life Lifecycle

	mu         sync.Mutex
	streams    map[string]*stream.Stream
	prototypes []Closer
	snapshot   Snapshotter

	started bool
	closed  bool
}

// New constructs an App that will run life's lifecycle hooks.
func New(name string, life Lifecycle) *App {
	return &App{
		name:    name,
		life:    life,
		streams: make(map[string]*stream.Stream),
	}
}

// Name returns the application's name.
func (a *App) Name() string { return a.name }

// NewStream constructs a stream owned by this App and makes it resolvable
// by name for EventSources/Streams exposure and cross-app Subscribe calls.
func (a *App) NewStream(name string, cfg stream.Config) (*stream.Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.streams[name]; exists {
		return nil, errs.New("app/new_stream", errs.CodeConflict, errs.WithMessage(fmt.Sprintf("stream %q already registered", name)))
	}
	s := stream.New(name, cfg)
	a.streams[name] = s
	return s, nil
}

// RegisterPrototype records a PE prototype for teardown on App.Close. Called
// by the application's Init hook once per prototype it constructs.
func (a *App) RegisterPrototype(p Closer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prototypes = append(a.prototypes, p)
}

// SetSnapshot attaches the node-level snapshot sink, if any, so this App's
// Init hook can wire it into the PE prototypes it constructs. Called by
// flow/node before Init, once per loaded App.
func (a *App) SetSnapshot(s Snapshotter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot = s
}

// Snapshot returns the node-level snapshot sink attached via SetSnapshot, or
// nil if none was configured — in which case passing it straight into a
// pe.Config.Snapshot field disables snapshotting for that prototype, since a
// nil Snapshotter and *snapshot.Sink's own nil-safety compose cleanly.
func (a *App) Snapshot() Snapshotter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot
}

// Stream looks up a local stream by name, for wiring subscriptions.
func (a *App) Stream(name string) (*stream.Stream, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.streams[name]
	return s, ok
}

// EventSources returns the names of every stream this App exposes to other
// Apps, per §4.7.
func (a *App) EventSources() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.streams))
	for name := range a.streams {
		names = append(names, name)
	}
	return names
}

// Subscribe wires streamName, exported by from, as a source this App's
// stream of the same name also subscribes to — the explicit replacement for
// the source's hardcoded single-EventSource matching (§9).
func (a *App) Subscribe(streamName string, from *App) error {
	upstream, ok := from.Stream(streamName)
	if !ok {
		return errs.New("app/subscribe", errs.CodeNotFound,
			errs.WithMessage(fmt.Sprintf("app %q exposes no stream named %q", from.name, streamName)))
	}
	local, ok := a.Stream(streamName)
	if !ok {
		return errs.New("app/subscribe", errs.CodeNotFound,
			errs.WithMessage(fmt.Sprintf("app %q declares no local stream named %q", a.name, streamName)))
	}
	upstream.Subscribe(forwardingSubscriber{to: local})
	return nil
}

// forwardingSubscriber re-puts an event onto a local stream of the same
// name, bridging one App's exported stream to another App's local stream.
type forwardingSubscriber struct {
	to *stream.Stream
}

func (f forwardingSubscriber) Deliver(ctx context.Context, _ string, e event.Event) error {
	return f.to.Put(ctx, e)
}

// Init runs the application's Init hook.
func (a *App) Init() error {
	return a.life.Init(a)
}

// Start runs the application's Start hook. Calling Start twice is a no-op
// on the second call.
func (a *App) Start() error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()
	return a.life.Start(a)
}

// Close tears down every registered prototype, then every stream (§4.7:
// "close(): tears down all prototypes, then all streams"). Idempotent.
func (a *App) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	prototypes := append([]Closer(nil), a.prototypes...)
	streams := make([]*stream.Stream, 0, len(a.streams))
	for _, s := range a.streams {
		streams = append(streams, s)
	}
	a.mu.Unlock()

	for _, p := range prototypes {
		p.Close()
	}
	for _, s := range streams {
		s.Close()
	}
	observability.Log().Info("app closed", observability.Field{Key: "app", Value: a.name})
}
