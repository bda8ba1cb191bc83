// Package node wires a single process's node-level lifecycle: load
// configuration, load every application archive in the configured
// directory, wire declared cross-app stream subscriptions, then start every
// App. Grounded in the teacher's cmd/gateway wiring and graceful shutdown
// sequence, generalized from one fixed pipeline to a dynamic set of loaded
// Apps (spec.md §6).
package node

import (
	"context"
	"fmt"
	"sort"

	"github.com/coachpo/flow/errs"
	"github.com/coachpo/flow/flow/app"
	"github.com/coachpo/flow/flow/config"
	"github.com/coachpo/flow/flow/node/archive"
	"github.com/coachpo/flow/flow/observability"
	"github.com/coachpo/flow/flow/snapshot"
)

// Node owns every App loaded from the configured archive directory.
type Node struct {
	cfg   config.NodeConfig
	loads []archive.Loaded
}

// Start validates cfg, scans appsDir for archives, inits every loaded
// App (which is what builds the streams each App exposes), wires declared
// cross-app stream subscriptions, and finally starts every App's lifecycle,
// in that order (spec.md §6). Wiring must run after Init, not before: an
// App's streams don't exist until its own Init hook has built them, so
// wiring subscriptions any earlier would silently find nothing to connect.
// A ConfigError aborts immediately. An app whose Init fails is logged and
// dropped; an app whose Start fails is logged and stays in Apps(); the other
// apps continue either way. sink is optional (nil disables
// snapshotting) and is attached to every loaded App before Init so its
// Lifecycle can wire it into the PE prototypes it constructs.
func Start(cfg config.NodeConfig, sink *snapshot.Sink) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loads, err := archive.ScanAndLoad(cfg.AppsDir)
	if err != nil {
		return nil, err
	}

	n := &Node{cfg: cfg, loads: loads}
	for _, l := range n.loads {
		l.App.SetSnapshot(sink)
	}
	n.initApps()
	n.wireSubscriptions()
	n.startApps()
	return n, nil
}

// wireSubscriptions connects every App's declared EventSources to any other
// App's local stream of the same name, per spec.md §6: "an App exporting an
// EventSource named N is subscribed by any App that declares a stream with
// the matching dependency tag."
func (n *Node) wireSubscriptions() {
	for _, consumer := range n.loads {
		for _, name := range consumer.App.EventSources() {
			for _, producer := range n.loads {
				if producer.App == consumer.App {
					continue
				}
				if _, ok := producer.App.Stream(name); !ok {
					continue
				}
				if err := consumer.App.Subscribe(name, producer.App); err != nil {
					observability.Log().Error("stream subscription wiring failed",
						observability.Field{Key: "stream", Value: name},
						observability.Field{Key: "consumer", Value: consumer.App.Name()},
						observability.Field{Key: "producer", Value: producer.App.Name()},
						observability.Field{Key: "error", Value: err})
				}
			}
		}
	}
}

// initApps runs every loaded App's Init hook, in Path order. An App whose
// Init fails is dropped from n.loads entirely: wireSubscriptions must never
// see it, since it has no streams to offer or subscribe.
func (n *Node) initApps() {
	sort.Slice(n.loads, func(i, j int) bool { return n.loads[i].Path < n.loads[j].Path })
	live := n.loads[:0]
	for _, l := range n.loads {
		if err := l.App.Init(); err != nil {
			observability.Log().Error("app init failed, skipping",
				observability.Field{Key: "app", Value: l.App.Name()},
				observability.Field{Key: "error", Value: err})
			continue
		}
		live = append(live, l)
	}
	n.loads = live
}

// startApps runs every remaining loaded App's Start hook.
func (n *Node) startApps() {
	for _, l := range n.loads {
		if err := l.App.Start(); err != nil {
			observability.Log().Error("app start failed",
				observability.Field{Key: "app", Value: l.App.Name()},
				observability.Field{Key: "error", Value: err})
		}
	}
}

// Apps returns every successfully loaded App, in load order.
func (n *Node) Apps() []*app.App {
	apps := make([]*app.App, 0, len(n.loads))
	for _, l := range n.loads {
		apps = append(apps, l.App)
	}
	return apps
}

// App looks up a loaded App by name.
func (n *Node) App(name string) (*app.App, error) {
	for _, l := range n.loads {
		if l.App.Name() == name {
			return l.App, nil
		}
	}
	return nil, errs.New("node/app", errs.CodeNotFound, errs.WithMessage(fmt.Sprintf("no loaded app named %q", name)))
}

// Close tears down every loaded App in reverse load order.
func (n *Node) Close(_ context.Context) error {
	for i := len(n.loads) - 1; i >= 0; i-- {
		n.loads[i].App.Close()
	}
	return nil
}
