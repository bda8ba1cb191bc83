package node_test

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/flow/flow/app"
	"github.com/coachpo/flow/flow/config"
	"github.com/coachpo/flow/flow/event"
	"github.com/coachpo/flow/flow/node"
	"github.com/coachpo/flow/flow/node/archive"
	"github.com/coachpo/flow/flow/stream"
)

type producerApp struct {
	started bool
	ticks   *stream.Stream
}

func (p *producerApp) Init(a *app.App) error {
	s, err := a.NewStream("ticks", stream.Config{})
	p.ticks = s
	return err
}
func (p *producerApp) Start(a *app.App) error { p.started = true; return nil }

// recordingSubscriber counts every event delivered to it, standing in for a
// PE prototype so the test can observe cross-app wiring without depending on
// flow/pe.
type recordingSubscriber struct{ received int32 }

func (r *recordingSubscriber) Deliver(_ context.Context, _ string, _ event.Event) error {
	atomic.AddInt32(&r.received, 1)
	return nil
}

type consumerApp struct {
	started bool
	sub     *recordingSubscriber
}

func (c *consumerApp) Init(a *app.App) error {
	s, err := a.NewStream("ticks", stream.Config{})
	if err != nil {
		return err
	}
	c.sub = &recordingSubscriber{}
	s.Subscribe(c.sub)
	return nil
}
func (c *consumerApp) Start(a *app.App) error { c.started = true; return nil }

var (
	lastProducer *producerApp
	lastConsumer *consumerApp
)

func init() {
	archive.RegisterAppClass("nodetest.Producer", func(name string) *app.App {
		p := &producerApp{}
		lastProducer = p
		return app.New(name, p)
	})
	archive.RegisterAppClass("nodetest.Consumer", func(name string) *app.App {
		c := &consumerApp{}
		lastConsumer = c
		return app.New(name, c)
	})
}

func writeArchive(t *testing.T, dir, filename, manifestYAML string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, filename))
	require.NoError(t, err)
	defer f.Close()
	zw := zip.NewWriter(f)
	w, err := zw.Create("manifest.yaml")
	require.NoError(t, err)
	_, err = w.Write([]byte(manifestYAML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
}

func TestStartLoadsWiresAndStartsApps(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "a-producer.s4r", "app_class: nodetest.Producer\nname: producer\n")
	writeArchive(t, dir, "b-consumer.s4r", "app_class: nodetest.Consumer\nname: consumer\n")

	cfg := config.DefaultNodeConfig()
	cfg.AppsDir = dir

	n, err := node.Start(cfg, nil)
	require.NoError(t, err)
	require.Len(t, n.Apps(), 2)

	producer, err := n.App("producer")
	require.NoError(t, err)
	consumer, err := n.App("consumer")
	require.NoError(t, err)
	require.Contains(t, producer.EventSources(), "ticks")
	require.Contains(t, consumer.EventSources(), "ticks")

	// wireSubscriptions only has anything to connect once Init has already
	// built each App's streams; this puts an event on the producer's stream
	// and confirms it actually reaches the consumer's subscriber, not just
	// that both sides declare a "ticks" stream.
	require.NoError(t, lastProducer.ticks.Put(context.Background(), event.NewTyped("k", struct{ N int }{N: 1})))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&lastConsumer.sub.received) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, n.Close(context.Background()))
}
