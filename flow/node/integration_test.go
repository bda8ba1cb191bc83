package node_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/flow/flow/app"
	"github.com/coachpo/flow/flow/dispatch"
	"github.com/coachpo/flow/flow/event"
	"github.com/coachpo/flow/flow/pe"
	"github.com/coachpo/flow/flow/stream"
)

type producerLifecycle struct{}

func (producerLifecycle) Init(a *app.App) error {
	_, err := a.NewStream("tape", stream.Config{})
	return err
}
func (producerLifecycle) Start(*app.App) error { return nil }

type asyncOutputClass struct {
	fired int32
}

func (c *asyncOutputClass) Name() string     { return "integration.AsyncOutput" }
func (c *asyncOutputClass) NewState() any    { return struct{}{} }
func (c *asyncOutputClass) ThreadSafe() bool { return true }

func (c *asyncOutputClass) RegisterInput(b *dispatch.Builder) {
	pe.Bind(b, tickPayload{}, func(context.Context, *pe.Instance, event.Event) error { return nil })
}
func (c *asyncOutputClass) RegisterOutput(b *dispatch.Builder) {
	pe.Bind(b, event.TimerEvent{}, func(context.Context, *pe.Instance, event.Event) error {
		atomic.AddInt32(&c.fired, 1)
		return nil
	})
}
func (c *asyncOutputClass) OnCreate(*pe.Instance) error { return nil }
func (c *asyncOutputClass) OnRemove(*pe.Instance)       {}

type tickPayload struct{ N int }

type consumerLifecycle struct {
	class     *asyncOutputClass
	prototype *pe.Prototype
}

func (c *consumerLifecycle) Init(a *app.App) error {
	tape, err := a.NewStream("tape", stream.Config{})
	if err != nil {
		return err
	}
	c.class = &asyncOutputClass{}
	c.prototype = pe.NewPrototype(c.class, pe.Config{
		OutputInterval: 20 * time.Millisecond,
		OutputOnEvent:  false,
	})
	tape.Subscribe(c.prototype)
	a.RegisterPrototype(c.prototype)
	return nil
}
func (c *consumerLifecycle) Start(*app.App) error { return nil }

// TestTwoAppsWiredBySubscribeReplicateTimeBasedOutput boots a producer App
// and a consumer App in one process, wires the consumer's "tape" stream to
// the producer's identically named stream via App.Subscribe, and asserts
// the consumer PE's time-based output trigger fires on its own schedule
// (scenario 5: time-based asynchronous output), independent of any further
// events arriving on the stream.
func TestTwoAppsWiredBySubscribeReplicateTimeBasedOutput(t *testing.T) {
	producer := app.New("producer", producerLifecycle{})
	require.NoError(t, producer.Init())
	require.NoError(t, producer.Start())
	defer producer.Close()

	consumerLife := &consumerLifecycle{}
	consumer := app.New("consumer", consumerLife)
	require.NoError(t, consumer.Init())
	require.NoError(t, consumer.Start())
	defer consumer.Close()

	require.NoError(t, consumer.Subscribe("tape", producer))

	producerTape, ok := producer.Stream("tape")
	require.True(t, ok)
	require.NoError(t, producerTape.Put(context.Background(), event.NewTyped("k", tickPayload{N: 1})))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&consumerLife.class.fired) > 0
	}, time.Second, 5*time.Millisecond)
}
