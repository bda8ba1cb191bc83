package registry_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/flow/flow/registry"
)

func TestGetOrCreateCreatesOnce(t *testing.T) {
	var created int32
	r := registry.New(0, nil, nil)

	newFn := func() any {
		atomic.AddInt32(&created, 1)
		return "instance"
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.GetOrCreate("k", newFn, nil)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&created), "only one instance should win the race")
	require.Equal(t, 1, r.Len())
}

func TestGetOrCreateRunsOnCreateOnlyForWinner(t *testing.T) {
	r := registry.New(0, nil, nil)
	var onCreateCalls int32

	newFn := func() any { return new(int) }
	onCreate := func(any) error {
		atomic.AddInt32(&onCreateCalls, 1)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.GetOrCreate("key", newFn, onCreate)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&onCreateCalls))
}

func TestGetOrCreateFailedOnCreateLeavesNoEntry(t *testing.T) {
	r := registry.New(0, nil, nil)
	boom := errors.New("boom")

	_, err := r.GetOrCreate("k", func() any { return "v" }, func(any) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, r.Len())

	_, ok := r.Get("k")
	require.False(t, ok)
}

func TestRemoveAllInvokesEvictOncePerInstance(t *testing.T) {
	var evicted []string
	var mu sync.Mutex
	r := registry.New(0, func(key string, value any) {
		mu.Lock()
		evicted = append(evicted, key)
		mu.Unlock()
	}, nil)

	for _, k := range []string{"a", "b", "c"} {
		_, err := r.GetOrCreate(k, func() any { return k }, nil)
		require.NoError(t, err)
	}

	r.RemoveAll()
	require.Equal(t, 0, r.Len())
	require.ElementsMatch(t, []string{"a", "b", "c"}, evicted)

	// Idempotent: a second RemoveAll touches nothing further.
	r.RemoveAll()
	require.ElementsMatch(t, []string{"a", "b", "c"}, evicted)
}

func TestExpirationEvictsIdleEntries(t *testing.T) {
	var evictedKey string
	var evictedOnce sync.Once
	done := make(chan struct{})

	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	r := registry.New(50*time.Millisecond, func(key string, value any) {
		evictedOnce.Do(func() {
			evictedKey = key
			close(done)
		})
	}, clock)
	defer r.Close()

	_, err := r.GetOrCreate("k", func() any { return "v" }, nil)
	require.NoError(t, err)

	// Advance the fake clock well past the expiration window and let the
	// background sweep (real-time ticker) observe it.
	mu.Lock()
	now = now.Add(250 * time.Millisecond)
	mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected eviction to fire")
	}
	require.Equal(t, "k", evictedKey)
	require.Equal(t, 0, r.Len())
}

func TestCloseIsIdempotentAndStopsSweep(t *testing.T) {
	r := registry.New(10*time.Millisecond, nil, nil)
	r.Close()
	require.NotPanics(t, func() { r.Close() })
}
