package dataloader

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedupeConcurrentCallersShareOneComputation(t *testing.T) {
	const callers = 10000
	d := NewDedupe[int, string](false)

	var computed atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := d.Do(context.Background(), 1, func(context.Context) (string, error) {
				computed.Add(1)
				<-release
				return "v", nil
			})
			if err == nil {
				results[i] = v
			}
		}(i)
	}
	// hold the computation until every other caller has joined it
	for d.waiting(1) < callers-1 {
		runtime.Gosched()
	}
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), computed.Load())
	for _, v := range results {
		require.Equal(t, "v", v)
	}
	require.Equal(t, 0, d.Len())
}

func TestDedupePersist(t *testing.T) {
	d := NewDedupe[string, int](true)
	var computed int
	fn := func(context.Context) (int, error) {
		computed++
		return computed, nil
	}
	v1, _ := d.Do(context.Background(), "k", fn)
	v2, _ := d.Do(context.Background(), "k", fn)
	require.Equal(t, 1, v1)
	require.Equal(t, 1, v2)
	require.Equal(t, 1, computed)
}

func TestDedupeDoesNotPersistErrors(t *testing.T) {
	d := NewDedupe[string, int](true)
	boom := errors.New("boom")
	_, err := d.Do(context.Background(), "k", func(context.Context) (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	v, err := d.Do(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestDedupeWaiterHonorsContext(t *testing.T) {
	d := NewDedupe[string, int](false)
	release := make(chan struct{})
	go func() {
		_, _ = d.Do(context.Background(), "k", func(context.Context) (int, error) {
			<-release
			return 1, nil
		})
	}()
	for d.Len() == 0 {
		runtime.Gosched()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Do(ctx, "k", func(context.Context) (int, error) { return 2, nil })
	require.ErrorIs(t, err, context.Canceled)
	close(release)
}

func TestDedupeReleasesWaitersWhenComputationPanics(t *testing.T) {
	d := NewDedupe[string, int](false)
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		defer func() { _ = recover() }()
		_, _ = d.Do(context.Background(), "k", func(context.Context) (int, error) {
			close(started)
			<-release
			panic("boom")
		})
	}()
	<-started

	errc := make(chan error, 1)
	go func() {
		_, err := d.Do(context.Background(), "k", func(context.Context) (int, error) { return 2, nil })
		errc <- err
	}()
	require.Eventually(t, func() bool { return d.waiting("k") == 1 }, time.Second, time.Millisecond)
	close(release)

	select {
	case err := <-errc:
		require.ErrorContains(t, err, "panicked")
	case <-time.After(time.Second):
		t.Fatal("waiter blocked after the computation panicked")
	}
	require.Zero(t, d.Len())
}
