package dataloader

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type recordingLoader struct {
	mu      sync.Mutex
	batches [][]int
	err     error
}

func (r *recordingLoader) Load(_ context.Context, keys []int) (map[int]string, error) {
	cp := append([]int(nil), keys...)
	sort.Ints(cp)
	r.mu.Lock()
	r.batches = append(r.batches, cp)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[int]string, len(keys))
	for _, k := range keys {
		out[k] = string(rune('a' + k))
	}
	return out, nil
}

func (r *recordingLoader) Batches() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int(nil), r.batches...)
}

func TestLoadCoalescesWindow(t *testing.T) {
	rl := &recordingLoader{}
	dl := New[int, string](rl, WithDelay[int, string](20*time.Millisecond))

	var wg sync.WaitGroup
	got := make([]string, 4)
	for i, k := range []int{0, 1, 2, 1} {
		wg.Add(1)
		go func(i, k int) {
			defer wg.Done()
			v, err := dl.Load(context.Background(), k)
			require.NoError(t, err)
			got[i] = v
		}(i, k)
	}
	wg.Wait()

	if diff := cmp.Diff([]string{"a", "b", "c", "b"}, got); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]int{{0, 1, 2}}, rl.Batches()); diff != "" {
		t.Fatalf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadManyRespectsMaxBatchSize(t *testing.T) {
	rl := &recordingLoader{}
	dl := New[int, string](rl,
		WithDelay[int, string](time.Hour),
		WithMaxBatchSize[int, string](2),
	)
	got, err := dl.LoadMany(context.Background(), []int{0, 1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, map[int]string{0: "a", 1: "b", 2: "c", 3: "d"}, got)

	batches := rl.Batches()
	sort.Slice(batches, func(i, j int) bool { return batches[i][0] < batches[j][0] })
	if diff := cmp.Diff([][]int{{0, 1}, {2, 3}}, batches); diff != "" {
		t.Fatalf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestCacheHitSkipsLoader(t *testing.T) {
	rl := &recordingLoader{}
	dl := New[int, string](rl, WithCache[int, string](NewMapStorage[int, string]()))

	v, err := dl.Load(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, "d", v)

	v, err = dl.Load(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, "d", v)
	require.Len(t, rl.Batches(), 1)

	dl.Prime(9, "primed")
	v, err = dl.Load(context.Background(), 9)
	require.NoError(t, err)
	require.Equal(t, "primed", v)
	require.Len(t, rl.Batches(), 1)
}

func TestFailedBatchFailsEveryWaiter(t *testing.T) {
	boom := errors.New("boom")
	rl := &recordingLoader{err: boom}
	dl := New[int, string](rl, WithDelay[int, string](10*time.Millisecond))

	var wg sync.WaitGroup
	var failures atomic.Int32
	for k := 0; k < 3; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			if _, err := dl.Load(context.Background(), k); errors.Is(err, boom) {
				failures.Add(1)
			}
		}(k)
	}
	wg.Wait()
	require.Equal(t, int32(3), failures.Load())
	require.Len(t, rl.Batches(), 1)
}

func TestLoadHonorsContext(t *testing.T) {
	dl := New[int, string](&recordingLoader{}, WithDelay[int, string](time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := dl.Load(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestExplicitFlushClosesWindow(t *testing.T) {
	rl := &recordingLoader{}
	dl := New[int, string](rl, WithExplicitFlush[int, string]())

	thunks := []Thunk[string]{
		dl.LoadThunk(context.Background(), 2),
		dl.LoadThunk(context.Background(), 0),
		dl.LoadThunk(context.Background(), 1),
	}
	require.Empty(t, rl.Batches())

	dl.Flush()
	var got []string
	for _, th := range thunks {
		v, err := th()
		require.NoError(t, err)
		got = append(got, v)
	}
	require.Equal(t, []string{"c", "a", "b"}, got)
	if diff := cmp.Diff([][]int{{0, 1, 2}}, rl.Batches()); diff != "" {
		t.Fatalf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestAbandonedBatchIsCancelled(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan struct{})
	dl := New[int, string](LoaderFunc[int, string](func(ctx context.Context, _ []int) (map[int]string, error) {
		close(started)
		<-ctx.Done()
		close(stopped)
		return nil, ctx.Err()
	}), WithExplicitFlush[int, string]())

	ctx, cancel := context.WithCancel(context.Background())
	thunk := dl.LoadThunk(ctx, 1)
	dl.Flush()
	<-started

	errc := make(chan error, 1)
	go func() {
		_, err := thunk()
		errc <- err
	}()
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("loader kept running after every waiter left")
	}
}

func TestLRUStorageEvicts(t *testing.T) {
	s, err := NewLRUStorage[string, int](2)
	require.NoError(t, err)
	s.Insert("a", 1)
	s.Insert("b", 2)
	_, _ = s.Get("a")
	s.Insert("c", 3)

	_, ok := s.Get("b")
	require.False(t, ok)
	v, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Len(t, s.Keys(), 2)

	s.Clear()
	require.Empty(t, s.Keys())
}
