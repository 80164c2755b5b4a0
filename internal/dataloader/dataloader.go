// Package dataloader coalesces individual key loads into batched calls and
// guarantees at most one in-flight computation per key.
package dataloader

import (
	"context"
	"sync"
	"time"
)

// Loader fetches many keys in one call. Keys absent from the returned map
// resolve to the zero value.
type Loader[K comparable, V any] interface {
	Load(ctx context.Context, keys []K) (map[K]V, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

func (f LoaderFunc[K, V]) Load(ctx context.Context, keys []K) (map[K]V, error) {
	return f(ctx, keys)
}

// Option configures a DataLoader.
type Option[K comparable, V any] func(*DataLoader[K, V])

// WithDelay sets how long a batch window stays open after its first key.
func WithDelay[K comparable, V any](d time.Duration) Option[K, V] {
	return func(l *DataLoader[K, V]) { l.delay = d }
}

// WithMaxBatchSize dispatches a window as soon as it holds n keys. Zero
// means unbounded.
func WithMaxBatchSize[K comparable, V any](n int) Option[K, V] {
	return func(l *DataLoader[K, V]) { l.maxBatchSize = n }
}

// WithExplicitFlush keeps windows without a delay open until Flush is
// called or they are full.
func WithExplicitFlush[K comparable, V any]() Option[K, V] {
	return func(l *DataLoader[K, V]) { l.explicit = true }
}

// WithCache puts storage in front of the loader.
func WithCache[K comparable, V any](s CacheStorage[K, V]) Option[K, V] {
	return func(l *DataLoader[K, V]) { l.cache = s }
}

// DataLoader batches Load calls issued within one window.
type DataLoader[K comparable, V any] struct {
	loader       Loader[K, V]
	cache        CacheStorage[K, V]
	delay        time.Duration
	maxBatchSize int
	explicit     bool

	mu      sync.Mutex
	current *batch[K, V]
	pending map[K]*batch[K, V]
}

type batch[K comparable, V any] struct {
	ctx        context.Context
	cancel     context.CancelFunc
	waiters    int
	keys       []K
	timer      *time.Timer
	dispatched bool
	done       chan struct{}
	results    map[K]V
	err        error
}

func New[K comparable, V any](loader Loader[K, V], opts ...Option[K, V]) *DataLoader[K, V] {
	l := &DataLoader[K, V]{
		loader:  loader,
		cache:   NoCache[K, V]{},
		pending: make(map[K]*batch[K, V]),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Thunk blocks until the value it was returned for is loaded.
type Thunk[V any] func() (V, error)

// Load returns the value for key, joining an in-flight load for the same key
// when there is one.
func (l *DataLoader[K, V]) Load(ctx context.Context, key K) (V, error) {
	return l.LoadThunk(ctx, key)()
}

// LoadThunk enqueues key and returns without waiting for its window.
func (l *DataLoader[K, V]) LoadThunk(ctx context.Context, key K) Thunk[V] {
	if v, ok := l.cache.Get(key); ok {
		return func() (V, error) { return v, nil }
	}
	l.mu.Lock()
	b := l.enqueueLocked(ctx, key)
	l.mu.Unlock()
	return func() (V, error) { return l.wait(ctx, b, key) }
}

// Flush dispatches the open window, if any.
func (l *DataLoader[K, V]) Flush() {
	l.mu.Lock()
	b := l.current
	l.current = nil
	if b != nil && b.timer != nil {
		b.timer.Stop()
	}
	l.mu.Unlock()
	if b != nil {
		go l.dispatch(b)
	}
}

// LoadMany enqueues every key before waiting, so keys not already in flight
// share a window.
func (l *DataLoader[K, V]) LoadMany(ctx context.Context, keys []K) (map[K]V, error) {
	out := make(map[K]V, len(keys))
	batches := make(map[K]*batch[K, V], len(keys))
	l.mu.Lock()
	for _, k := range keys {
		if v, ok := l.cache.Get(k); ok {
			out[k] = v
			continue
		}
		batches[k] = l.enqueueLocked(ctx, k)
	}
	l.mu.Unlock()
	for k, b := range batches {
		v, err := l.wait(ctx, b, k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Prime stores value for key without loading.
func (l *DataLoader[K, V]) Prime(key K, value V) { l.cache.Insert(key, value) }

// Clear drops every cached value.
func (l *DataLoader[K, V]) Clear() { l.cache.Clear() }

func (l *DataLoader[K, V]) enqueueLocked(ctx context.Context, key K) *batch[K, V] {
	if b, ok := l.pending[key]; ok {
		b.waiters++
		return b
	}
	b := l.current
	if b == nil {
		// The window outlives the caller that opened it; it is cancelled
		// once every waiter has given up.
		bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		b = &batch[K, V]{ctx: bctx, cancel: cancel, done: make(chan struct{})}
		l.current = b
		if l.delay > 0 || !l.explicit {
			b.timer = time.AfterFunc(l.delay, func() { l.dispatch(b) })
		}
	}
	b.keys = append(b.keys, key)
	b.waiters++
	l.pending[key] = b
	if l.maxBatchSize > 0 && len(b.keys) >= l.maxBatchSize {
		l.current = nil
		if b.timer != nil {
			b.timer.Stop()
		}
		go l.dispatch(b)
	}
	return b
}

func (l *DataLoader[K, V]) dispatch(b *batch[K, V]) {
	l.mu.Lock()
	if b.dispatched {
		l.mu.Unlock()
		return
	}
	b.dispatched = true
	if l.current == b {
		l.current = nil
	}
	keys := b.keys
	l.mu.Unlock()

	results, err := l.loader.Load(b.ctx, keys)
	b.cancel()

	l.mu.Lock()
	b.results, b.err = results, err
	for _, k := range keys {
		if err == nil {
			if v, ok := results[k]; ok {
				l.cache.Insert(k, v)
			}
		}
		if l.pending[k] == b {
			delete(l.pending, k)
		}
	}
	l.mu.Unlock()
	close(b.done)
}

func (l *DataLoader[K, V]) wait(ctx context.Context, b *batch[K, V], key K) (V, error) {
	var zero V
	select {
	case <-b.done:
	case <-ctx.Done():
		l.mu.Lock()
		b.waiters--
		if b.waiters == 0 {
			b.cancel()
		}
		l.mu.Unlock()
		return zero, ctx.Err()
	}
	if b.err != nil {
		return zero, b.err
	}
	return b.results[key], nil
}
