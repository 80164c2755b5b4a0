package dataloader

import (
	"context"
	"fmt"
	"sync"
)

// Dedupe runs at most one computation per key at a time. Callers arriving
// while a computation is in flight wait for it and share its result.
type Dedupe[K comparable, V any] struct {
	persist bool

	mu    sync.Mutex
	calls map[K]*call[V]
}

type call[V any] struct {
	done    chan struct{}
	waiters int
	val     V
	err     error
}

// NewDedupe returns a Dedupe. With persist set, successful results stay in
// the table and answer later calls without recomputation.
func NewDedupe[K comparable, V any](persist bool) *Dedupe[K, V] {
	return &Dedupe[K, V]{persist: persist, calls: make(map[K]*call[V])}
}

// Do returns the result of fn for key, running fn only if no computation
// for key is pending or persisted.
func (d *Dedupe[K, V]) Do(ctx context.Context, key K, fn func(context.Context) (V, error)) (V, error) {
	d.mu.Lock()
	if c, ok := d.calls[key]; ok {
		c.waiters++
		d.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
	c := &call[V]{done: make(chan struct{})}
	d.calls[key] = c
	d.mu.Unlock()

	defer func() {
		// Waiters are released even when fn panics.
		if r := recover(); r != nil {
			c.err = fmt.Errorf("dataloader: computation panicked: %v", r)
			d.settle(key, c)
			panic(r)
		}
	}()
	c.val, c.err = fn(ctx)
	d.settle(key, c)
	return c.val, c.err
}

func (d *Dedupe[K, V]) settle(key K, c *call[V]) {
	if !d.persist || c.err != nil {
		d.mu.Lock()
		if d.calls[key] == c {
			delete(d.calls, key)
		}
		d.mu.Unlock()
	}
	close(c.done)
}

func (d *Dedupe[K, V]) waiting(key K) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.calls[key]; ok {
		return c.waiters
	}
	return 0
}

// Len reports the number of pending or persisted keys.
func (d *Dedupe[K, V]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}
