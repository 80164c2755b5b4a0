// Package cache implements the TTL store that memoizes resolver IO results.
package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"

	"github.com/hanpama/gqlforge/internal/metrics"
)

// ErrInvalidTTL is returned by Set for a non-positive TTL.
var ErrInvalidTTL = errors.New("cache: ttl must be positive")

// ErrNotStored is returned by Set when the cache dropped or refused the
// write. Callers may still use the value.
var ErrNotStored = errors.New("cache: write was not admitted")

// Store is a keyed, expiring cache shared across requests.
type Store interface {
	Get(ctx context.Context, key uint64) (any, bool, error)
	Set(ctx context.Context, key uint64, value any, ttl time.Duration) error
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Ristretto is a Store backed by a ristretto cache. Expired entries read as
// absent; ristretto reclaims them in the background.
type Ristretto struct {
	c   *ristretto.Cache[uint64, entry]
	now func() time.Time
}

// Options sizes the ristretto cache.
type Options struct {
	// MaxEntries bounds the number of live entries.
	MaxEntries int64
}

func DefaultOptions() Options { return Options{MaxEntries: 1 << 16} }

func NewRistretto(opts Options) (*Ristretto, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultOptions().MaxEntries
	}
	c, err := ristretto.NewCache(&ristretto.Config[uint64, entry]{
		NumCounters:        opts.MaxEntries * 10,
		MaxCost:            opts.MaxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
		Cost:               func(entry) int64 { return 1 },
	})
	if err != nil {
		return nil, errors.Wrap(err, "cache: create ristretto")
	}
	return &Ristretto{c: c, now: time.Now}, nil
}

func (r *Ristretto) Get(_ context.Context, key uint64) (any, bool, error) {
	e, ok := r.c.Get(key)
	if !ok || !r.now().Before(e.expiresAt) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.value, true, nil
}

// Set stores value for ttl. The write is visible to Get once Set returns
// nil; ErrNotStored reports a write the admission policy turned away.
func (r *Ristretto) Set(_ context.Context, key uint64, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if !r.c.SetWithTTL(key, entry{value: value, expiresAt: r.now().Add(ttl)}, 1, ttl) {
		metrics.CacheWrites.WithLabelValues("dropped").Inc()
		return ErrNotStored
	}
	r.c.Wait()
	if _, ok := r.c.Get(key); !ok {
		metrics.CacheWrites.WithLabelValues("rejected").Inc()
		return ErrNotStored
	}
	metrics.CacheWrites.WithLabelValues("stored").Inc()
	return nil
}

func (r *Ristretto) Close() { r.c.Close() }
