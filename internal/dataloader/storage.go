package dataloader

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// CacheStorage sits in front of a Loader. Implementations must be safe for
// concurrent use.
type CacheStorage[K comparable, V any] interface {
	Get(key K) (V, bool)
	Insert(key K, value V)
	Remove(key K)
	Clear()
	Keys() []K
}

// NoCache never stores anything.
type NoCache[K comparable, V any] struct{}

func (NoCache[K, V]) Get(K) (V, bool) {
	var zero V
	return zero, false
}
func (NoCache[K, V]) Insert(K, V) {}
func (NoCache[K, V]) Remove(K)    {}
func (NoCache[K, V]) Clear()      {}
func (NoCache[K, V]) Keys() []K   { return nil }

// MapStorage keeps every value until removed.
type MapStorage[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func NewMapStorage[K comparable, V any]() *MapStorage[K, V] {
	return &MapStorage[K, V]{m: make(map[K]V)}
}

func (s *MapStorage[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *MapStorage[K, V]) Insert(key K, value V) {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

func (s *MapStorage[K, V]) Remove(key K) {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

func (s *MapStorage[K, V]) Clear() {
	s.mu.Lock()
	s.m = make(map[K]V)
	s.mu.Unlock()
}

func (s *MapStorage[K, V]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]K, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	return out
}

// LRUStorage keeps at most a fixed number of values, evicting the least
// recently used.
type LRUStorage[K comparable, V any] struct {
	c *lru.Cache
}

func NewLRUStorage[K comparable, V any](size int) (*LRUStorage[K, V], error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &LRUStorage[K, V]{c: c}, nil
}

func (s *LRUStorage[K, V]) Get(key K) (V, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

func (s *LRUStorage[K, V]) Insert(key K, value V) { s.c.Add(key, value) }
func (s *LRUStorage[K, V]) Remove(key K)          { s.c.Remove(key) }
func (s *LRUStorage[K, V]) Clear()                { s.c.Purge() }

func (s *LRUStorage[K, V]) Keys() []K {
	keys := s.c.Keys()
	out := make([]K, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.(K))
	}
	return out
}
