// Package repository provides the in-memory registries behind the session
// manager.
package repository

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/okian/proctor/pkg/metrics"
)

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// ShardedStore is a concurrent map split into independently locked shards
// so unrelated keys never contend on one lock.
type ShardedStore[V any] struct {
	shards []*shard[V]
	name   string
	size   atomic.Int64
}

// NewShardedStore creates an empty store.
func NewShardedStore[V any](opts ...Option) *ShardedStore[V] {
	cfg := config{shards: defaultShardCount, name: "sessions"}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &ShardedStore[V]{shards: make([]*shard[V], cfg.shards), name: cfg.name}
	for i := range s.shards {
		s.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return s
}

func (s *ShardedStore[V]) shardFor(key string) *shard[V] {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Put stores v under key, replacing any previous value.
func (s *ShardedStore[V]) Put(key string, v V) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	_, existed := sh.items[key]
	sh.items[key] = v
	sh.mu.Unlock()
	if !existed {
		metrics.UpdateRegistrySize(s.name, int(s.size.Add(1)))
	}
}

// Get returns the value under key or ErrNotFound.
func (s *ShardedStore[V]) Get(key string) (V, error) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.items[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

// Delete removes key and reports whether it was present.
func (s *ShardedStore[V]) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	_, ok := sh.items[key]
	delete(sh.items, key)
	sh.mu.Unlock()
	if ok {
		metrics.UpdateRegistrySize(s.name, int(s.size.Add(-1)))
	}
	return ok
}

// Range calls fn for every entry until fn returns false. Each shard is
// snapshotted before fn runs, so fn may call back into the store.
func (s *ShardedStore[V]) Range(fn func(key string, v V) bool) {
	type entry struct {
		key string
		v   V
	}
	for _, sh := range s.shards {
		sh.mu.RLock()
		batch := make([]entry, 0, len(sh.items))
		for k, v := range sh.items {
			batch = append(batch, entry{k, v})
		}
		sh.mu.RUnlock()
		for _, e := range batch {
			if !fn(e.key, e.v) {
				return
			}
		}
	}
}

// Len is the number of stored entries.
func (s *ShardedStore[V]) Len() int {
	return int(s.size.Load())
}
