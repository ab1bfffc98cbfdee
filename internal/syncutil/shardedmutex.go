package syncutil

import (
	"hash/fnv"
	"sort"
	"sync"
)

// ShardedMutex provides a fixed-size pool of mutexes keyed by string.
// Unlike sync.Map-based per-key locks, this uses bounded memory regardless
// of how many keys are seen, at the cost of occasional false sharing between
// keys that hash to the same shard.
type ShardedMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

// LockMany acquires the mutexes for all given keys and returns a single
// unlock function. Shards are deduplicated and locked in ascending index
// order, so concurrent LockMany calls over overlapping key sets cannot
// deadlock, and keys that share a shard are locked exactly once.
func (s *ShardedMutex) LockMany(keys []string) func() {
	seen := make(map[uint32]bool, len(keys))
	idxs := make([]uint32, 0, len(keys))
	for _, key := range keys {
		i := shardIndex(key)
		if !seen[i] {
			seen[i] = true
			idxs = append(idxs, i)
		}
	}
	sort.Slice(idxs, func(a, b int) bool { return idxs[a] < idxs[b] })

	for _, i := range idxs {
		s.shards[i].Lock()
	}
	return func() {
		for j := len(idxs) - 1; j >= 0; j-- {
			s.shards[idxs[j]].Unlock()
		}
	}
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	return &s.shards[shardIndex(key)]
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}
