package syncutil

import "context"

// ContextShardedMutex is a sharded key mutex whose acquires honor context
// cancellation. Each shard is a one-slot channel; holding the token means
// holding the lock. Like ShardedMutex, memory stays bounded no matter how
// many keys are seen, and distinct keys may occasionally contend on a
// shared shard.
type ContextShardedMutex struct {
	shards [256]chan struct{}
}

// NewContextShardedMutex returns a mutex with all shards unlocked.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// LockContext blocks until the key's shard is acquired or ctx is done.
// On success the returned func releases the shard and must be called
// exactly once; on cancellation it is nil and the ctx error is returned.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	sh := m.shards[shardIndex(key)]
	select {
	case <-sh:
		return func() { sh <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
