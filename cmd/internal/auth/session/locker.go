package session

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockShards = 64

// Locker hands out one lock per key. Keys never share a lock; sharding only
// spreads the bookkeeping maps, and entries are dropped once unused.
type Locker struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	l := &Locker{}
	for i := range l.shards {
		l.shards[i].locks = make(map[string]*keyLock)
	}
	return l
}

func (l *Locker) shard(key string) *lockShard {
	return &l.shards[xxhash.Sum64String(key)%lockShards]
}

// Lock blocks until key is free or ctx is done. The returned func releases it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	sh := l.shard(key)

	sh.mu.Lock()
	kl, ok := sh.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		sh.locks[key] = kl
	}
	kl.refs++
	sh.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(sh, key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(sh, key, kl)
		})
	}, nil
}

func (l *Locker) release(sh *lockShard, key string, kl *keyLock) {
	sh.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(sh.locks, key)
	}
	sh.mu.Unlock()
}

// size reports tracked keys; used by tests.
func (l *Locker) size() int {
	n := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		n += len(sh.locks)
		sh.mu.Unlock()
	}
	return n
}
