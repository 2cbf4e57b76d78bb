package agent

import (
	"context"
	"sync"
)

// lockTable hands out per-session mutexes, created on first use and
// pruned as soon as the last holder or waiter is gone. Steady-state size
// is bounded by concurrently active sessions, not sessions ever seen.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{} // buffered(1); holding the token means holding the lock
	refs int           // holders plus waiters
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the session lock for key is held or ctx is done.
// The returned release function must be called exactly once.
func (t *lockTable) acquire(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	sl, ok := t.locks[key]
	if !ok {
		sl = &sessionLock{ch: make(chan struct{}, 1)}
		t.locks[key] = sl
	}
	sl.refs++
	t.mu.Unlock()

	select {
	case sl.ch <- struct{}{}:
		return func() {
			<-sl.ch
			t.unref(key, sl)
		}, nil
	case <-ctx.Done():
		t.unref(key, sl)
		return nil, ctx.Err()
	}
}

func (t *lockTable) unref(key string, sl *sessionLock) {
	t.mu.Lock()
	sl.refs--
	if sl.refs == 0 {
		delete(t.locks, key)
	}
	t.mu.Unlock()
}

// size reports how many session locks currently exist.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
