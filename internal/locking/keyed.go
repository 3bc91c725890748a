package locking

import "sync"

// KeyedMutex serializes access per ticket id while letting cross-ticket
// operations proceed in parallel. The transition engine and the
// reconciliation poller share one instance so a poller read-modify-write
// can never interleave with a user action on the same ticket. Locks are
// never released back to the map; the population is bounded by the
// ticket count.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex builds an empty lock table.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
