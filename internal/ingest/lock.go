package ingest

import "sync"

// keyedMutex serializes work per string key. Entries are never removed; the
// key space (tracked file paths and their content hashes) is small and
// stable for the life of the process.
type keyedMutex struct {
	locks sync.Map // key -> *sync.Mutex
}

// lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
