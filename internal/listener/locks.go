package listener

import (
	"sync"
	"sync/atomic"
)

// LockRegistry maps resource ids to mutexes. Entries are created on first
// use and kept for the life of the process; resource ids are bounded by
// configuration, not by request volume.
type LockRegistry struct {
	locks sync.Map // string -> *sync.Mutex
	size  atomic.Int64
}

// Get returns the mutex for id, creating it if needed. Concurrent first
// callers for the same id all receive the same mutex.
func (r *LockRegistry) Get(id string) *sync.Mutex {
	if mu, ok := r.locks.Load(id); ok {
		return mu.(*sync.Mutex)
	}
	mu, loaded := r.locks.LoadOrStore(id, new(sync.Mutex))
	if !loaded {
		r.size.Add(1)
	}
	return mu.(*sync.Mutex)
}

// Len returns the number of ids seen so far.
func (r *LockRegistry) Len() int {
	return int(r.size.Load())
}
