package store

import "sync"

// recentKeySet is a fixed-capacity membership cache of dedup keys known to
// exist in the database. Eviction is insertion-order FIFO. It only ever
// short-circuits lookups; a miss must fall through to the database check.
type recentKeySet struct {
	mu       sync.Mutex
	capacity int
	keys     map[string]struct{}
	order    []string
}

func newRecentKeySet(capacity int) *recentKeySet {
	if capacity < 1 {
		capacity = 1
	}
	return &recentKeySet{
		capacity: capacity,
		keys:     make(map[string]struct{}, capacity),
	}
}

func (r *recentKeySet) Contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.keys[key]
	return ok
}

func (r *recentKeySet) Add(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.keys[key]; ok {
		return
	}

	if len(r.order) >= r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.keys, oldest)
	}

	r.keys[key] = struct{}{}
	r.order = append(r.order, key)
}

func (r *recentKeySet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
