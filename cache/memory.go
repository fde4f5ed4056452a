package cache

import "sync"

// DefaultAcceleratorCapacity bounds the accelerator when no capacity is
// configured.
const DefaultAcceleratorCapacity = 300

// Accelerator is a bounded in-process mirror of recently seen cache
// entries.
//
// Eviction is FIFO by insertion order, not LRU by access: re-putting an
// existing key does not move it. Content-addressed entries are never
// updated in place, so access-order tracking would add bookkeeping without
// changing correctness. The accelerator is never the system of record; a
// cold accelerator only costs remote round trips.
type Accelerator struct {
	mu       sync.Mutex
	capacity int
	entries  map[string][]byte
	order    []string
}

// NewAccelerator creates an accelerator holding at most capacity entries.
// Capacity values <= 0 use DefaultAcceleratorCapacity.
func NewAccelerator(capacity int) *Accelerator {
	if capacity <= 0 {
		capacity = DefaultAcceleratorCapacity
	}
	return &Accelerator{
		capacity: capacity,
		entries:  make(map[string][]byte, capacity),
	}
}

// Get returns the value stored under key.
func (a *Accelerator) Get(key string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	value, ok := a.entries[key]
	return value, ok
}

// Has reports whether key is resident.
func (a *Accelerator) Has(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[key]
	return ok
}

// Put stores value under key, evicting the oldest-inserted entry when the
// accelerator is full. Overwriting an existing key keeps its position in
// the eviction order.
func (a *Accelerator) Put(key string, value []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.entries[key]; ok {
		a.entries[key] = value
		return
	}
	if len(a.entries) >= a.capacity {
		oldest := a.order[0]
		a.order = a.order[1:]
		delete(a.entries, oldest)
	}
	a.entries[key] = value
	a.order = append(a.order, key)
}

// Len returns the number of resident entries.
func (a *Accelerator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
