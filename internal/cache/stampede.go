package cache

import "sync"

// missTracker counts concurrent misses per key. More than one active miss on
// a key is a stampede: several callers found the same route cold at once.
type missTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{active: make(map[string]int)}
}

// begin registers a miss on key and returns the number of misses now active
// for it, including this one. The returned func must be called exactly once
// when the miss is resolved.
func (m *missTracker) begin(key string) (int, func()) {
	m.mu.Lock()
	m.active[key]++
	n := m.active[key]
	m.mu.Unlock()

	var once sync.Once
	return n, func() {
		once.Do(func() { m.end(key) })
	}
}

func (m *missTracker) end(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[key] <= 1 {
		delete(m.active, key)
		return
	}
	m.active[key]--
}
