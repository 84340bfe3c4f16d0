package kvstore

import "sync"

// Memory is an in-memory Store for tests and ephemeral runs.
//
// It honors the full Store contract including subscriber notification, so
// the stores built on top of it behave identically to the file-backed
// substrate minus durability and cross-process visibility.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	subs   *subscribers
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]string),
		subs:   newSubscribers(),
	}
}

// Get returns the value for key and whether it was present.
func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	v, ok := m.values[key]
	m.mu.RUnlock()
	return v, ok, nil
}

// Set stores value under key and notifies subscribers.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	m.subs.notify(key)
	return nil
}

// Delete removes key and notifies subscribers. Idempotent.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	_, existed := m.values[key]
	delete(m.values, key)
	m.mu.Unlock()
	if existed {
		m.subs.notify(key)
	}
	return nil
}

// Subscribe registers fn for mutation notifications.
func (m *Memory) Subscribe(fn func(key string)) func() {
	return m.subs.add(fn)
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// subscribers is a broadcast list shared by Store implementations.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(key string)
}

func newSubscribers() *subscribers {
	return &subscribers{fns: make(map[int]func(key string))}
}

func (s *subscribers) add(fn func(key string)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.fns[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

// notify calls every subscriber with key. Callbacks run outside the
// registration lock so a callback may subscribe or unsubscribe.
func (s *subscribers) notify(key string) {
	s.mu.Lock()
	fns := make([]func(string), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(key)
	}
}
