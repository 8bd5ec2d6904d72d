package rrt

import (
	"sync"
)

// poisonMutex is a mutex that remembers whether a holder panicked.
// Subsequent lock attempts fail instead of operating on possibly torn state.
//
//	if err := m.lock(); err != nil { return err }
//	defer m.unlock()
type poisonMutex struct {
	mu       sync.Mutex
	name     string
	poisoned bool
}

func (m *poisonMutex) lock() error {
	m.mu.Lock()
	if m.poisoned {
		m.mu.Unlock()
		return poisonedError(m.name)
	}
	return nil
}

// unlock must be deferred directly so recover observes the holder's panic
func (m *poisonMutex) unlock() {
	if r := recover(); r != nil {
		m.poisoned = true
		m.mu.Unlock()
		panic(r)
	}
	m.mu.Unlock()
}
