package rrt

// wakerSlot holds the waker of whichever generation is currently polling.
// Installed on spawn and on every successful restart, cleared when the
// generation begins terminating.
type wakerSlot struct {
	mu    poisonMutex
	waker Waker
}

func newWakerSlot() *wakerSlot {
	return &wakerSlot{mu: poisonMutex{name: LockWaker}}
}

// install replaces the current waker
func (s *wakerSlot) install(w Waker) error {
	if err := s.mu.lock(); err != nil {
		return err
	}
	defer s.mu.unlock()

	s.waker = w
	return nil
}

// clear empties the slot
func (s *wakerSlot) clear() error {
	if err := s.mu.lock(); err != nil {
		return err
	}
	defer s.mu.unlock()

	s.waker = nil
	return nil
}

// wake fires the installed waker, if any. Never a cached one.
func (s *wakerSlot) wake() error {
	if err := s.mu.lock(); err != nil {
		return err
	}
	defer s.mu.unlock()

	if s.waker != nil {
		s.waker.Wake()
	}
	return nil
}

// current returns the installed waker
func (s *wakerSlot) current() Waker {
	if err := s.mu.lock(); err != nil {
		return nil
	}
	defer s.mu.unlock()
	return s.waker
}
