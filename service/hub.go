package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("reactor.service")

const (
	ErrDuplicate  = errors.ConstError("service already registered")
	ErrUnknownDep = errors.ConstError("unregistered dependency")
	ErrCycle      = errors.ConstError("circular dependency")
	ErrNotInit    = errors.ConstError("services not initialized")
)

// Hub owns a set of services and drives them through their lifecycle in
// dependency order
type Hub struct {
	mu       sync.RWMutex
	services map[string]Service
	args     map[string][]any
	sorted   []string // topological order, computed on InitAll
	inited   []string
	started  []string // for rollback and StopAll
}

// NewHub creates an empty service hub
func NewHub() *Hub {
	return &Hub{
		services: make(map[string]Service),
		args:     make(map[string][]any),
	}
}

// Register adds a service; args are passed to its Init
func (h *Hub) Register(svc Service, args ...any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := svc.Name()
	if _, exists := h.services[name]; exists {
		return errors.Annotate(ErrDuplicate, name)
	}

	h.services[name] = svc
	h.args[name] = args
	h.sorted = nil
	return nil
}

// Get retrieves a service by name
func (h *Hub) Get(name string) (Service, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	svc, ok := h.services[name]
	return svc, ok
}

// MustGet retrieves a service and asserts its type.
// Panics if the service is missing or of another type.
func MustGet[T any](h *Hub, name string) T {
	h.mu.RLock()
	svc, ok := h.services[name]
	h.mu.RUnlock()

	if !ok {
		panic(fmt.Sprintf("service not found: %s", name))
	}
	typed, ok := svc.(T)
	if !ok {
		panic(fmt.Sprintf("service %s: type mismatch, got %T", name, svc))
	}
	return typed
}

// InitAll resolves dependencies and calls Init in order.
// On failure, already initialized services are stopped in reverse order.
func (h *Hub) InitAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sorted == nil {
		order, err := h.topologicalSort()
		if err != nil {
			return err
		}
		h.sorted = order
	}

	h.inited = h.inited[:0]
	for _, name := range h.sorted {
		if err := h.services[name].Init(h.args[name]...); err != nil {
			h.rollback(h.inited)
			h.inited = nil
			return errors.Annotatef(err, "service %s init", name)
		}
		h.inited = append(h.inited, name)
		logger.Debugf("service %s initialized", name)
	}
	return nil
}

// StartAll calls Start in dependency order.
// On failure, already started services are stopped in reverse order.
func (h *Hub) StartAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sorted == nil || len(h.inited) != len(h.sorted) {
		return ErrNotInit
	}

	h.started = nil
	for _, name := range h.sorted {
		if err := h.services[name].Start(); err != nil {
			h.rollback(h.started)
			h.started = nil
			return errors.Annotatef(err, "service %s start", name)
		}
		h.started = append(h.started, name)
		logger.Infof("service %s started", name)
	}
	return nil
}

// StopAll stops started services in reverse order. Every service gets its
// Stop call; errors are logged.
func (h *Hub) StopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rollback(h.started)
	h.started = nil
}

func (h *Hub) rollback(names []string) {
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		if err := h.services[name].Stop(); err != nil {
			logger.Warningf("service %s stop: %v", name, err)
		}
	}
}

// Order returns the computed start order, nil before InitAll
func (h *Hub) Order() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.sorted...)
}

// topologicalSort is Kahn's algorithm over names sorted for a stable order
func (h *Hub) topologicalSort() ([]string, error) {
	names := make([]string, 0, len(h.services))
	for name := range h.services {
		names = append(names, name)
	}
	sort.Strings(names)

	inDegree := make(map[string]int, len(names))
	dependents := make(map[string][]string)
	for _, name := range names {
		for _, dep := range h.services[name].Dependencies() {
			if _, ok := h.services[dep]; !ok {
				return nil, errors.Annotatef(ErrUnknownDep, "service %s needs %s", name, dep)
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for _, name := range names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	result := make([]string, 0, len(names))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		result = append(result, name)

		for _, dependent := range dependents[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(names) {
		return nil, ErrCycle
	}
	return result, nil
}
