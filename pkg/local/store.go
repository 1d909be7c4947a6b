package local

import (
	"sync"

	"github.com/nemanja-m/pulsar/pkg/core"
)

// GroupStore accumulates grouped values. Merge appends values to whatever is
// already stored for each key, preserving order.
type GroupStore interface {
	Merge(groups map[string][]core.Value) error
	// ForEach visits every group once, in no particular order.
	ForEach(fn func(core.Group) error) error
	Len() (int, error)
	Close() error
}

// MemoryGroupStore keeps all groups in a map.
type MemoryGroupStore struct {
	mu     sync.RWMutex
	groups map[string][]core.Value
}

func NewMemoryGroupStore() *MemoryGroupStore {
	return &MemoryGroupStore{groups: make(map[string][]core.Value)}
}

func (m *MemoryGroupStore) Merge(groups map[string][]core.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, values := range groups {
		m.groups[key] = append(m.groups[key], values...)
	}
	return nil
}

func (m *MemoryGroupStore) ForEach(fn func(core.Group) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for key, values := range m.groups {
		if err := fn(core.Group{Key: key, Values: values}); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryGroupStore) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.groups), nil
}

func (m *MemoryGroupStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = make(map[string][]core.Value)
	return nil
}
