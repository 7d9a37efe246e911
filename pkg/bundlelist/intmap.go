package bundlelist

import (
	"sort"
	"sync"

	"github.com/marmos91/dtnd/pkg/bundle"
)

// IntMap is the integer-keyed bundle list variant, keyed e.g. by
// bundle-id or custody-id, supporting range scans via FindNext.
type IntMap struct {
	mu    sync.Mutex
	id    bundle.ListID
	items map[uint64]*bundle.Bundle
	keys  []uint64 // kept sorted for FindNext
}

// NewIntMap creates an empty integer-keyed list identified by id.
func NewIntMap(id bundle.ListID) *IntMap {
	return &IntMap{id: id, items: make(map[uint64]*bundle.Bundle)}
}

func (m *IntMap) ID() bundle.ListID { return m.id }

// Insert adds b under key. Returns false if key is already occupied or b
// is already a member of this list.
func (m *IntMap) Insert(key uint64, b *bundle.Bundle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[key]; exists {
		return false
	}
	b.Lock()
	ok := b.AddMapping(m.id)
	b.Unlock()
	if !ok {
		return false
	}
	m.items[key] = b
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= key })
	m.keys = append(m.keys, 0)
	copy(m.keys[i+1:], m.keys[i:])
	m.keys[i] = key
	return true
}

// Find returns the bundle stored under key, or nil.
func (m *IntMap) Find(key uint64) *bundle.Bundle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key]
}

// FindNext returns the entry with the smallest key >= from, and that
// key, or (nil, 0, false) if none exists. Used for range scans such as
// "next custody-id due for a timer check".
func (m *IntMap) FindNext(from uint64) (*bundle.Bundle, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= from })
	if i == len(m.keys) {
		return nil, 0, false
	}
	k := m.keys[i]
	return m.items[k], k, true
}

// Erase removes the entry under key, if any.
func (m *IntMap) Erase(key uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[key]
	if !ok {
		return false
	}
	delete(m.items, key)
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= key })
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	b.Lock()
	b.RemoveMapping(m.id)
	b.Unlock()
	return true
}

// PopKey removes and returns the entry under key, if any, combining Find
// and Erase.
func (m *IntMap) PopKey(key uint64) *bundle.Bundle {
	m.mu.Lock()
	b, ok := m.items[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.Erase(key)
	return b
}

// Len returns the number of entries.
func (m *IntMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Keys returns a sorted snapshot of every key currently present.
func (m *IntMap) Keys() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.keys))
	copy(out, m.keys)
	return out
}
