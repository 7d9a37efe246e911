package bundlelist

import (
	"sync"

	"github.com/marmos91/dtnd/pkg/bundle"
)

// StrMultiMap is the string-keyed multimap variant, keyed by GBOFID
// string for duplicate detection: several bundles (retransmissions,
// fragments) may share a key.
type StrMultiMap struct {
	mu    sync.Mutex
	id    bundle.ListID
	items map[string][]*bundle.Bundle
}

// NewStrMultiMap creates an empty string-keyed multimap identified by
// id.
func NewStrMultiMap(id bundle.ListID) *StrMultiMap {
	return &StrMultiMap{id: id, items: make(map[string][]*bundle.Bundle)}
}

func (m *StrMultiMap) ID() bundle.ListID { return m.id }

// Insert adds b under key, alongside any existing entries. Returns false
// if b is already a member of this list.
func (m *StrMultiMap) Insert(key string, b *bundle.Bundle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.Lock()
	ok := b.AddMapping(m.id)
	b.Unlock()
	if !ok {
		return false
	}
	m.items[key] = append(m.items[key], b)
	return true
}

// Find returns any one bundle stored under key, or nil.
func (m *StrMultiMap) Find(key string) *bundle.Bundle {
	m.mu.Lock()
	defer m.mu.Unlock()
	bs := m.items[key]
	if len(bs) == 0 {
		return nil
	}
	return bs[0]
}

// FindAll returns every bundle stored under key.
func (m *StrMultiMap) FindAll(key string) []*bundle.Bundle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*bundle.Bundle, len(m.items[key]))
	copy(out, m.items[key])
	return out
}

// EraseBundle removes one specific bundle from key's entry list, leaving
// any others under the same key untouched.
func (m *StrMultiMap) EraseBundle(key string, b *bundle.Bundle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	bs := m.items[key]
	for i, item := range bs {
		if item == b {
			m.items[key] = append(bs[:i], bs[i+1:]...)
			if len(m.items[key]) == 0 {
				delete(m.items, key)
			}
			b.Lock()
			b.RemoveMapping(m.id)
			b.Unlock()
			return true
		}
	}
	return false
}

// Erase deletes every bundle stored under key.
func (m *StrMultiMap) Erase(key string) {
	m.mu.Lock()
	bs := m.items[key]
	delete(m.items, key)
	m.mu.Unlock()

	for _, b := range bs {
		b.Lock()
		b.RemoveMapping(m.id)
		b.Unlock()
	}
}

// Len returns the total number of bundles across every key.
func (m *StrMultiMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, bs := range m.items {
		n += len(bs)
	}
	return n
}
