package bundle

// ListID names a bundle list a bundle may be a member of. Lists register
// themselves under a stable id (their name) rather than the bundle
// holding a pointer back to the list, so list mutation never needs
// back-pointer fixup.
type ListID string

// Mappings is the set of lists a bundle currently belongs to. The
// invariant `mappings.contains(L) <=> L.contains(bundle)` is maintained
// jointly by Mappings and the list implementations in package bundlelist:
// a list's insert/erase always pairs with a Mappings.Add/Remove call made
// while holding the bundle's lock.
type Mappings struct {
	ids map[ListID]struct{}
}

func newMappings() *Mappings {
	return &Mappings{ids: make(map[ListID]struct{})}
}

// Add records membership in list id. Returns false if already a member
// (double-add is rejected by the caller, not silently deduplicated here).
func (m *Mappings) Add(id ListID) bool {
	if _, ok := m.ids[id]; ok {
		return false
	}
	m.ids[id] = struct{}{}
	return true
}

// Remove clears membership in list id. Returns false if not a member.
func (m *Mappings) Remove(id ListID) bool {
	if _, ok := m.ids[id]; !ok {
		return false
	}
	delete(m.ids, id)
	return true
}

// Contains reports whether the bundle is a member of list id.
func (m *Mappings) Contains(id ListID) bool {
	_, ok := m.ids[id]
	return ok
}

// Len returns the number of lists this bundle currently belongs to.
func (m *Mappings) Len() int {
	return len(m.ids)
}

// IDs returns a snapshot of every list id this bundle belongs to.
func (m *Mappings) IDs() []ListID {
	out := make([]ListID, 0, len(m.ids))
	for id := range m.ids {
		out = append(out, id)
	}
	return out
}
