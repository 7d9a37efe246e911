// Package bundlelist implements the three lock-protected bundle-list
// variants: an ordered list, an integer-keyed map, and a string-keyed
// multimap, all sharing the mapping-set invariant with package bundle:
// inserting into a list adds a mapping on the bundle, erasing removes it,
// both under the list lock followed by the bundle lock.
package bundlelist

import (
	"sync"
	"time"

	"github.com/marmos91/dtnd/pkg/bundle"
)

// OrderedList is a list ordered by insertion (push_front/push_back) or by
// an explicit sort key (insert_sorted), such as the reassembly list's
// fragment-offset ordering.
type OrderedList struct {
	mu    sync.Mutex
	id    bundle.ListID
	items []*bundle.Bundle
	notif *notifier
}

// NewOrderedList creates an empty ordered list identified by id. id must
// be unique among the lists a single bundle may appear on; it is what
// the bundle's mapping set records.
func NewOrderedList(id bundle.ListID) *OrderedList {
	return &OrderedList{id: id, notif: newNotifier()}
}

func (l *OrderedList) ID() bundle.ListID { return l.id }

func (l *OrderedList) addMapping(b *bundle.Bundle) bool {
	b.Lock()
	ok := b.AddMapping(l.id)
	b.Unlock()
	return ok
}

func (l *OrderedList) removeMapping(b *bundle.Bundle) {
	b.Lock()
	b.RemoveMapping(l.id)
	b.Unlock()
}

// PushBack appends b to the tail. Returns false (no state change) if b is
// already a member of this list.
func (l *OrderedList) PushBack(b *bundle.Bundle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.addMapping(b) {
		return false
	}
	l.items = append(l.items, b)
	l.notif.signal()
	return true
}

// PushFront prepends b to the head.
func (l *OrderedList) PushFront(b *bundle.Bundle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.addMapping(b) {
		return false
	}
	l.items = append([]*bundle.Bundle{b}, l.items...)
	l.notif.signal()
	return true
}

// InsertSorted inserts b at the position that keeps less(items[i-1],
// items[i]) true throughout, e.g. ordering fragments by offset during
// reassembly.
func (l *OrderedList) InsertSorted(b *bundle.Bundle, less func(a, z *bundle.Bundle) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.addMapping(b) {
		return false
	}
	i := 0
	for ; i < len(l.items); i++ {
		if less(b, l.items[i]) {
			break
		}
	}
	l.items = append(l.items, nil)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = b
	l.notif.signal()
	return true
}

// PopFront removes and returns the head, or nil if empty.
func (l *OrderedList) PopFront() *bundle.Bundle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return nil
	}
	b := l.items[0]
	l.items = l.items[1:]
	l.notif.drain()
	l.removeMapping(b)
	return b
}

// PopBack removes and returns the tail, or nil if empty.
func (l *OrderedList) PopBack() *bundle.Bundle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return nil
	}
	i := len(l.items) - 1
	b := l.items[i]
	l.items = l.items[:i]
	l.notif.drain()
	l.removeMapping(b)
	return b
}

// PopBlocking waits up to timeout (<=0 means forever) for an item to
// become available, then pops the head. Returns nil on timeout.
func (l *OrderedList) PopBlocking(timeout time.Duration) *bundle.Bundle {
	if !l.notif.wait(timeout) {
		return nil
	}
	// wait already consumed this pop's slot, so do not drain another.
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return nil
	}
	b := l.items[0]
	l.items = l.items[1:]
	l.removeMapping(b)
	return b
}

// Erase removes b from the list if present. The caller must not hold b's
// lock: Erase acquires the list lock first, then the bundle lock, per
// the list -> bundle ordering.
func (l *OrderedList) Erase(b *bundle.Bundle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, item := range l.items {
		if item == b {
			l.items = append(l.items[:i], l.items[i+1:]...)
			l.notif.drain()
			l.removeMapping(b)
			return true
		}
	}
	return false
}

// FindByID returns the first bundle with the given local bundle-id, or
// nil.
func (l *OrderedList) FindByID(localID uint64) *bundle.Bundle {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.items {
		if b.LocalID == localID {
			return b
		}
	}
	return nil
}

// FindByGBOFID returns the first bundle whose GBOFID string form matches
// key, or nil.
func (l *OrderedList) FindByGBOFID(key string) *bundle.Bundle {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.items {
		if b.GBOFID.String() == key {
			return b
		}
	}
	return nil
}

// Len returns the current number of bundles on the list.
func (l *OrderedList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Snapshot returns a copy of the list contents, oldest-inserted first
// (not necessarily insertion order for an insert_sorted list).
func (l *OrderedList) Snapshot() []*bundle.Bundle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*bundle.Bundle, len(l.items))
	copy(out, l.items)
	return out
}

// BundlesQueued and BytesQueued report the list's current backpressure
// accounting directly off its contents.
func (l *OrderedList) BundlesQueued() int {
	return l.Len()
}

func (l *OrderedList) BytesQueued() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total uint64
	for _, b := range l.items {
		total += b.Payload.Length
	}
	return total
}
