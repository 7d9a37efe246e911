package registration

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/dtnd/pkg/bpwire"
)

func formatRegID(regid uint64) string {
	return strconv.FormatUint(regid, 10)
}

// Table holds every local registration, keyed by regid, and dispatches
// arriving bundles to matching registrations.
type Table struct {
	mu        sync.Mutex
	regs      map[uint64]*Registration
	nextRegID uint64

	// onExpired is invoked (outside the table lock) when a registration
	// passes its expiration; the daemon translates it into a
	// RegistrationExpired event.
	onExpired func(regid uint64)
}

// NewTable constructs an empty registration table. Regids below
// firstRegID are reserved for fixed administrative registrations.
func NewTable(firstRegID uint64) *Table {
	return &Table{
		regs:      make(map[uint64]*Registration),
		nextRegID: firstRegID,
	}
}

// SetOnExpired registers the expiration callback.
func (t *Table) SetOnExpired(fn func(regid uint64)) {
	t.mu.Lock()
	t.onExpired = fn
	t.mu.Unlock()
}

// Add creates, registers, and returns a new registration. A nonzero
// expiration starts its countdown immediately.
func (t *Table) Add(pattern string, action FailureAction, script string, expiration time.Duration, bound bool) *Registration {
	t.mu.Lock()
	regid := t.nextRegID
	t.nextRegID++
	r := newRegistration(regid, pattern, action, script, expiration, bound)
	t.regs[regid] = r
	t.mu.Unlock()

	t.armExpiration(r)
	return r
}

// Restore re-inserts a registration reloaded from persistent storage,
// preserving its regid and advancing the allocator past it.
func (t *Table) Restore(r *Registration) {
	t.mu.Lock()
	t.regs[r.RegID] = r
	if r.RegID >= t.nextRegID {
		t.nextRegID = r.RegID + 1
	}
	t.mu.Unlock()

	t.armExpiration(r)
}

func (t *Table) armExpiration(r *Registration) {
	if r.Expiration <= 0 {
		return
	}
	regid := r.RegID
	r.mu.Lock()
	r.timer = time.AfterFunc(r.Expiration, func() {
		r.markExpired()
		t.mu.Lock()
		cb := t.onExpired
		t.mu.Unlock()
		if cb != nil {
			cb(regid)
		}
	})
	r.mu.Unlock()
}

// Get returns the registration under regid, or nil.
func (t *Table) Get(regid uint64) *Registration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.regs[regid]
}

// Remove deletes the registration under regid, stopping its expiration
// timer. Returns the removed registration, or nil if absent. The caller
// is responsible for draining or reclaiming its delivery queue.
func (t *Table) Remove(regid uint64) *Registration {
	t.mu.Lock()
	r := t.regs[regid]
	delete(t.regs, regid)
	t.mu.Unlock()

	if r != nil {
		r.stopTimer()
	}
	return r
}

// Matching returns every non-expired registration whose pattern matches
// dest, in ascending regid order.
func (t *Table) Matching(dest bpwire.EID) []*Registration {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Registration
	for _, r := range t.regs {
		if !r.Expired() && r.Matches(dest) {
			out = append(out, r)
		}
	}
	sortByRegID(out)
	return out
}

// All returns every registration, in ascending regid order.
func (t *Table) All() []*Registration {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Registration, 0, len(t.regs))
	for _, r := range t.regs {
		out = append(out, r)
	}
	sortByRegID(out)
	return out
}

// Len returns the number of registrations.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.regs)
}

func sortByRegID(regs []*Registration) {
	sort.Slice(regs, func(i, j int) bool { return regs[i].RegID < regs[j].RegID })
}
