// Package bundle defines the in-memory representation of a bundle: its
// identity, processing metadata, payload handle, block vectors,
// forwarding log, mapping set, and reference count.
package bundle

import (
	"sync"
	"sync/atomic"

	"github.com/marmos91/dtnd/pkg/bpwire"
)

// Priority is the bundle's forwarding priority class.
type Priority int

const (
	PriorityBulk Priority = iota
	PriorityNormal
	PriorityExpedited
	PriorityReserved
)

// ReportRequests mirrors the six report-request flags a bundle may carry.
type ReportRequests struct {
	Receive    bool
	Custody    bool
	Forward    bool
	Delivery   bool
	Deletion   bool
	AppAcked   bool
}

// CustodyState holds the fields relevant to custody transfer.
type CustodyState struct {
	// LocalCustody is true while this node is the bundle's custodian of
	// record and holds an outstanding custody-timer obligation.
	LocalCustody bool
	// LocalCustodyID is the node-local id assigned when custody was
	// accepted, used to correlate custody signals and ACS fills back to
	// this bundle.
	LocalCustodyID uint64
	// PrevHopCustodyID is the custody-id the previous custodian expects
	// back in a custody signal, learned from a received
	// custody-transfer-enhancement block.
	PrevHopCustodyID uint64
	// PrevHopSupportsCTEB is true when the bundle arrived with a valid
	// CTEB whose custodian EID matches the previous-hop block, making
	// this bundle eligible for ACS batching rather than a standalone
	// custody signal.
	PrevHopSupportsCTEB bool
	// PrevCustodian records the custodian the bundle carried before this
	// node accepted custody, so timeout failure signals can still reach
	// upstream after the custodian field is rewritten.
	PrevCustodian bpwire.EID
}

// Bundle is the atomic data unit the rest of the daemon operates on. Each
// Bundle has its own lock: callers must hold Lock()/Unlock()
// around any read or mutation of mutable fields, and list implementations
// acquire it only after their own list lock, never the other way around.
type Bundle struct {
	mu sync.Mutex

	// LocalID is the node-local monotonically increasing identifier; the
	// primary persistent key.
	LocalID uint64

	GBOFID GBOFID

	Dest       bpwire.EID
	ReplyTo    bpwire.EID
	Custodian  bpwire.EID
	PrevHop    bpwire.EID

	IsAdmin              bool
	DoNotFragment        bool
	CustodyRequested     bool
	SingletonDestination bool
	Priority             Priority
	Reports              ReportRequests

	ExpirationSeconds uint64 // relative to the fixed epoch
	Age               uint64 // delay-adjusted expiration accumulator

	Payload Payload

	ReceivedBlocks []bpwire.ExtensionBlock
	APIBlocks      []bpwire.ExtensionBlock
	// LinkBlocks holds the per-link set of blocks prepared for
	// transmission, keyed by link name, populated by the output
	// processor just before serialization.
	LinkBlocks map[string][]bpwire.ExtensionBlock

	Forwarding ForwardingLog
	mappings   *Mappings

	Custody CustodyState

	refcount int32
	onFree   func(*Bundle)
	freed    bool
}

// New constructs a bundle with its mapping set initialized and reference
// count at one, representing the caller's own hold.
func New(localID uint64, gbofid GBOFID) *Bundle {
	return &Bundle{
		LocalID:    localID,
		GBOFID:     gbofid,
		Dest:       gbofid.Source,
		mappings:   newMappings(),
		LinkBlocks: make(map[string][]bpwire.ExtensionBlock),
		refcount:   1,
	}
}

// Lock acquires the bundle's lock. Every mutation of mutable fields,
// including the mapping set, must happen between Lock and Unlock.
func (b *Bundle) Lock() { b.mu.Lock() }

// Unlock releases the bundle's lock.
func (b *Bundle) Unlock() { b.mu.Unlock() }

// SetOnFree registers the callback invoked exactly once when the
// reference count reaches zero. The bundle store and daemon wire this to
// post a BundleFree event rather than destroying the bundle synchronously.
func (b *Bundle) SetOnFree(f func(*Bundle)) {
	b.mu.Lock()
	b.onFree = f
	b.mu.Unlock()
}

// Ref increments the reference count, recording an additional holder.
func (b *Bundle) Ref() {
	atomic.AddInt32(&b.refcount, 1)
}

// Unref decrements the reference count. When it reaches zero, the
// registered onFree callback runs exactly once.
func (b *Bundle) Unref() {
	if atomic.AddInt32(&b.refcount, -1) > 0 {
		return
	}
	b.mu.Lock()
	already := b.freed
	b.freed = true
	cb := b.onFree
	b.mu.Unlock()
	if !already && cb != nil {
		cb(b)
	}
}

// RefCount returns the current reference count.
func (b *Bundle) RefCount() int32 {
	return atomic.LoadInt32(&b.refcount)
}

// AddMapping records membership in list id, to be called by the list
// implementation while holding both the list lock and this bundle's
// lock. Returns false (and logs nothing itself - the caller logs) on a
// rejected double-add.
func (b *Bundle) AddMapping(id ListID) bool {
	return b.mappings.Add(id)
}

// RemoveMapping clears membership in list id.
func (b *Bundle) RemoveMapping(id ListID) bool {
	return b.mappings.Remove(id)
}

// MappingIDs returns the ids of the lists the bundle belongs to, for
// inspection (invariant checking, destruction).
func (b *Bundle) MappingIDs() []ListID {
	return b.mappings.IDs()
}

// MappingCount returns the number of lists this bundle currently belongs
// to.
func (b *Bundle) MappingCount() int {
	return b.mappings.Len()
}

// Validate checks the null-source invariant: a bundle
// with no source endpoint must not request any report or custody
// transfer, and must have do-not-fragment set.
func (b *Bundle) Validate() error {
	if b.GBOFID.Source == "" || b.GBOFID.Source == "dtn:none" {
		if b.CustodyRequested || b.Reports.Receive || b.Reports.Custody ||
			b.Reports.Forward || b.Reports.Delivery || b.Reports.Deletion || b.Reports.AppAcked {
			return errNullSourceReports
		}
		if !b.DoNotFragment {
			return errNullSourceFragment
		}
	}
	return nil
}
