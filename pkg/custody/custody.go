// Package custody implements the custody and ACS engine: custody
// acceptance, per-(bundle, link) retransmission timers, custody-signal
// generation and consumption, and aggregate-custody-signal batching with
// size and timeout thresholds.
package custody

import (
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dtnd/internal/logger"
	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/bundlelist"
	"github.com/marmos91/dtnd/pkg/bundlestore"
)

// Config is the custody engine's policy surface.
type Config struct {
	// LocalEID is this node's administrative endpoint, written into the
	// custodian field on acceptance.
	LocalEID bpwire.EID
	// TimerBase is the first retransmission interval.
	TimerBase time.Duration
	// TimerMultiplier scales TimerBase linearly per retry.
	TimerMultiplier float64
	// TimerCap bounds the computed interval.
	TimerCap time.Duration
	// ACSBatchSize flushes a pending ACS once it accumulates this many
	// custody-ids.
	ACSBatchSize int
	// ACSTimeout flushes a pending ACS after this long even below the
	// batch size.
	ACSTimeout time.Duration
	// AcceptLegacyCTEB also accepts the legacy dotted custodian form as
	// CTEB evidence. This node always emits the canonical form.
	AcceptLegacyCTEB bool
	// ReportFailureOnSecondTimeout emits a failure custody signal
	// upstream after a second timeout with no route.
	ReportFailureOnSecondTimeout bool
}

type timerKey struct {
	bundleID uint64
	linkName string
}

// Manager is the custody engine. Signal emission is decoupled through
// callbacks: the daemon wraps emitted records into admin bundles and
// injects them through the event bus.
type Manager struct {
	cfg Config

	mu            sync.Mutex
	nextCustodyID uint64
	timers        map[timerKey]*time.Timer
	retries       map[timerKey]int
	pending       map[acsKey]*pendingACS

	// Bundles indexes every bundle in local custody by its node-local
	// custody-id, for ACS fill correlation.
	Bundles *bundlelist.IntMap

	table *bundlestore.Table

	onTimeout    func(b *bundle.Bundle, linkName string)
	onACSTimeout func(custodian bpwire.EID, succeeded bool, reason bpwire.Reason)
	onEmitSignal func(dest bpwire.EID, sig bpwire.CustodySignal)
	onEmitACS    func(dest bpwire.EID, acs bpwire.AggregateCustodySignal)
}

// NewManager constructs a custody engine. table persists pending ACS
// state across restarts and may be nil for in-memory operation.
func NewManager(cfg Config, table *bundlestore.Table) *Manager {
	if cfg.TimerBase <= 0 {
		cfg.TimerBase = 10 * time.Second
	}
	if cfg.TimerCap <= 0 {
		cfg.TimerCap = 10 * time.Minute
	}
	if cfg.ACSBatchSize <= 0 {
		cfg.ACSBatchSize = 64
	}
	if cfg.ACSTimeout <= 0 {
		cfg.ACSTimeout = 5 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		timers:  make(map[timerKey]*time.Timer),
		retries: make(map[timerKey]int),
		pending: make(map[acsKey]*pendingACS),
		Bundles: bundlelist.NewIntMap(bundle.ListID("custody")),
		table:   table,
	}
}

// SetOnTimeout registers the custody-timer expiry callback; the daemon
// posts a CustodyTimeout event from it.
func (m *Manager) SetOnTimeout(fn func(b *bundle.Bundle, linkName string)) {
	m.mu.Lock()
	m.onTimeout = fn
	m.mu.Unlock()
}

// SetOnACSTimeout registers the pending-ACS expiry callback; the daemon
// posts an ACSExpired event from it.
func (m *Manager) SetOnACSTimeout(fn func(custodian bpwire.EID, succeeded bool, reason bpwire.Reason)) {
	m.mu.Lock()
	m.onACSTimeout = fn
	m.mu.Unlock()
}

// SetOnEmitSignal registers the standalone custody-signal emitter.
func (m *Manager) SetOnEmitSignal(fn func(dest bpwire.EID, sig bpwire.CustodySignal)) {
	m.mu.Lock()
	m.onEmitSignal = fn
	m.mu.Unlock()
}

// SetOnEmitACS registers the aggregate custody-signal emitter.
func (m *Manager) SetOnEmitACS(fn func(dest bpwire.EID, acs bpwire.AggregateCustodySignal)) {
	m.mu.Lock()
	m.onEmitACS = fn
	m.mu.Unlock()
}

// SeedCustodyID advances the custody-id allocator past ids recovered
// from persisted bundles, so restarts never reuse a live id.
func (m *Manager) SeedCustodyID(maxSeen uint64) {
	m.mu.Lock()
	if maxSeen >= m.nextCustodyID {
		m.nextCustodyID = maxSeen + 1
	}
	m.mu.Unlock()
}

// ValidCTEB reports whether a received CTEB constitutes evidence that
// the previous custodian supports ACS: its custodian EID must match the
// bundle's custodian field at reception time. The legacy dotted form is
// accepted only when configured.
func (m *Manager) ValidCTEB(cteb bpwire.CTEB, custodian bpwire.EID) bool {
	if cteb.Custodian == custodian {
		return true
	}
	if m.cfg.AcceptLegacyCTEB {
		return legacyEID(cteb.Custodian) == legacyEID(custodian)
	}
	return false
}

// legacyEID reduces an EID to the legacy dotted comparison form.
func legacyEID(e bpwire.EID) string {
	s := strings.TrimPrefix(string(e), "dtn://")
	return strings.ReplaceAll(strings.TrimSuffix(s, "/"), "/", ".")
}

// Accept takes custody of b: the custodian field is rewritten to the
// local node, a node-local custody-id is allocated, and a success signal
// is dispatched back to the previous custodian, batched into a pending
// ACS when the bundle arrived with a valid CTEB. Returns the assigned
// custody-id.
func (m *Manager) Accept(b *bundle.Bundle) uint64 {
	m.mu.Lock()
	custodyID := m.nextCustodyID
	m.nextCustodyID++
	m.mu.Unlock()

	b.Lock()
	prevCustodian := b.Custodian
	prevCustodyID := b.Custody.PrevHopCustodyID
	viaACS := b.Custody.PrevHopSupportsCTEB
	creation := b.GBOFID.Creation
	source := b.GBOFID.Source
	isFragment := b.GBOFID.IsFragment
	fragOffset := b.GBOFID.FragmentOffset
	fragLength := b.Payload.Length
	b.Custody.LocalCustody = true
	b.Custody.LocalCustodyID = custodyID
	b.Custody.PrevCustodian = prevCustodian
	b.Custodian = m.cfg.LocalEID
	b.Unlock()

	m.Bundles.Insert(custodyID, b)

	if prevCustodian == "" || prevCustodian == "dtn:none" {
		return custodyID
	}

	if viaACS {
		m.addPending(prevCustodian, true, bpwire.ReasonNoAdditionalInfo, prevCustodyID)
		return custodyID
	}

	m.mu.Lock()
	emit := m.onEmitSignal
	m.mu.Unlock()
	if emit != nil {
		emit(prevCustodian, bpwire.CustodySignal{
			Succeeded:        true,
			Reason:           bpwire.ReasonNoAdditionalInfo,
			IsFragment:       isFragment,
			FragOffset:       fragOffset,
			FragLength:       fragLength,
			SignalTime:       nowTimestamp(),
			OriginalCreation: creation,
			Source:           source,
		})
	}
	return custodyID
}

// Refuse dispatches a failure custody signal upstream without mutating
// local custody state.
func (m *Manager) Refuse(b *bundle.Bundle, reason bpwire.Reason) {
	b.Lock()
	prevCustodian := b.Custodian
	prevCustodyID := b.Custody.PrevHopCustodyID
	viaACS := b.Custody.PrevHopSupportsCTEB
	creation := b.GBOFID.Creation
	source := b.GBOFID.Source
	isFragment := b.GBOFID.IsFragment
	fragOffset := b.GBOFID.FragmentOffset
	fragLength := b.Payload.Length
	b.Unlock()

	if prevCustodian == "" || prevCustodian == "dtn:none" {
		return
	}

	if viaACS {
		m.addPending(prevCustodian, false, reason, prevCustodyID)
		return
	}

	m.mu.Lock()
	emit := m.onEmitSignal
	m.mu.Unlock()
	if emit != nil {
		emit(prevCustodian, bpwire.CustodySignal{
			Succeeded:        false,
			Reason:           reason,
			IsFragment:       isFragment,
			FragOffset:       fragOffset,
			FragLength:       fragLength,
			SignalTime:       nowTimestamp(),
			OriginalCreation: creation,
			Source:           source,
		})
	}
}

// EmitFailure dispatches a failure custody signal for a bundle this node
// holds custody of (e.g. after repeated custody timeouts) to the
// custodian it took the bundle from. Local custody is not mutated.
func (m *Manager) EmitFailure(b *bundle.Bundle, reason bpwire.Reason) {
	b.Lock()
	upstream := b.Custody.PrevCustodian
	creation := b.GBOFID.Creation
	source := b.GBOFID.Source
	isFragment := b.GBOFID.IsFragment
	fragOffset := b.GBOFID.FragmentOffset
	fragLength := b.Payload.Length
	b.Unlock()

	if upstream == "" || upstream == "dtn:none" {
		return
	}

	m.mu.Lock()
	emit := m.onEmitSignal
	m.mu.Unlock()
	if emit != nil {
		emit(upstream, bpwire.CustodySignal{
			Succeeded:        false,
			Reason:           reason,
			IsFragment:       isFragment,
			FragOffset:       fragOffset,
			FragLength:       fragLength,
			SignalTime:       nowTimestamp(),
			OriginalCreation: creation,
			Source:           source,
		})
	}
}

// QueuePending accumulates a custody-id into the pending ACS for the
// given custodian and outcome, used by the ACS processor when handling
// issue requests posted from outside the custody engine.
func (m *Manager) QueuePending(custodian bpwire.EID, succeeded bool, reason bpwire.Reason, custodyID uint64) {
	m.addPending(custodian, succeeded, reason, custodyID)
}

// Release clears local custody for b, cancelling its timers and removing
// it from the custody index. Safe to call for bundles not in custody.
func (m *Manager) Release(b *bundle.Bundle) {
	m.CancelTimers(b)

	b.Lock()
	custodyID := b.Custody.LocalCustodyID
	inCustody := b.Custody.LocalCustody
	b.Custody.LocalCustody = false
	b.Unlock()

	if inCustody {
		m.Bundles.Erase(custodyID)
	}
}

// HandleSignal consumes a received custody signal, matching it to a
// bundle in local custody by original source and creation timestamp.
// Success releases custody; failure leaves custody in place (re-routing
// is the routing layer's responsibility). Returns the matched bundle and
// whether the signal reported success, or (nil, false) when no bundle
// matches.
func (m *Manager) HandleSignal(sig bpwire.CustodySignal) (*bundle.Bundle, bool) {
	var match *bundle.Bundle
	for _, id := range m.Bundles.Keys() {
		b := m.Bundles.Find(id)
		if b == nil {
			continue
		}
		b.Lock()
		same := b.GBOFID.Source == sig.Source && b.GBOFID.Creation == sig.OriginalCreation
		b.Unlock()
		if same {
			match = b
			break
		}
	}
	if match == nil {
		logger.Debug("custody signal matches no bundle in custody", "source", string(sig.Source))
		return nil, false
	}

	if sig.Succeeded {
		m.Release(match)
	}
	return match, sig.Succeeded
}

// HandleACS consumes a received aggregate custody signal, releasing (on
// success) every bundle whose custody-id falls in the signal's fills.
// Returns the matched bundles.
func (m *Manager) HandleACS(acs bpwire.AggregateCustodySignal) []*bundle.Bundle {
	var matched []*bundle.Bundle
	for _, id := range bpwire.ExpandFills(acs.Fills) {
		b := m.Bundles.Find(id)
		if b == nil {
			continue
		}
		if acs.Succeeded {
			m.Release(b)
		}
		matched = append(matched, b)
	}
	return matched
}

// StartTimer arms (or re-arms) the custody retransmission timer for b on
// linkName. The interval grows linearly with the retry count: base +
// base*multiplier*retries, capped.
func (m *Manager) StartTimer(b *bundle.Bundle, linkName string) {
	b.Lock()
	bundleID := b.LocalID
	b.Unlock()
	key := timerKey{bundleID: bundleID, linkName: linkName}

	m.mu.Lock()
	if t := m.timers[key]; t != nil {
		t.Stop()
	}
	retries := m.retries[key]
	m.retries[key] = retries + 1
	interval := m.interval(retries)
	m.timers[key] = time.AfterFunc(interval, func() { m.timerFired(b, key) })
	m.mu.Unlock()
}

func (m *Manager) interval(retries int) time.Duration {
	interval := m.cfg.TimerBase + time.Duration(float64(m.cfg.TimerBase)*m.cfg.TimerMultiplier*float64(retries))
	if interval > m.cfg.TimerCap {
		interval = m.cfg.TimerCap
	}
	return interval
}

func (m *Manager) timerFired(b *bundle.Bundle, key timerKey) {
	b.Lock()
	inCustody := b.Custody.LocalCustody
	b.Unlock()

	m.mu.Lock()
	delete(m.timers, key)
	cb := m.onTimeout
	m.mu.Unlock()

	// downstream accepted between arming and firing
	if !inCustody {
		return
	}
	if cb != nil {
		cb(b, key.linkName)
	}
}

// RetryCount returns how many times the timer for (b, linkName) has been
// armed.
func (m *Manager) RetryCount(b *bundle.Bundle, linkName string) int {
	b.Lock()
	bundleID := b.LocalID
	b.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries[timerKey{bundleID: bundleID, linkName: linkName}]
}

// CancelTimer stops the custody timer for (b, linkName).
func (m *Manager) CancelTimer(b *bundle.Bundle, linkName string) {
	b.Lock()
	bundleID := b.LocalID
	b.Unlock()
	key := timerKey{bundleID: bundleID, linkName: linkName}

	m.mu.Lock()
	if t := m.timers[key]; t != nil {
		t.Stop()
		delete(m.timers, key)
	}
	delete(m.retries, key)
	m.mu.Unlock()
}

// CancelTimers stops every custody timer for b.
func (m *Manager) CancelTimers(b *bundle.Bundle) {
	b.Lock()
	bundleID := b.LocalID
	b.Unlock()

	m.mu.Lock()
	for key, t := range m.timers {
		if key.bundleID == bundleID {
			t.Stop()
			delete(m.timers, key)
			delete(m.retries, key)
		}
	}
	m.mu.Unlock()
}

// LiveTimerCount returns the number of armed custody timers.
func (m *Manager) LiveTimerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Shutdown stops every timer without emitting further signals.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
	for key, p := range m.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(m.pending, key)
	}
	m.mu.Unlock()
}

func nowTimestamp() bpwire.Timestamp {
	return bpwire.Timestamp{Seconds: uint64(time.Now().Unix())}
}
