package link

import (
	"sync"
	"time"

	"github.com/marmos91/dtnd/internal/logger"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/bundlelist"
)

// Config declares the immutable parameters of a link at creation time,
// mirroring the fields accepted by the link-creation admin command.
type Config struct {
	Name                 string
	Type                 Type
	RemoteEID            string
	NextHop              string
	ConvergenceLayer     string
	Reliable             bool
	MTU                  uint64
	MinRetryInterval     time.Duration
	MaxRetryInterval     time.Duration
	IdleCloseTime        time.Duration
	PotentialDowntime    time.Duration
	PrevHopHeader        bool
	Cost                 int
	QlimitEnabled        bool
	QlimitBundlesHigh    int
	QlimitBytesHigh      uint64
	QlimitBundlesLow     int
	QlimitBytesLow       uint64
	CancelOnUnavailable  bool
}

// Stats accumulates a link's lifetime counters.
type Stats struct {
	ContactAttempts    uint64
	ContactsOpened     uint64
	BundlesTransmitted uint64
	BytesTransmitted   uint64
	BundlesCancelled   uint64
}

// Link is an abstract one-way forwarding channel to a next-hop node. Its
// lock protects the mutable state fields below, including the queue and
// in-flight counters derived from the lists; list contents themselves
// are protected by the lists' own locks (lock ordering: link -> bundle,
// never list while holding link unless acquiring the list's own lock,
// which is independent).
type Link struct {
	cfg Config

	mu            sync.Mutex
	state         State
	deleted       bool
	usable        bool
	contact       *Contact
	retryInterval time.Duration
	deferredCount int
	deferredTimer *time.Timer
	idleTimer     *time.Timer
	stats         Stats

	onCheckDeferred func(name string)
	onIdleClose     func(name string)

	Queue    *bundlelist.OrderedList
	Inflight *bundlelist.OrderedList
}

// New validates cfg and constructs a Link in the unavailable state.
func New(cfg Config) (*Link, error) {
	if cfg.Type == TypeAlwaysOn && cfg.IdleCloseTime > 0 {
		return nil, ErrIdleCloseOnAlwaysOn
	}
	if cfg.MinRetryInterval <= 0 {
		cfg.MinRetryInterval = time.Second
	}
	if cfg.MaxRetryInterval < cfg.MinRetryInterval {
		cfg.MaxRetryInterval = cfg.MinRetryInterval
	}

	l := &Link{
		cfg:           cfg,
		state:         StateUnavailable,
		usable:        true,
		retryInterval: cfg.MinRetryInterval,
		Queue:         bundlelist.NewOrderedList(bundle.ListID("link:" + cfg.Name + ":queue")),
		Inflight:      bundlelist.NewOrderedList(bundle.ListID("link:" + cfg.Name + ":inflight")),
	}

	// alwayson links start usable immediately; others must be explicitly
	// brought up by a LinkStateChangeRequest once the topology decides
	// they are needed.
	if cfg.Type == TypeAlwaysOn {
		l.state = StateAvailable
	}
	return l, nil
}

func (l *Link) Name() string             { return l.cfg.Name }
func (l *Link) Type() Type               { return l.cfg.Type }
func (l *Link) RemoteEID() string        { return l.cfg.RemoteEID }
func (l *Link) NextHop() string          { return l.cfg.NextHop }
func (l *Link) ConvergenceLayer() string { return l.cfg.ConvergenceLayer }
func (l *Link) Reliable() bool           { return l.cfg.Reliable }
func (l *Link) MTU() uint64              { return l.cfg.MTU }
func (l *Link) Cost() int                { return l.cfg.Cost }
func (l *Link) PrevHopHeader() bool      { return l.cfg.PrevHopHeader }

// State returns the link's current state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetUsable marks the link usable/unusable for routing purposes without
// affecting its connectivity state (e.g. an admin "link disable").
func (l *Link) SetUsable(usable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usable = usable
}

func (l *Link) Usable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usable && !l.deleted
}

// MarkDeleted flags the link as deleted; callers must have already
// drained its queues via CancelAllBundles.
func (l *Link) MarkDeleted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted = true
}

func (l *Link) Deleted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deleted
}

// Contact returns the link's current contact, or nil if not open.
func (l *Link) Contact() *Contact {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.contact
}

// Open transitions an available link to opening and allocates a pending
// contact, incrementing contact_attempts. The caller (the daemon's
// link-state-change-request handler) is responsible for invoking the
// convergence-layer open and subsequently reporting the outcome via
// ContactUp or ContactFailed.
func (l *Link) Open() (*Contact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateAvailable {
		return nil, ErrNotAvailable
	}
	l.state = StateOpening
	l.contact = newContact(l.cfg.Name)
	l.stats.ContactAttempts++
	return l.contact, nil
}

// ContactUp transitions an opening link to open once the convergence
// layer reports the contact established. contactID must match the
// contact allocated by Open.
func (l *Link) ContactUp(contactID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.contact == nil || l.contact.ID != contactID {
		return ErrContactMismatch
	}
	l.state = StateOpen
	l.stats.ContactsOpened++
	return nil
}

// ContactFailed reports that the convergence layer could not establish
// or maintain the contact, with reason for diagnostics. The link falls
// back to unavailable and its retry interval is doubled.
func (l *Link) ContactFailed(reason string) {
	l.mu.Lock()
	l.contact = nil
	l.state = StateUnavailable
	next := l.retryInterval * 2
	if next > l.cfg.MaxRetryInterval {
		next = l.cfg.MaxRetryInterval
	}
	l.retryInterval = next
	l.mu.Unlock()

	logger.Warn("link contact failed", "link", l.cfg.Name, "reason", reason, "retry_interval", next)
}

// Close requires a contact; it clears the contact reference and
// transitions based on link type: alwayson links return to available
// (the caller should schedule a reopen after the current retry
// interval), ondemand/opportunistic links go to unavailable. The retry
// interval resets to its minimum on a clean close following successful
// use.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.contact == nil {
		return ErrNoContact
	}
	l.contact = nil
	l.retryInterval = l.cfg.MinRetryInterval

	switch l.cfg.Type {
	case TypeAlwaysOn:
		l.state = StateAvailable
	default:
		l.state = StateUnavailable
	}
	l.stopIdleTimerLocked()
	return nil
}

// MakeAvailable transitions an unavailable link to available (admin up,
// scheduled contact window opening, opportunistic discovery).
func (l *Link) MakeAvailable() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateUnavailable {
		return ErrNotUnavailable
	}
	l.state = StateAvailable
	return nil
}

// MakeUnavailable forces a link without a contact back to unavailable
// (admin down). Open links must be closed instead.
func (l *Link) MakeUnavailable() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.contact != nil {
		return ErrHasContact
	}
	l.state = StateUnavailable
	return nil
}

// RetryInterval returns the current retry-interval backoff value.
func (l *Link) RetryInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retryInterval
}

// Stats returns a copy of the link's lifetime counters.
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// RecordTransmission updates transmitted-bundle statistics and, for
// ondemand links with a configured idle-close time, resets the idle
// timer.
func (l *Link) RecordTransmission(bytes uint64) {
	l.mu.Lock()
	l.stats.BundlesTransmitted++
	l.stats.BytesTransmitted += bytes
	l.resetIdleTimerLocked()
	l.mu.Unlock()
}

// SetOnIdleClose registers the callback invoked when an ondemand link's
// idle-close timer fires. The daemon translates this into a
// LinkStateChangeRequest close event.
func (l *Link) SetOnIdleClose(fn func(name string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onIdleClose = fn
}

func (l *Link) resetIdleTimerLocked() {
	if l.cfg.Type != TypeOnDemand || l.cfg.IdleCloseTime <= 0 {
		return
	}
	if l.idleTimer != nil {
		l.idleTimer.Stop()
	}
	name := l.cfg.Name
	l.idleTimer = time.AfterFunc(l.cfg.IdleCloseTime, func() {
		l.mu.Lock()
		cb := l.onIdleClose
		l.mu.Unlock()
		if cb != nil {
			cb(name)
		}
	})
}

func (l *Link) stopIdleTimerLocked() {
	if l.idleTimer != nil {
		l.idleTimer.Stop()
		l.idleTimer = nil
	}
}

// AddToQueue appends b to the send queue, honoring the
// cancel-on-unavailable policy for opportunistic links: if the link is
// unavailable, opportunistic, and configured to cancel on unavailable,
// the bundle is rejected (the caller is expected to post
// BundleSendCancelled) rather than queued.
func (l *Link) AddToQueue(b *bundle.Bundle) bool {
	l.mu.Lock()
	reject := l.state == StateUnavailable && l.cfg.Type == TypeOpportunistic && l.cfg.CancelOnUnavailable
	l.mu.Unlock()
	if reject {
		return false
	}
	return l.Queue.PushBack(b)
}

// QueueIsFull reports whether the send queue has crossed its configured
// high watermark. Always false when watermark admission is disabled.
func (l *Link) QueueIsFull() bool {
	l.mu.Lock()
	enabled := l.cfg.QlimitEnabled
	highBundles := l.cfg.QlimitBundlesHigh
	highBytes := l.cfg.QlimitBytesHigh
	l.mu.Unlock()
	if !enabled {
		return false
	}
	return l.Queue.BundlesQueued() > highBundles || l.Queue.BytesQueued() > highBytes
}

// QueueHasSpace reports whether the send queue has dropped back below
// its configured low watermark on both dimensions.
func (l *Link) QueueHasSpace() bool {
	l.mu.Lock()
	enabled := l.cfg.QlimitEnabled
	lowBundles := l.cfg.QlimitBundlesLow
	lowBytes := l.cfg.QlimitBytesLow
	l.mu.Unlock()
	if !enabled {
		return true
	}
	return l.Queue.BundlesQueued() <= lowBundles && l.Queue.BytesQueued() <= lowBytes
}

// IncrDeferred records that one more bundle could not be forwarded on
// this link right now, starting the one-second recurring deferred-check
// timer if it is not already running.
func (l *Link) IncrDeferred() {
	l.mu.Lock()
	l.deferredCount++
	if l.deferredCount == 1 {
		l.startDeferredTimerLocked()
	}
	l.mu.Unlock()
}

// DecrDeferred records that a previously deferred bundle no longer is,
// stopping the timer once the count returns to zero.
func (l *Link) DecrDeferred() {
	l.mu.Lock()
	if l.deferredCount > 0 {
		l.deferredCount--
	}
	if l.deferredCount == 0 {
		l.stopDeferredTimerLocked()
	}
	l.mu.Unlock()
}

func (l *Link) DeferredCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deferredCount
}

// SetOnCheckDeferred registers the callback invoked every second while
// the deferred count is positive. The daemon translates each tick into
// a LinkCheckDeferred event.
func (l *Link) SetOnCheckDeferred(fn func(name string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCheckDeferred = fn
}

func (l *Link) startDeferredTimerLocked() {
	name := l.cfg.Name
	l.deferredTimer = time.AfterFunc(time.Second, func() { l.deferredTick(name) })
}

func (l *Link) deferredTick(name string) {
	l.mu.Lock()
	if l.deferredCount == 0 {
		l.mu.Unlock()
		return
	}
	cb := l.onCheckDeferred
	l.deferredTimer = time.AfterFunc(time.Second, func() { l.deferredTick(name) })
	l.mu.Unlock()

	if cb != nil {
		cb(name)
	}
}

func (l *Link) stopDeferredTimerLocked() {
	if l.deferredTimer != nil {
		l.deferredTimer.Stop()
		l.deferredTimer = nil
	}
}

// CancelAllBundles drains the queue and in-flight list, returning every
// bundle removed so the caller can post BundleSendCancelled for each
// and update the link's cancelled-bundle statistic.
func (l *Link) CancelAllBundles() []*bundle.Bundle {
	var cancelled []*bundle.Bundle
	for {
		b := l.Queue.PopFront()
		if b == nil {
			break
		}
		cancelled = append(cancelled, b)
	}
	for {
		b := l.Inflight.PopFront()
		if b == nil {
			break
		}
		cancelled = append(cancelled, b)
	}

	l.mu.Lock()
	l.stats.BundlesCancelled += uint64(len(cancelled))
	l.mu.Unlock()

	return cancelled
}
