package daemon

import (
	"time"

	"github.com/marmos91/dtnd/internal/logger"
	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/eventbus"
	"github.com/marmos91/dtnd/pkg/fragment"
	"github.com/marmos91/dtnd/pkg/link"
)

// handleMain is the central dispatcher: exactly one event at a time,
// invariants inspected after each.
func (d *Daemon) handleMain(ev eventbus.Event) {
	switch e := ev.(type) {
	case *eventbus.BundleSendRequest:
		d.sendBundle(e.Bundle, e.LinkName, e.Action)
	case *eventbus.BundleCancelRequest:
		d.cancelSend(e.Bundle, e.LinkName)
	case *eventbus.BundleSendCancelledEvent:
		d.sendCancelled(e.Bundle, e.LinkName)
	case *eventbus.BundleTransmittedEvent:
		d.bundleTransmitted(e)
	case *eventbus.BundleDeliveredEvent:
		d.bundleDelivered(e.Bundle, e.RegID)
	case *eventbus.BundleExpiredEvent:
		d.bundleExpired(e.Bundle)
	case *eventbus.BundleFreeEvent:
		d.bundleFreed(e.Bundle)
	case *eventbus.BundleDeleteRequest:
		d.deleteBundle(e.Bundle, e.Reason)
	case *eventbus.BundleInjectRequest:
		d.injectBundle(e.Bundle, e.LinkName)
	case *eventbus.BundleTakeCustodyRequest:
		d.decideCustody(e.Bundle)
	case *eventbus.BundleCustodyAcceptedEvent:
		// state already mutated by the custody engine; kept for router
		// broadcast and logging symmetry
		logger.Debug("custody accepted", "custody_id", e.CustodyID)
	case *eventbus.BundleAckEvent:
		d.maybeStatusReport(e.Bundle, bpwire.StatusAckedByApp, bpwire.ReasonNoAdditionalInfo)
	case *eventbus.CustodySignalEvent:
		d.custodySignal(e.Signal)
	case *eventbus.CustodyTimeoutEvent:
		d.custodyTimeout(e.Bundle, e.LinkName)

	case *eventbus.ContactUpEvent:
		d.contactUp(e.LinkName, e.ContactID)
	case *eventbus.ContactDownEvent:
		d.contactDown(e.LinkName, e.Reason)
	case *eventbus.LinkStateChangeRequest:
		d.linkStateChange(e.LinkName, e.Desired, e.Reason)
	case *eventbus.LinkUnavailableEvent:
		d.linkUnavailable(e.LinkName, e.Reason)
	case *eventbus.LinkAvailableEvent:
		// announced by linkStateChange; router broadcast follows
	case *eventbus.LinkCreatedEvent, *eventbus.LinkDeletedEvent, *eventbus.LinkCheckDeferredEvent:
		// router broadcast only
	case *eventbus.LinkCancelAllBundlesRequest:
		d.cancelAllBundles(e.LinkName)

	case *eventbus.RegistrationAddedEvent, *eventbus.RegistrationRemovedEvent:
		// router broadcast only
	case *eventbus.RegistrationExpiredEvent:
		d.post(eventbus.NewRegistrationDeleteRequest(e.RegID))
	case *eventbus.RegistrationDeleteRequest:
		d.deleteRegistration(e.RegID)
	case *eventbus.DeliverBundleToRegRequest:
		d.deliverToReg(e.Bundle, e.RegID)

	case *eventbus.RouteAddEvent:
		if err := d.routes.Add(e.Entry); err != nil {
			logger.Warn("route add rejected", "error", err)
		}
	case *eventbus.RouteDelEvent:
		d.routes.Del(e.DestPattern)
	case *eventbus.RouteRecomputeEvent:
		// router broadcast only

	case *eventbus.ShutdownRequest:
		d.initiateShutdown(e.Reason)
	case *eventbus.DaemonStatusRequest:
		e.BundlesPending = uint64(d.pending.Len())
		e.EventsQueued = d.bus.Queue(eventbus.ProcessorMain).Len()

	default:
		logger.Warn("main processor received unexpected event", "event", ev.Type())
	}
}

// sendBundle queues b on the named link, recording the decision in the
// forwarding log.
func (d *Daemon) sendBundle(b *bundle.Bundle, linkName string, action bundle.ForwardAction) {
	l := d.Get(linkName)
	if l == nil {
		logger.Warn("send request names unknown link", "link", linkName)
		return
	}

	b.Lock()
	state, logged := b.Forwarding.LatestState(linkName)
	b.Unlock()
	if logged && (state == bundle.ForwardQueued || state == bundle.ForwardInFlight) {
		return
	}

	if !l.AddToQueue(b) {
		d.post(eventbus.NewBundleSendCancelled(b, linkName))
		return
	}

	b.Lock()
	b.Forwarding.Add(linkName, action, bundle.ForwardQueued)
	b.Unlock()

	d.updateLinkMetrics(l)
	if l.State() == link.StateOpen {
		d.post(eventbus.NewLinkTransmitReady(linkName))
	}
}

func (d *Daemon) cancelSend(b *bundle.Bundle, linkName string) {
	l := d.Get(linkName)
	if l == nil {
		return
	}
	removed := l.Queue.Erase(b)
	if !removed {
		if cl := d.cl(l.ConvergenceLayer()); cl != nil {
			cl.Cancel(l, b)
		}
		removed = l.Inflight.Erase(b)
	}
	if removed {
		d.post(eventbus.NewBundleSendCancelled(b, linkName))
	}
	d.updateLinkMetrics(l)
}

func (d *Daemon) sendCancelled(b *bundle.Bundle, linkName string) {
	b.Lock()
	b.Forwarding.UpdateLatest(linkName, bundle.ForwardCancelled)
	b.Unlock()
}

func (d *Daemon) bundleTransmitted(e *eventbus.BundleTransmittedEvent) {
	b := e.Bundle
	l := d.Get(e.LinkName)
	if l == nil {
		return
	}
	d.stats.transmitted.Add(1)

	l.Inflight.Erase(b)
	l.RecordTransmission(e.BytesSent)
	d.updateLinkMetrics(l)

	// partial transmission over a reliable adapter: requeue the
	// unacknowledged tail as a reactive fragment
	if d.cfg.ReactiveFragmentation && e.Reliably && e.BytesSent < e.Total {
		if tail, err := fragment.Reactive(b, e.BytesSent, d.store.NextID); err == nil {
			d.adoptBundle(tail)
			d.all.Insert(tail.GBOFID.String(), tail)
			d.pending.Insert(tail.LocalID, tail)
			if err := d.store.Add(tail); err != nil {
				logger.Warn("failed to persist reactive fragment", "error", err)
			}
			d.scheduleExpiration(tail)
			d.sendBundle(tail, e.LinkName, bundle.ActionForward)
		}
	}

	b.Lock()
	b.Forwarding.UpdateLatest(e.LinkName, bundle.ForwardTransmitted)
	inCustody := b.Custody.LocalCustody
	b.Unlock()

	d.maybeStatusReport(b, bpwire.StatusForwarded, bpwire.ReasonNoAdditionalInfo)
	d.post(eventbus.NewStoreBundleUpdate(b))

	if inCustody {
		// custody obligations survive transmission: hold the bundle and
		// await the downstream custody signal
		d.custody.StartTimer(b, e.LinkName)
		return
	}

	d.pending.Erase(b.LocalID)
	d.tryDelete(b, bpwire.ReasonNoAdditionalInfo)
}

func (d *Daemon) bundleDelivered(b *bundle.Bundle, regid uint64) {
	d.stats.delivered.Add(1)
	b.Lock()
	b.Forwarding.Add("local", bundle.ActionForward, bundle.ForwardDelivered)
	inCustody := b.Custody.LocalCustody
	b.Unlock()

	d.maybeStatusReport(b, bpwire.StatusDelivered, bpwire.ReasonNoAdditionalInfo)

	if inCustody {
		// delivery discharges the custody obligation
		d.custody.Release(b)
	}
	d.pending.Erase(b.LocalID)
	d.post(eventbus.NewStoreBundleUpdate(b))
	logger.Info("bundle delivered", "bundle", b.LocalID, "regid", regid)
}

func (d *Daemon) bundleExpired(b *bundle.Bundle) {
	d.stats.expired.Add(1)
	d.maybeStatusReport(b, bpwire.StatusDeleted, bpwire.ReasonLifetimeExpired)
	d.custody.Release(b)
	d.deleteBundle(b, bpwire.ReasonLifetimeExpired)
}

// deleteBundle is phase one of destruction: remove b from every list it
// is on. Phase two (storage delete) runs from the BundleFree handler
// once the reference count hits zero.
func (d *Daemon) deleteBundle(b *bundle.Bundle, reason bpwire.Reason) {
	if !d.rtr.CanDeleteBundle(b) {
		logger.Debug("router vetoed bundle deletion", "bundle", b.LocalID)
		return
	}

	b.Lock()
	localID := b.LocalID
	gbofKey := b.GBOFID.String()
	reassemblyKey := b.GBOFID.ReassemblyKey()
	b.Unlock()

	d.cancelExpiration(localID)
	d.custody.Release(b)

	d.pending.Erase(localID)
	d.all.EraseBundle(gbofKey, b)
	d.reassembler.Fragments.EraseBundle(reassemblyKey, b)
	for _, l := range d.All() {
		l.Queue.Erase(b)
		l.Inflight.Erase(b)
	}
	for _, r := range d.regs.All() {
		r.Queue.Erase(b)
	}

	d.rtr.DeleteBundle(b)
	logger.Debug("bundle deleted", "bundle", localID, "reason", int(reason))
	b.Unref()
}

// tryDelete destroys b only when no mapping still claims it (e.g. a
// registration queue awaiting application pickup).
func (d *Daemon) tryDelete(b *bundle.Bundle, reason bpwire.Reason) {
	if b.MappingCount() > d.baselineMappings(b) {
		return
	}
	d.deleteBundle(b, reason)
}

// baselineMappings counts the bookkeeping lists (all, pending) that do
// not represent outstanding work.
func (d *Daemon) baselineMappings(b *bundle.Bundle) int {
	count := 0
	for _, id := range b.MappingIDs() {
		if id == d.all.ID() || id == d.pending.ID() {
			count++
		}
	}
	return count
}

func (d *Daemon) bundleFreed(b *bundle.Bundle) {
	if n := b.MappingCount(); n != 0 {
		logger.Error("freed bundle still mapped", "bundle", b.LocalID, "mappings", n)
	}
	d.post(eventbus.NewStoreBundleDelete(b.LocalID))
}

func (d *Daemon) injectBundle(b *bundle.Bundle, linkName string) {
	d.all.Insert(b.GBOFID.String(), b)
	d.pending.Insert(b.LocalID, b)
	if err := d.store.Add(b); err != nil {
		logger.Warn("failed to persist injected bundle", "error", err)
	}
	d.scheduleExpiration(b)

	if linkName != "" {
		d.sendBundle(b, linkName, bundle.ActionForward)
		return
	}
	d.post(eventbus.NewBundleInjected(b))
}

func (d *Daemon) custodySignal(sig bpwire.CustodySignal) {
	b, succeeded := d.custody.HandleSignal(sig)
	if b == nil {
		return
	}
	if succeeded {
		logger.Info("custody released downstream", "bundle", b.LocalID)
		d.pending.Erase(b.LocalID)
		d.tryDelete(b, bpwire.ReasonNoAdditionalInfo)
		return
	}
	// downstream refused: keep custody, let the router find another path
	logger.Warn("downstream refused custody", "bundle", b.LocalID, "reason", int(sig.Reason))
	d.pending.Insert(b.LocalID, b)
	d.post(eventbus.NewRouteRecompute())
}

func (d *Daemon) custodyTimeout(b *bundle.Bundle, linkName string) {
	b.Lock()
	inCustody := b.Custody.LocalCustody
	b.Forwarding.UpdateLatest(linkName, bundle.ForwardFailed)
	b.Unlock()
	if !inCustody {
		return
	}

	retries := d.custody.RetryCount(b, linkName)
	logger.Warn("custody timer expired", "bundle", b.LocalID, "link", linkName, "retries", retries)

	// put the bundle back in front of the router for re-selection; the
	// failed forwarding-log entry lets it requeue on the same link if
	// that is still the best path
	d.pending.Insert(b.LocalID, b)
	d.post(eventbus.NewRouteRecompute())

	if retries >= 2 && d.cfg.Custody.ReportFailureOnSecondTimeout {
		d.custody.EmitFailure(b, bpwire.ReasonNoTimelyContact)
	}
}

func (d *Daemon) contactUp(linkName, contactID string) {
	l := d.Get(linkName)
	if l == nil {
		return
	}
	if err := l.ContactUp(contactID); err != nil {
		logger.Warn("stale contact-up", "link", linkName, "error", err)
		return
	}
	logger.Info("contact up", "link", linkName)
	if l.Queue.Len() > 0 {
		d.post(eventbus.NewLinkTransmitReady(linkName))
	}
}

func (d *Daemon) contactDown(linkName string, reason eventbus.ContactDownReason) {
	l := d.Get(linkName)
	if l == nil {
		return
	}
	if err := l.Close(); err != nil {
		logger.Debug("contact-down without contact", "link", linkName)
		return
	}
	logger.Info("contact down", "link", linkName, "reason", int(reason))

	// alwayson links reopen automatically after the retry interval
	if l.Type() == link.TypeAlwaysOn {
		interval := l.RetryInterval()
		name := linkName
		time.AfterFunc(interval, func() {
			d.post(eventbus.NewLinkStateChangeRequest(name, link.StateOpen, "scheduled reopen"))
		})
	}
}

// linkStateChange is the single entry point for link state transitions.
func (d *Daemon) linkStateChange(linkName string, desired link.State, reason string) {
	l := d.Get(linkName)
	if l == nil {
		logger.Warn("state change for unknown link", "link", linkName)
		return
	}

	switch desired {
	case link.StateAvailable:
		switch l.State() {
		case link.StateOpen, link.StateOpening:
			if err := l.Close(); err == nil {
				if cl := d.cl(l.ConvergenceLayer()); cl != nil {
					cl.CloseContact(l, nil)
				}
			}
			if l.Type() != link.TypeAlwaysOn {
				return
			}
			d.post(eventbus.NewLinkAvailable(linkName))
		case link.StateUnavailable:
			if err := l.MakeAvailable(); err == nil {
				d.post(eventbus.NewLinkAvailable(linkName))
			}
		}
	case link.StateOpen:
		if l.State() != link.StateAvailable {
			return
		}
		contact, err := l.Open()
		if err != nil {
			logger.Warn("link open failed", "link", linkName, "error", err)
			return
		}
		if cl := d.cl(l.ConvergenceLayer()); cl != nil {
			cl.OpenContact(l, contact)
		} else {
			d.post(eventbus.NewLinkUnavailable(linkName, "no convergence layer"))
		}
	case link.StateUnavailable:
		if l.Contact() != nil {
			if err := l.Close(); err == nil {
				if cl := d.cl(l.ConvergenceLayer()); cl != nil {
					cl.CloseContact(l, nil)
				}
			}
		}
		if err := l.MakeUnavailable(); err == nil {
			d.post(eventbus.NewLinkUnavailable(linkName, reason))
		}
	default:
		logger.Warn("unsupported link state change", "link", linkName, "desired", desired.String())
	}
}

func (d *Daemon) linkUnavailable(linkName, reason string) {
	l := d.Get(linkName)
	if l == nil {
		return
	}
	if l.State() == link.StateOpening || l.State() == link.StateOpen {
		l.ContactFailed(reason)
		// the failed link settles back to available so a retry can
		// reopen it after the backoff interval
		if l.Type() == link.TypeAlwaysOn {
			if err := l.MakeAvailable(); err == nil {
				interval := l.RetryInterval()
				name := linkName
				time.AfterFunc(interval, func() {
					d.post(eventbus.NewLinkStateChangeRequest(name, link.StateOpen, "retry after failure"))
				})
			}
		}
	}
}

func (d *Daemon) cancelAllBundles(linkName string) {
	l := d.Get(linkName)
	if l == nil {
		return
	}
	for _, b := range l.CancelAllBundles() {
		d.post(eventbus.NewBundleSendCancelled(b, linkName))
	}
	d.updateLinkMetrics(l)
}

func (d *Daemon) deleteRegistration(regid uint64) {
	r := d.regs.Remove(regid)
	if r == nil {
		return
	}
	// undelivered bundles go back to pending for rerouting or expiry
	for {
		b := r.Queue.PopFront()
		if b == nil {
			break
		}
		d.pending.Insert(b.LocalID, b)
	}
	d.post(eventbus.NewStoreRegistrationDelete(regid))
	d.post(eventbus.NewRegistrationRemoved(regid))
}

func (d *Daemon) deliverToReg(b *bundle.Bundle, regid uint64) {
	r := d.regs.Get(regid)
	if r == nil {
		logger.Warn("deliver request names unknown registration", "regid", regid)
		return
	}
	if r.Queue.PushBack(b) {
		d.post(eventbus.NewBundleDelivered(b, regid))
	}
}

func (d *Daemon) updateLinkMetrics(l *link.Link) {
	if d.metrics == nil {
		return
	}
	d.metrics.LinkQueue(l.Name(), l.Queue.BundlesQueued(), l.Queue.BytesQueued())
	d.metrics.LinkInflight(l.Name(), l.Inflight.BundlesQueued(), l.Inflight.BytesQueued())
}
