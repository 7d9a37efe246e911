package router

import (
	"github.com/marmos91/dtnd/internal/logger"
	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/eventbus"
	"github.com/marmos91/dtnd/pkg/link"
	"github.com/marmos91/dtnd/pkg/route"
)

// StaticConfig parameterizes the table-based router.
type StaticConfig struct {
	// AcceptCustody is the node-wide custody acceptance policy.
	AcceptCustody bool
}

// Static is the table-based router the core ships: it resolves each
// bundle's destination against the route table and queues the bundle on
// the winning link(s), deferring when a link is congested.
type Static struct {
	cfg     StaticConfig
	table   *route.Table
	links   Links
	pending Pending
	actions Actions
}

// NewStatic constructs the static router over the shared route table.
func NewStatic(cfg StaticConfig, table *route.Table, links Links, pending Pending, actions Actions) *Static {
	return &Static{cfg: cfg, table: table, links: links, pending: pending, actions: actions}
}

// HandleEvent re-evaluates routing on every event that can change a
// forwarding decision: a new bundle, a link or route coming up, or a
// deferred-check tick.
func (r *Static) HandleEvent(ev eventbus.Event) {
	switch e := ev.(type) {
	case *eventbus.BundleReceivedEvent:
		r.routeBundle(e.Bundle)
	case *eventbus.BundleInjectedEvent:
		r.routeBundle(e.Bundle)
	case *eventbus.ContactUpEvent:
		r.recompute()
	case *eventbus.LinkAvailableEvent:
		r.recompute()
	case *eventbus.LinkCreatedEvent:
		r.recompute()
	case *eventbus.RouteAddEvent:
		r.recompute()
	case *eventbus.RouteRecomputeEvent:
		r.recompute()
	case *eventbus.LinkCheckDeferredEvent:
		r.checkDeferred(e.LinkName)
	case *eventbus.BundleSendCancelledEvent:
		// give the cancelled bundle another chance elsewhere
		r.routeBundle(e.Bundle)
	}
}

// AcceptBundle admits every well-formed bundle; storage pressure is
// enforced by the store itself at input.
func (r *Static) AcceptBundle(b *bundle.Bundle) (bpwire.Reason, bool) {
	if err := b.Validate(); err != nil {
		return bpwire.ReasonBlockUnintelligible, false
	}
	return bpwire.ReasonNoAdditionalInfo, true
}

// AcceptCustody applies the configured node-wide policy.
func (r *Static) AcceptCustody(b *bundle.Bundle) bool {
	if !r.cfg.AcceptCustody {
		return false
	}
	b.Lock()
	defer b.Unlock()
	return b.CustodyRequested
}

// CanDeleteBundle never vetoes destruction.
func (r *Static) CanDeleteBundle(*bundle.Bundle) bool { return true }

// DeleteBundle has no per-router state to clean.
func (r *Static) DeleteBundle(*bundle.Bundle) {}

// Shutdown has no resources to release.
func (r *Static) Shutdown() {}

// routeBundle resolves b against the route table and queues it on the
// selected link(s). Copy-action entries replicate b onto every matching
// link; the best forward-action entry consumes it.
func (r *Static) routeBundle(b *bundle.Bundle) {
	b.Lock()
	dest := b.Dest
	b.Unlock()

	entries := r.table.LookupAll(dest)
	if len(entries) == 0 {
		return
	}

	for _, e := range entries {
		l := r.links.Get(e.LinkName)
		if l == nil || !l.Usable() {
			continue
		}

		b.Lock()
		state, logged := b.Forwarding.LatestState(e.LinkName)
		b.Unlock()
		if logged && (state == bundle.ForwardQueued || state == bundle.ForwardInFlight || state == bundle.ForwardTransmitted || state == bundle.ForwardDelivered) {
			if e.Action == bundle.ActionForward {
				return
			}
			continue
		}

		if l.QueueIsFull() {
			l.IncrDeferred()
			logger.Debug("deferring bundle, link congested", "link", e.LinkName)
			continue
		}

		if l.State() == link.StateAvailable {
			r.actions.OpenLink(e.LinkName)
		}
		r.actions.SendBundle(b, e.LinkName, e.Action)

		if e.Action == bundle.ActionForward {
			return
		}
	}
}

// recompute re-routes every pending bundle after a topology change.
func (r *Static) recompute() {
	r.pending.ForEachPending(func(b *bundle.Bundle) {
		r.routeBundle(b)
	})
}

// checkDeferred retries bundles deferred on a congested link once it
// reports space again.
func (r *Static) checkDeferred(linkName string) {
	l := r.links.Get(linkName)
	if l == nil {
		return
	}
	if !l.QueueHasSpace() {
		return
	}
	for l.DeferredCount() > 0 {
		l.DecrDeferred()
	}
	r.recompute()
}
