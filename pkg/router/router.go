// Package router defines the pluggable routing contract: a router
// consumes the event stream and calls back into the daemon through the
// Actions interface. All mutation flows through the event bus; routers
// never touch daemon state directly.
package router

import (
	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/eventbus"
	"github.com/marmos91/dtnd/pkg/link"
	"github.com/marmos91/dtnd/pkg/route"
)

// Actions is the daemon surface a router drives. Every method posts an
// event; none mutate synchronously from the router's thread.
type Actions interface {
	SendBundle(b *bundle.Bundle, linkName string, action bundle.ForwardAction)
	CancelBundle(b *bundle.Bundle, linkName string)
	OpenLink(linkName string)
	CloseLink(linkName string)
	AddRoute(e route.Entry)
	DeleteRoute(destPattern string)
}

// Links is the read-only link table view routers consult.
type Links interface {
	Get(name string) *link.Link
	All() []*link.Link
}

// Pending is the read-only view of bundles awaiting a forwarding
// decision.
type Pending interface {
	ForEachPending(fn func(b *bundle.Bundle))
}

// Router decides which links each bundle is queued on, and answers the
// policy questions the core consults it for.
type Router interface {
	// HandleEvent receives every non-daemon-only event after the
	// processor that handles it finishes with it.
	HandleEvent(ev eventbus.Event)

	// AcceptBundle gates bundle admission at input; rejection carries a
	// status-report reason.
	AcceptBundle(b *bundle.Bundle) (bpwire.Reason, bool)

	// AcceptCustody decides whether this node takes custody of b.
	AcceptCustody(b *bundle.Bundle) bool

	// CanDeleteBundle gates bundle destruction.
	CanDeleteBundle(b *bundle.Bundle) bool

	// DeleteBundle is the cleanup hook invoked when the core destroys b.
	DeleteBundle(b *bundle.Bundle)

	// Shutdown releases router resources.
	Shutdown()
}
