package daemon

import (
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/link"
)

// ConvergenceLayer is the contract a transport adapter implements to
// carry bundles over a link. Adapters never mutate daemon state: every
// outcome is reported by posting events (ContactUp, LinkUnavailable,
// BundleTransmitted, ...) through the bus handed to them at
// registration.
type ConvergenceLayer interface {
	// Name identifies the adapter in link configuration ("tcp", "udp",
	// "ltp", ...).
	Name() string

	// OpenContact initiates a session for the pending contact allocated
	// by the link's Open. The adapter posts ContactUp on success or
	// LinkUnavailable with a reason on failure; it must not block.
	OpenContact(l *link.Link, c *link.Contact)

	// CloseContact tears the session down. The adapter posts ContactDown
	// once the session is gone.
	CloseContact(l *link.Link, c *link.Contact)

	// Send transmits one serialized bundle. Completion (full or partial)
	// is reported by posting BundleTransmitted; failure by posting
	// LinkUnavailable. Must not block the output processor.
	Send(l *link.Link, b *bundle.Bundle, frame []byte)

	// Cancel aborts a pending or in-flight transmission, if the
	// underlying transport can.
	Cancel(l *link.Link, b *bundle.Bundle)
}
