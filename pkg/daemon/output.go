package daemon

import (
	"github.com/marmos91/dtnd/internal/logger"
	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/eventbus"
	"github.com/marmos91/dtnd/pkg/fragment"
	"github.com/marmos91/dtnd/pkg/link"
)

// handleOutput is the output processor: it drains link send queues,
// fragmenting oversized bundles, serializing each for the wire, and
// handing frames to the convergence layer.
func (d *Daemon) handleOutput(ev eventbus.Event) {
	switch e := ev.(type) {
	case *eventbus.LinkTransmitReadyEvent:
		d.drainLink(e.LinkName)
	default:
		logger.Warn("output processor received unexpected event", "event", ev.Type())
	}
}

func (d *Daemon) drainLink(linkName string) {
	l := d.Get(linkName)
	if l == nil {
		return
	}
	cl := d.cl(l.ConvergenceLayer())
	if cl == nil {
		logger.Warn("link has no convergence layer", "link", linkName)
		return
	}

	for l.State() == link.StateOpen {
		b := l.Queue.PopFront()
		if b == nil {
			return
		}

		b.Lock()
		payloadLen := b.Payload.Length
		noFrag := b.DoNotFragment
		b.Unlock()

		mtu := l.MTU()
		if d.cfg.ProactiveFragmentation && mtu > 0 && payloadLen > mtu {
			if noFrag {
				logger.Warn("bundle exceeds mtu with do-not-fragment set",
					"bundle", b.LocalID, "link", linkName, "mtu", mtu)
				d.post(eventbus.NewBundleSendCancelled(b, linkName))
				continue
			}
			d.fragmentForLink(b, l)
			continue
		}

		frame, err := d.serializeBundle(b, l)
		if err != nil {
			logger.Error("bundle serialization failed", "bundle", b.LocalID, "error", err)
			d.post(eventbus.NewBundleSendCancelled(b, linkName))
			continue
		}

		l.Inflight.PushBack(b)
		b.Lock()
		b.Forwarding.UpdateLatest(linkName, bundle.ForwardInFlight)
		b.Unlock()
		d.updateLinkMetrics(l)

		cl.Send(l, b, frame)
	}
}

// fragmentForLink splits b against l's MTU and requeues the fragments in
// its place; the original is retired.
func (d *Daemon) fragmentForLink(b *bundle.Bundle, l *link.Link) {
	frags, err := fragment.Proactive(b, l.MTU(), d.store.NextID)
	if err != nil {
		logger.Error("proactive fragmentation failed", "bundle", b.LocalID, "error", err)
		d.post(eventbus.NewBundleSendCancelled(b, l.Name()))
		return
	}

	logger.Info("fragmented bundle for link",
		"bundle", b.LocalID, "link", l.Name(), "fragments", len(frags), "mtu", l.MTU())

	for _, f := range frags {
		d.adoptBundle(f)
		d.all.Insert(f.GBOFID.String(), f)
		if err := d.store.Add(f); err != nil {
			logger.Warn("failed to persist fragment", "error", err)
		}
		d.scheduleExpiration(f)

		f.Lock()
		f.Forwarding.Add(l.Name(), bundle.ActionForward, bundle.ForwardQueued)
		f.Unlock()
		l.Queue.PushBack(f)
	}
	d.updateLinkMetrics(l)

	// the original's place in the network is taken by its fragments
	d.post(eventbus.NewBundleDeleteRequest(b, bpwire.ReasonNoAdditionalInfo))
	d.post(eventbus.NewLinkTransmitReady(l.Name()))
}
