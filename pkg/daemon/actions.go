package daemon

import (
	"time"

	"github.com/marmos91/dtnd/internal/logger"
	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/eventbus"
	"github.com/marmos91/dtnd/pkg/link"
	"github.com/marmos91/dtnd/pkg/route"
)

// Actions returns the daemon's router-facing action surface. Every
// method posts an event; routers never mutate daemon state directly.
func (d *Daemon) Actions() *DaemonActions {
	return &DaemonActions{d: d}
}

// DaemonActions implements router.Actions over the event bus.
type DaemonActions struct {
	d *Daemon
}

func (a *DaemonActions) SendBundle(b *bundle.Bundle, linkName string, action bundle.ForwardAction) {
	a.d.post(eventbus.NewBundleSendRequest(b, linkName, action))
}

func (a *DaemonActions) CancelBundle(b *bundle.Bundle, linkName string) {
	a.d.post(eventbus.NewBundleCancelRequest(b, linkName))
}

func (a *DaemonActions) OpenLink(linkName string) {
	a.d.post(eventbus.NewLinkStateChangeRequest(linkName, link.StateOpen, "router request"))
}

func (a *DaemonActions) CloseLink(linkName string) {
	a.d.post(eventbus.NewLinkStateChangeRequest(linkName, link.StateAvailable, "router request"))
}

func (a *DaemonActions) AddRoute(e route.Entry) {
	a.d.post(eventbus.NewRouteAdd(e))
}

func (a *DaemonActions) DeleteRoute(destPattern string) {
	a.d.post(eventbus.NewRouteDel(destPattern))
}

// defaultAdminLifetime bounds administrative bundles this node
// originates.
const defaultAdminLifetime = 24 * 3600

var adminSeq struct {
	lastSecond uint64
	sequence   uint64
}

// newAdminBundle builds a locally sourced administrative bundle carrying
// payload, addressed to dest. Admin bundles never request reports or
// custody and are never fragmented.
func (d *Daemon) newAdminBundle(dest bpwire.EID, payload []byte) *bundle.Bundle {
	now := DTNTime(time.Now())

	d.linkMu.Lock()
	if adminSeq.lastSecond == now {
		adminSeq.sequence++
	} else {
		adminSeq.lastSecond = now
		adminSeq.sequence = 0
	}
	seq := adminSeq.sequence
	d.linkMu.Unlock()

	b := bundle.New(d.store.NextID(), bundle.GBOFID{
		Source:   d.cfg.LocalEID,
		Creation: bpwire.Timestamp{Seconds: now, Sequence: seq},
	})
	b.Dest = dest
	b.IsAdmin = true
	b.DoNotFragment = true
	b.SingletonDestination = true
	b.ExpirationSeconds = defaultAdminLifetime
	b.Payload = bundle.NewMemoryPayload(payload)
	d.adoptBundle(b)
	return b
}

// emitCustodySignal wraps a custody signal into an admin bundle and
// injects it toward the previous custodian.
func (d *Daemon) emitCustodySignal(dest bpwire.EID, sig bpwire.CustodySignal) {
	b := d.newAdminBundle(dest, bpwire.EncodeCustodySignal(sig))
	logger.Debug("emitting custody signal",
		"dest", string(dest), "succeeded", sig.Succeeded, "reason", int(sig.Reason))
	d.post(eventbus.NewBundleInjectRequest(b, ""))
}

// emitACS wraps an aggregate custody signal into an admin bundle and
// injects it toward the upstream custodian.
func (d *Daemon) emitACS(dest bpwire.EID, acs bpwire.AggregateCustodySignal) {
	if d.metrics != nil {
		total := 0
		for _, f := range acs.Fills {
			total += int(f.Length)
		}
		d.metrics.ACSBatch(total)
	}
	b := d.newAdminBundle(dest, bpwire.EncodeACS(acs))
	logger.Debug("emitting aggregate custody signal",
		"dest", string(dest), "fills", len(acs.Fills))
	d.post(eventbus.NewBundleInjectRequest(b, ""))
}

// emitStatusReport generates a status report about b, asserting the
// given flags, addressed to b's reply-to (falling back to its source).
func (d *Daemon) emitStatusReport(b *bundle.Bundle, asserted bpwire.StatusFlags, reason bpwire.Reason) {
	b.Lock()
	dest := b.ReplyTo
	if dest == "" || dest == "dtn:none" {
		dest = b.GBOFID.Source
	}
	report := bpwire.StatusReport{
		Asserted:         asserted,
		Reason:           reason,
		IsFragment:       b.GBOFID.IsFragment,
		FragOffset:       b.GBOFID.FragmentOffset,
		FragLength:       b.Payload.Length,
		OriginalCreation: b.GBOFID.Creation,
		Source:           b.GBOFID.Source,
	}
	b.Unlock()

	if dest == "" || dest == "dtn:none" {
		return
	}

	now := bpwire.Timestamp{Seconds: DTNTime(time.Now())}
	report.Timestamps = make(map[bpwire.StatusFlags]bpwire.Timestamp)
	for bit := bpwire.StatusReceived; bit <= bpwire.StatusAckedByApp; bit <<= 1 {
		if asserted&bit != 0 {
			report.Timestamps[bit] = now
		}
	}

	admin := d.newAdminBundle(dest, bpwire.EncodeStatusReport(report))
	d.post(eventbus.NewBundleInjectRequest(admin, ""))
}
