package daemon

import (
	"github.com/marmos91/dtnd/internal/logger"
	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/endpoint"
	"github.com/marmos91/dtnd/pkg/eventbus"
	"github.com/marmos91/dtnd/pkg/registration"
)

// handleInput is the input processor: validation, duplicate detection,
// extension-block parsing, admin-record demultiplexing, reassembly, and
// the custody decision.
func (d *Daemon) handleInput(ev eventbus.Event) {
	switch e := ev.(type) {
	case *eventbus.BundleReceivedEvent:
		d.receiveBundle(e)
	case *eventbus.BundleAcceptRequest:
		e.Reason, e.Accepted = d.rtr.AcceptBundle(e.Bundle)
	case *eventbus.ReassemblyCompletedEvent:
		d.receiveBundle(eventbus.NewBundleReceived(e.Original, "", "", 0, false))
	default:
		logger.Warn("input processor received unexpected event", "event", ev.Type())
	}
}

func (d *Daemon) receiveBundle(e *eventbus.BundleReceivedEvent) {
	b := e.Bundle
	d.stats.received.Add(1)

	if err := b.Validate(); err != nil {
		logger.Warn("rejecting malformed bundle", "error", err)
		d.maybeStatusReport(b, bpwire.StatusDeleted, bpwire.ReasonBlockUnintelligible)
		b.Unref()
		return
	}

	if reason, ok := d.rtr.AcceptBundle(b); !ok {
		logger.Info("router rejected bundle", "reason", int(reason))
		d.maybeStatusReport(b, bpwire.StatusDeleted, reason)
		b.Unref()
		return
	}

	b.Lock()
	gbofKey := b.GBOFID.String()
	isFragment := b.GBOFID.IsFragment
	dest := b.Dest
	isAdmin := b.IsAdmin
	custodyRequested := b.CustodyRequested
	b.Unlock()

	// duplicate suppression by GBOF identity
	if existing := d.all.Find(gbofKey); existing != nil && existing != b {
		logger.Debug("dropping duplicate bundle", "gbofid", gbofKey)
		if custodyRequested {
			d.custody.Refuse(b, bpwire.ReasonRedundantReception)
		}
		b.Unref()
		return
	}

	d.parseReceivedBlocks(b, e.PrevHop)

	// administrative records addressed to this node are consumed, not
	// forwarded
	if isAdmin && endpoint.Match(string(d.cfg.LocalEID), dest) {
		d.consumeAdminRecord(b)
		b.Unref()
		return
	}

	// store admission enforces the payload quota at the edge
	if err := d.store.Add(b); err != nil {
		logger.Warn("store rejected bundle", "error", err)
		if custodyRequested {
			d.custody.Refuse(b, bpwire.ReasonDepletedStorage)
		}
		d.maybeStatusReport(b, bpwire.StatusDeleted, bpwire.ReasonDepletedStorage)
		b.Unref()
		return
	}

	d.adoptBundle(b)
	d.all.Insert(gbofKey, b)
	d.pending.Insert(b.LocalID, b)
	d.scheduleExpiration(b)

	d.maybeStatusReport(b, bpwire.StatusReceived, bpwire.ReasonNoAdditionalInfo)

	if custodyRequested {
		d.decideCustody(b)
	}

	// fragments destined for this node reassemble here; in-transit
	// fragments are routed onward like any bundle
	if isFragment && d.destinedLocally(dest) {
		if original, frags := d.reassembler.Add(b); original != nil {
			logger.Info("reassembly completed",
				"gbofid", original.GBOFID.ReassemblyKey(), "fragments", len(frags))
			for _, f := range frags {
				d.post(eventbus.NewBundleDeleteRequest(f, bpwire.ReasonNoAdditionalInfo))
			}
			d.post(eventbus.NewReassemblyCompleted(original, frags))
		}
		return
	}

	if d.deliverLocally(b, dest) {
		return
	}
	// not deliverable here: the router picks it up from the event
	// broadcast that follows this handler
}

// parseReceivedBlocks walks the wire-ordered block vector, extracting
// the previous-hop block and validating any CTEB against the custodian.
func (d *Daemon) parseReceivedBlocks(b *bundle.Bundle, clPrevHop bpwire.EID) {
	b.Lock()
	blocks := b.ReceivedBlocks
	custodian := b.Custodian
	b.PrevHop = clPrevHop
	b.Unlock()

	var kept []bpwire.ExtensionBlock
	for _, blk := range blocks {
		switch blk.Type {
		case bpwire.BlockPreviousHop:
			eid, err := bpwire.DecodePreviousHop(blk.Data)
			if err != nil {
				logger.Warn("malformed previous-hop block", "error", err)
				continue
			}
			b.Lock()
			b.PrevHop = eid
			b.Unlock()
		case bpwire.BlockCustodyTransferEnhancement:
			cteb, err := bpwire.DecodeCTEB(blk.Data)
			if err != nil {
				logger.Warn("malformed cteb", "error", err)
				continue
			}
			if d.custody.ValidCTEB(cteb, custodian) {
				b.Lock()
				b.Custody.PrevHopCustodyID = cteb.CustodyID
				b.Custody.PrevHopSupportsCTEB = true
				b.Unlock()
			} else {
				logger.Debug("cteb custodian mismatch, ignoring",
					"cteb_custodian", string(cteb.Custodian), "custodian", string(custodian))
			}
		default:
			if blk.Flags.Has(bpwire.BlockFlagDiscardIfUnprocessed) && !knownBlockType(blk.Type) {
				logger.Debug("discarding unprocessable block", "type", int(blk.Type))
				continue
			}
		}
		kept = append(kept, blk)
	}

	b.Lock()
	b.ReceivedBlocks = kept
	b.Unlock()
}

func knownBlockType(t bpwire.BlockType) bool {
	switch t {
	case bpwire.BlockPayload, bpwire.BlockPreviousHop, bpwire.BlockBundleAge,
		bpwire.BlockQuery, bpwire.BlockBundleAuthentication, bpwire.BlockPayloadIntegrity,
		bpwire.BlockPayloadConfidentiality, bpwire.BlockExtensionSecurity,
		bpwire.BlockCustodyTransferEnhancement:
		return true
	default:
		return false
	}
}

// consumeAdminRecord demultiplexes an administrative bundle addressed to
// this node by its admin-type nibble.
func (d *Daemon) consumeAdminRecord(b *bundle.Bundle) {
	payload, err := d.payloadBytes(b)
	if err != nil || len(payload) == 0 {
		logger.Warn("admin bundle with unreadable payload", "error", err)
		return
	}

	switch bpwire.AdminType(payload[0] >> 4) {
	case bpwire.AdminStatusReport:
		report, err := bpwire.DecodeStatusReport(payload)
		if err != nil {
			logger.Warn("malformed status report", "error", err)
			return
		}
		logger.Info("status report received",
			"about_source", string(report.Source),
			"asserted", int(report.Asserted),
			"reason", int(report.Reason))
	case bpwire.AdminCustodySignal:
		sig, err := bpwire.DecodeCustodySignal(payload)
		if err != nil {
			logger.Warn("malformed custody signal", "error", err)
			return
		}
		d.post(eventbus.NewCustodySignalEvent(sig))
	case bpwire.AdminAggregateCustody:
		acs, err := bpwire.DecodeACS(payload)
		if err != nil {
			logger.Warn("malformed aggregate custody signal", "error", err)
			return
		}
		d.post(eventbus.NewAggregateCustodySignalEvent(acs))
	default:
		logger.Warn("unknown administrative record type", "type", int(payload[0]>>4))
	}
}

// decideCustody consults the router's custody policy and accepts custody
// when granted.
func (d *Daemon) decideCustody(b *bundle.Bundle) {
	b.Lock()
	already := b.Custody.LocalCustody
	b.Unlock()
	if already {
		return
	}
	if !d.rtr.AcceptCustody(b) {
		return
	}

	custodyID := d.custody.Accept(b)
	d.maybeStatusReport(b, bpwire.StatusCustodyAccepted, bpwire.ReasonNoAdditionalInfo)
	d.post(eventbus.NewBundleCustodyAccepted(b, custodyID))
	d.post(eventbus.NewStoreBundleUpdate(b))
}

// destinedLocally reports whether dest names this node or one of its
// registrations.
func (d *Daemon) destinedLocally(dest bpwire.EID) bool {
	if endpoint.Match(string(d.cfg.LocalEID), dest) ||
		endpoint.Match(string(d.cfg.LocalEID)+"/*", dest) {
		return true
	}
	return len(d.regs.Matching(dest)) > 0
}

// deliverLocally pushes b onto every matching registration's delivery
// queue, honoring failure actions for detached registrations. Returns
// true if at least one delivery happened.
func (d *Daemon) deliverLocally(b *bundle.Bundle, dest bpwire.EID) bool {
	regs := d.regs.Matching(dest)
	if len(regs) == 0 {
		return false
	}

	delivered := false
	for _, r := range regs {
		if !r.Active() && r.Action == registration.FailureDrop {
			logger.Debug("dropping bundle for detached registration",
				"regid", r.RegID, "pattern", r.EndpointPattern)
			continue
		}
		// defer and exec both queue; exec additionally belongs to the
		// application surface, which consumes the queue out of process
		if r.Queue.PushBack(b) {
			delivered = true
			d.post(eventbus.NewBundleDelivered(b, r.RegID))
		}
	}
	return delivered
}

// maybeStatusReport emits a status report when b requested reporting of
// the given status.
func (d *Daemon) maybeStatusReport(b *bundle.Bundle, status bpwire.StatusFlags, reason bpwire.Reason) {
	b.Lock()
	reports := b.Reports
	b.Unlock()

	want := false
	switch status {
	case bpwire.StatusReceived:
		want = reports.Receive
	case bpwire.StatusCustodyAccepted:
		want = reports.Custody
	case bpwire.StatusForwarded:
		want = reports.Forward
	case bpwire.StatusDelivered:
		want = reports.Delivery
	case bpwire.StatusDeleted:
		want = reports.Deletion
	case bpwire.StatusAckedByApp:
		want = reports.AppAcked
	}
	if !want {
		return
	}
	d.emitStatusReport(b, status, reason)
}
