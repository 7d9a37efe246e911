package daemon

import (
	"github.com/marmos91/dtnd/internal/logger"
	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/eventbus"
)

// handleStorage is the storage processor: it persists bundle, link, and
// registration updates asynchronously so the main processor never blocks
// on disk.
func (d *Daemon) handleStorage(ev eventbus.Event) {
	switch e := ev.(type) {
	case *eventbus.StoreBundleUpdateEvent:
		if err := d.store.Update(e.Bundle); err != nil {
			logger.Error("bundle persist failed", "bundle", e.Bundle.LocalID, "error", err)
		}
	case *eventbus.StoreBundleDeleteEvent:
		if err := d.store.Del(e.LocalID); err != nil {
			logger.Error("bundle delete failed", "bundle", e.LocalID, "error", err)
		}
	case *eventbus.StoreLinkUpdateEvent:
		d.persistLink(e.LinkName)
	case *eventbus.StoreLinkDeleteEvent:
		if err := d.linkTable.Del(e.LinkName); err != nil {
			logger.Error("link delete failed", "link", e.LinkName, "error", err)
		}
	case *eventbus.StoreRegistrationUpdateEvent:
		d.persistRegistration(e.RegID)
	case *eventbus.StoreRegistrationDeleteEvent:
		if err := d.regTable.Del(formatUint(e.RegID)); err != nil {
			logger.Error("registration delete failed", "regid", e.RegID, "error", err)
		}
	default:
		logger.Warn("storage processor received unexpected event", "event", ev.Type())
	}
}

func (d *Daemon) persistLink(linkName string) {
	l := d.Get(linkName)
	if l == nil {
		return
	}
	data, err := encodeLinkRecord(l)
	if err != nil {
		logger.Error("link encode failed", "link", linkName, "error", err)
		return
	}
	if err := d.linkTable.Put(linkName, data); err != nil {
		logger.Error("link persist failed", "link", linkName, "error", err)
	}
}

func (d *Daemon) persistRegistration(regid uint64) {
	r := d.regs.Get(regid)
	if r == nil {
		return
	}
	data, err := r.Encode()
	if err != nil {
		logger.Error("registration encode failed", "regid", regid, "error", err)
		return
	}
	if err := d.regTable.Put(formatUint(regid), data); err != nil {
		logger.Error("registration persist failed", "regid", regid, "error", err)
	}
}

// handleACS is the ACS processor: received aggregate signals, issue
// requests, and pending-ACS timeouts.
func (d *Daemon) handleACS(ev eventbus.Event) {
	switch e := ev.(type) {
	case *eventbus.AggregateCustodySignalEvent:
		released := d.custody.HandleACS(e.Signal)
		logger.Info("aggregate custody signal consumed",
			"fills", len(e.Signal.Fills), "matched", len(released))
		for _, b := range released {
			if e.Signal.Succeeded {
				d.post(eventbus.NewBundleDeleteRequest(b, bpwire.ReasonNoAdditionalInfo))
			}
		}
	case *eventbus.IssueAggregateCustodySignalRequest:
		d.custody.QueuePending(e.Custodian, e.Succeeded, e.Reason, e.CustodyID)
	case *eventbus.ACSExpiredEvent:
		d.custody.Flush(e.Custodian, e.Succeeded, e.Reason)
	default:
		logger.Warn("acs processor received unexpected event", "event", ev.Type())
	}
}
