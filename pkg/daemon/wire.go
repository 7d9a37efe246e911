package daemon

import (
	"fmt"
	"io"

	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/link"
)

// primaryFromBundle flattens a bundle's addressing and flags into its
// primary block. The caller holds b's lock.
func primaryFromBundle(b *bundle.Bundle) bpwire.PrimaryBlock {
	var flags bpwire.ProcessingFlags
	if b.IsAdmin {
		flags |= bpwire.FlagIsAdmin
	}
	if b.DoNotFragment {
		flags |= bpwire.FlagDoNotFragment
	}
	if b.CustodyRequested {
		flags |= bpwire.FlagCustodyRequested
	}
	if b.SingletonDestination {
		flags |= bpwire.FlagSingletonDestination
	}
	switch b.Priority {
	case bundle.PriorityBulk:
		flags |= bpwire.FlagPriorityBulk
	case bundle.PriorityNormal:
		flags |= bpwire.FlagPriorityNormal
	case bundle.PriorityExpedited:
		flags |= bpwire.FlagPriorityExpedited
	}
	if b.Reports.Receive {
		flags |= bpwire.FlagReportReceive
	}
	if b.Reports.Custody {
		flags |= bpwire.FlagReportCustodyAccept
	}
	if b.Reports.Forward {
		flags |= bpwire.FlagReportForward
	}
	if b.Reports.Delivery {
		flags |= bpwire.FlagReportDelivery
	}
	if b.Reports.Deletion {
		flags |= bpwire.FlagReportDeletion
	}
	if b.Reports.AppAcked {
		flags |= bpwire.FlagReportAppAcked
	}

	return bpwire.PrimaryBlock{
		Flags:      flags,
		Dest:       b.Dest,
		Source:     b.GBOFID.Source,
		ReplyTo:    b.ReplyTo,
		Custodian:  b.Custodian,
		Creation:   b.GBOFID.Creation,
		Lifetime:   b.ExpirationSeconds,
		IsFragment: b.GBOFID.IsFragment,
		FragOffset: b.GBOFID.FragmentOffset,
		AppDataLen: b.GBOFID.OriginalLength,
	}
}

// bundleFromPrimary constructs a bundle from a decoded primary block
// under the given local id.
func bundleFromPrimary(localID uint64, p bpwire.PrimaryBlock) *bundle.Bundle {
	g := bundle.GBOFID{
		Source:     p.Source,
		Creation:   p.Creation,
		IsFragment: p.IsFragment,
	}
	if p.IsFragment {
		g.FragmentOffset = p.FragOffset
		g.OriginalLength = p.AppDataLen
	}

	b := bundle.New(localID, g)
	b.Dest = p.Dest
	b.ReplyTo = p.ReplyTo
	b.Custodian = p.Custodian
	b.IsAdmin = p.Flags.Has(bpwire.FlagIsAdmin)
	b.DoNotFragment = p.Flags.Has(bpwire.FlagDoNotFragment)
	b.CustodyRequested = p.Flags.Has(bpwire.FlagCustodyRequested)
	b.SingletonDestination = p.Flags.Has(bpwire.FlagSingletonDestination)
	b.Priority = bundle.Priority(p.Flags.Priority())
	b.Reports = bundle.ReportRequests{
		Receive:  p.Flags.Has(bpwire.FlagReportReceive),
		Custody:  p.Flags.Has(bpwire.FlagReportCustodyAccept),
		Forward:  p.Flags.Has(bpwire.FlagReportForward),
		Delivery: p.Flags.Has(bpwire.FlagReportDelivery),
		Deletion: p.Flags.Has(bpwire.FlagReportDeletion),
		AppAcked: p.Flags.Has(bpwire.FlagReportAppAcked),
	}
	b.ExpirationSeconds = p.Lifetime
	return b
}

// BundleFromWire decodes a received frame into a bundle with a freshly
// allocated local id. Convergence layers call this before posting
// BundleReceived.
func (d *Daemon) BundleFromWire(data []byte) (*bundle.Bundle, error) {
	p, blocks, payload, err := bpwire.DecodeBundle(data)
	if err != nil {
		return nil, err
	}

	b := bundleFromPrimary(d.store.NextID(), p)
	b.ReceivedBlocks = blocks
	b.Payload = bundle.NewMemoryPayload(append([]byte(nil), payload...))
	d.adoptBundle(b)
	return b, nil
}

// serializeBundle produces the wire frame for one transmission of b on
// l, appending the per-link blocks the link configuration calls for: a
// previous-hop block when the link carries prevhop headers, and a CTEB
// naming this node's custody-id while the bundle is in local custody.
func (d *Daemon) serializeBundle(b *bundle.Bundle, l *link.Link) ([]byte, error) {
	payload, err := d.payloadBytes(b)
	if err != nil {
		return nil, err
	}

	b.Lock()
	defer b.Unlock()

	primary := primaryFromBundle(b)

	blocks := make([]bpwire.ExtensionBlock, 0, len(b.ReceivedBlocks)+len(b.APIBlocks)+2)
	for _, blk := range append(append([]bpwire.ExtensionBlock(nil), b.ReceivedBlocks...), b.APIBlocks...) {
		// per-hop blocks are regenerated below, never forwarded verbatim
		if blk.Type == bpwire.BlockPreviousHop || blk.Type == bpwire.BlockCustodyTransferEnhancement {
			continue
		}
		blocks = append(blocks, blk)
	}

	if l.PrevHopHeader() {
		blocks = append(blocks, bpwire.ExtensionBlock{
			Type: bpwire.BlockPreviousHop,
			Data: bpwire.EncodePreviousHop(d.cfg.LocalEID),
		})
	}
	if b.Custody.LocalCustody {
		blocks = append(blocks, bpwire.ExtensionBlock{
			Type:  bpwire.BlockCustodyTransferEnhancement,
			Flags: bpwire.BlockFlagReplicateInEveryFragment,
			Data: bpwire.EncodeCTEB(bpwire.CTEB{
				CustodyID: b.Custody.LocalCustodyID,
				Custodian: d.cfg.LocalEID,
			}),
		})
	}

	b.LinkBlocks[l.Name()] = blocks
	return bpwire.EncodeBundle(primary, blocks, payload)
}

// payloadBytes materializes b's payload, reading disk-resident payloads
// through the store's fd cache.
func (d *Daemon) payloadBytes(b *bundle.Bundle) ([]byte, error) {
	b.Lock()
	loc := b.Payload.Location
	length := b.Payload.Length
	localID := b.LocalID
	b.Unlock()

	switch loc {
	case bundle.PayloadMemory:
		b.Lock()
		defer b.Unlock()
		return b.Payload.Bytes(), nil
	case bundle.PayloadDisk:
		f, _, err := d.store.OpenPayloadFile(localID)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, length)
		if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
			return nil, err
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("daemon: bundle %d has no payload", localID)
	}
}
