package bundlestore

import (
	"encoding/json"

	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
)

// record is the JSON-encoded on-disk form of a bundle, covering every
// field that survives a restart. Transient fields (the mutex, the
// mapping set, the live reference count, the onFree callback) are
// rebuilt fresh when a record is loaded back into a *bundle.Bundle.
type record struct {
	LocalID uint64 `json:"local_id"`
	GBOFID  struct {
		Source         bpwire.EID       `json:"source"`
		Creation       bpwire.Timestamp `json:"creation"`
		IsFragment     bool             `json:"is_fragment"`
		FragmentOffset uint64           `json:"fragment_offset"`
		OriginalLength uint64           `json:"original_length"`
	} `json:"gbofid"`

	Dest      bpwire.EID `json:"dest"`
	ReplyTo   bpwire.EID `json:"reply_to"`
	Custodian bpwire.EID `json:"custodian"`
	PrevHop   bpwire.EID `json:"prev_hop"`

	IsAdmin              bool            `json:"is_admin"`
	DoNotFragment        bool            `json:"do_not_fragment"`
	CustodyRequested     bool            `json:"custody_requested"`
	SingletonDestination bool            `json:"singleton_destination"`
	Priority             bundle.Priority `json:"priority"`
	Reports              bundle.ReportRequests `json:"reports"`

	ExpirationSeconds uint64 `json:"expiration_seconds"`
	Age               uint64 `json:"age"`

	PayloadLocation bundle.PayloadLocation `json:"payload_location"`
	PayloadLength   uint64                 `json:"payload_length"`
	PayloadFilename string                 `json:"payload_filename"`
	SpaceReserved   bool                   `json:"space_reserved"`

	ReceivedBlocks []bpwire.ExtensionBlock          `json:"received_blocks,omitempty"`
	APIBlocks      []bpwire.ExtensionBlock          `json:"api_blocks,omitempty"`
	LinkBlocks     map[string][]bpwire.ExtensionBlock `json:"link_blocks,omitempty"`

	Forwarding []bundle.ForwardingLogEntry `json:"forwarding,omitempty"`

	Custody bundle.CustodyState `json:"custody"`
}

func toRecord(b *bundle.Bundle, spaceReserved bool) record {
	var r record
	r.LocalID = b.LocalID
	r.GBOFID.Source = b.GBOFID.Source
	r.GBOFID.Creation = b.GBOFID.Creation
	r.GBOFID.IsFragment = b.GBOFID.IsFragment
	r.GBOFID.FragmentOffset = b.GBOFID.FragmentOffset
	r.GBOFID.OriginalLength = b.GBOFID.OriginalLength

	r.Dest = b.Dest
	r.ReplyTo = b.ReplyTo
	r.Custodian = b.Custodian
	r.PrevHop = b.PrevHop

	r.IsAdmin = b.IsAdmin
	r.DoNotFragment = b.DoNotFragment
	r.CustodyRequested = b.CustodyRequested
	r.SingletonDestination = b.SingletonDestination
	r.Priority = b.Priority
	r.Reports = b.Reports

	r.ExpirationSeconds = b.ExpirationSeconds
	r.Age = b.Age

	r.PayloadLocation = b.Payload.Location
	r.PayloadLength = b.Payload.Length
	r.PayloadFilename = b.Payload.Filename
	r.SpaceReserved = spaceReserved

	r.ReceivedBlocks = b.ReceivedBlocks
	r.APIBlocks = b.APIBlocks
	r.LinkBlocks = b.LinkBlocks

	r.Forwarding = b.Forwarding.Entries()
	r.Custody = b.Custody
	return r
}

func fromRecord(r record) *bundle.Bundle {
	b := bundle.New(r.LocalID, bundle.GBOFID{
		Source:         r.GBOFID.Source,
		Creation:       r.GBOFID.Creation,
		IsFragment:     r.GBOFID.IsFragment,
		FragmentOffset: r.GBOFID.FragmentOffset,
		OriginalLength: r.GBOFID.OriginalLength,
	})
	b.Dest = r.Dest
	b.ReplyTo = r.ReplyTo
	b.Custodian = r.Custodian
	b.PrevHop = r.PrevHop

	b.IsAdmin = r.IsAdmin
	b.DoNotFragment = r.DoNotFragment
	b.CustodyRequested = r.CustodyRequested
	b.SingletonDestination = r.SingletonDestination
	b.Priority = r.Priority
	b.Reports = r.Reports

	b.ExpirationSeconds = r.ExpirationSeconds
	b.Age = r.Age

	switch r.PayloadLocation {
	case bundle.PayloadDisk:
		b.Payload = bundle.NewDiskPayload(r.PayloadFilename, r.PayloadLength)
	case bundle.PayloadMemory:
		// Memory-resident payloads are not persisted by value; reloading
		// a bundle whose payload never hit disk loses the bytes. Only the
		// length is preserved for accounting.
		b.Payload = bundle.Payload{Location: bundle.PayloadMemory, Length: r.PayloadLength}
	}

	if r.ReceivedBlocks != nil {
		b.ReceivedBlocks = r.ReceivedBlocks
	}
	if r.APIBlocks != nil {
		b.APIBlocks = r.APIBlocks
	}
	if r.LinkBlocks != nil {
		b.LinkBlocks = r.LinkBlocks
	}
	for _, e := range r.Forwarding {
		b.Forwarding.AddEntry(e)
	}
	b.Custody = r.Custody
	return b
}

func encodeRecord(r record) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRecord(data []byte) (record, error) {
	var r record
	err := json.Unmarshal(data, &r)
	return r, err
}
