package bpwire

import "github.com/marmos91/dtnd/pkg/sdnv"

// AdminType is the high-nibble discriminator of an administrative record.
type AdminType uint8

const (
	AdminStatusReport       AdminType = 0x1
	AdminCustodySignal      AdminType = 0x2
	AdminAggregateCustody   AdminType = 0x4
)

// adminIsFragmentBit is the low nibble's "bundle in question is a
// fragment" flag, shared by status reports and custody signals.
const adminIsFragmentBit = 0x1

// StatusFlags names which of the six report-request bits this report
// asserts, in the fixed wire order received/custody-accepted/forwarded/
// delivered/deleted/acked-by-app.
type StatusFlags uint8

const (
	StatusReceived StatusFlags = 1 << iota
	StatusCustodyAccepted
	StatusForwarded
	StatusDelivered
	StatusDeleted
	StatusAckedByApp
)

// statusBitOrder fixes the wire order timestamps are emitted in: it must
// match the bit declaration order above exactly.
var statusBitOrder = []StatusFlags{
	StatusReceived, StatusCustodyAccepted, StatusForwarded,
	StatusDelivered, StatusDeleted, StatusAckedByApp,
}

// Reason is the shared status-report / custody-signal reason code space.
type Reason uint8

const (
	ReasonNoAdditionalInfo      Reason = 0x00
	ReasonLifetimeExpired       Reason = 0x01
	ReasonForwardedUnidirectional Reason = 0x02
	ReasonTransmissionCancelled Reason = 0x03
	ReasonDepletedStorage       Reason = 0x04
	ReasonDestinationUnintelligible Reason = 0x05
	ReasonNoRoute               Reason = 0x06
	ReasonNoTimelyContact       Reason = 0x07
	ReasonBlockUnintelligible   Reason = 0x08
	ReasonRedundantReception    Reason = 0x0b
)

// StatusReport is the decoded payload of a status-report administrative
// bundle.
type StatusReport struct {
	Asserted   StatusFlags
	Reason     Reason
	IsFragment bool
	FragOffset uint64
	FragLength uint64
	// Timestamps holds one entry per bit set in Asserted, in the fixed
	// wire order (statusBitOrder), recording when that status was
	// reached.
	Timestamps         map[StatusFlags]Timestamp
	OriginalCreation   Timestamp
	Source             EID
}

// EncodeStatusReport serializes r into an administrative-record payload
// (the payload of an is-admin bundle, not a full bundle).
func EncodeStatusReport(r StatusReport) []byte {
	var out []byte

	header := byte(AdminStatusReport) << 4
	if r.IsFragment {
		header |= adminIsFragmentBit
	}
	out = append(out, header)
	out = append(out, byte(r.Asserted))
	out = append(out, byte(r.Reason))

	if r.IsFragment {
		out = sdnv.AppendEncode(out, r.FragOffset)
		out = sdnv.AppendEncode(out, r.FragLength)
	}

	for _, bit := range statusBitOrder {
		if r.Asserted&bit == 0 {
			continue
		}
		ts := r.Timestamps[bit]
		out = sdnv.AppendEncode(out, ts.Seconds)
		out = sdnv.AppendEncode(out, ts.Sequence)
	}

	out = sdnv.AppendEncode(out, r.OriginalCreation.Seconds)
	out = sdnv.AppendEncode(out, r.OriginalCreation.Sequence)

	srcBytes := []byte(r.Source)
	out = sdnv.AppendEncode(out, uint64(len(srcBytes)))
	out = append(out, srcBytes...)

	return out
}

// DecodeStatusReport parses a status-report administrative-record
// payload.
func DecodeStatusReport(buf []byte) (StatusReport, error) {
	if len(buf) < 3 {
		return StatusReport{}, ErrTruncated
	}
	header := buf[0]
	if AdminType(header>>4) != AdminStatusReport {
		return StatusReport{}, ErrMalformed
	}
	var r StatusReport
	r.IsFragment = header&adminIsFragmentBit != 0
	r.Asserted = StatusFlags(buf[1])
	r.Reason = Reason(buf[2])
	off := 3

	readSDNV := func() (uint64, error) {
		v, n, err := sdnv.Decode(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
		return v, nil
	}

	var err error
	if r.IsFragment {
		if r.FragOffset, err = readSDNV(); err != nil {
			return StatusReport{}, err
		}
		if r.FragLength, err = readSDNV(); err != nil {
			return StatusReport{}, err
		}
	}

	r.Timestamps = make(map[StatusFlags]Timestamp)
	for _, bit := range statusBitOrder {
		if r.Asserted&bit == 0 {
			continue
		}
		sec, err := readSDNV()
		if err != nil {
			return StatusReport{}, err
		}
		seq, err := readSDNV()
		if err != nil {
			return StatusReport{}, err
		}
		r.Timestamps[bit] = Timestamp{Seconds: sec, Sequence: seq}
	}

	if r.OriginalCreation.Seconds, err = readSDNV(); err != nil {
		return StatusReport{}, err
	}
	if r.OriginalCreation.Sequence, err = readSDNV(); err != nil {
		return StatusReport{}, err
	}

	srcLen, err := readSDNV()
	if err != nil {
		return StatusReport{}, err
	}
	if uint64(len(buf[off:])) < srcLen {
		return StatusReport{}, ErrTruncated
	}
	r.Source = EID(buf[off : off+int(srcLen)])
	off += int(srcLen)

	return r, nil
}

// Equal reports whether two status reports carry the same asserted
// status set, reason, fragment info, and per-status timestamps.
func (r StatusReport) Equal(o StatusReport) bool {
	if r.Asserted != o.Asserted || r.Reason != o.Reason ||
		r.IsFragment != o.IsFragment || r.FragOffset != o.FragOffset ||
		r.FragLength != o.FragLength || r.OriginalCreation != o.OriginalCreation ||
		r.Source != o.Source {
		return false
	}
	for bit, ts := range r.Timestamps {
		if o.Timestamps[bit] != ts {
			return false
		}
	}
	return len(r.Timestamps) == len(o.Timestamps)
}
