package bpwire

import (
	"sort"

	"github.com/marmos91/dtnd/pkg/sdnv"
)

// Fill is one run of contiguous custody-ids in an aggregate custody
// signal: [Start, Start+Length).
type Fill struct {
	Start  uint64
	Length uint64
}

// AggregateCustodySignal is the decoded payload of an ACS administrative
// bundle: a single outcome (success/reason) applied to every custody-id
// covered by Fills.
type AggregateCustodySignal struct {
	Succeeded bool
	Reason    Reason
	Fills     []Fill
}

// EncodeACS serializes a into an administrative-record payload.
func EncodeACS(a AggregateCustodySignal) []byte {
	var out []byte
	out = append(out, byte(AdminAggregateCustody)<<4)

	status := byte(a.Reason) & 0x7f
	if a.Succeeded {
		status |= custodySuccessBit
	}
	out = append(out, status)

	for _, f := range a.Fills {
		out = sdnv.AppendEncode(out, f.Start)
		out = sdnv.AppendEncode(out, f.Length)
	}
	return out
}

// DecodeACS parses an aggregate-custody-signal administrative-record
// payload. Fill pairs run to the end of buf.
func DecodeACS(buf []byte) (AggregateCustodySignal, error) {
	if len(buf) < 2 {
		return AggregateCustodySignal{}, ErrTruncated
	}
	header := buf[0]
	if AdminType(header>>4) != AdminAggregateCustody {
		return AggregateCustodySignal{}, ErrMalformed
	}

	var a AggregateCustodySignal
	status := buf[1]
	a.Succeeded = status&custodySuccessBit != 0
	a.Reason = Reason(status &^ custodySuccessBit)
	off := 2

	for off < len(buf) {
		start, n, err := sdnv.Decode(buf[off:])
		if err != nil {
			return AggregateCustodySignal{}, err
		}
		off += n
		length, n, err := sdnv.Decode(buf[off:])
		if err != nil {
			return AggregateCustodySignal{}, err
		}
		off += n
		a.Fills = append(a.Fills, Fill{Start: start, Length: length})
	}

	return a, nil
}

// BuildFills run-length-encodes a set of custody-ids into the minimal
// ascending fill-pair sequence ACS batching emits.
func BuildFills(ids []uint64) []Fill {
	if len(ids) == 0 {
		return nil
	}
	sorted := append([]uint64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var fills []Fill
	start := sorted[0]
	length := uint64(1)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == start+length {
			length++
			continue
		}
		if sorted[i] == sorted[i-1] {
			continue // duplicate id, already covered
		}
		fills = append(fills, Fill{Start: start, Length: length})
		start = sorted[i]
		length = 1
	}
	fills = append(fills, Fill{Start: start, Length: length})
	return fills
}

// ExpandFills reverses BuildFills, returning every custody-id covered by
// fills.
func ExpandFills(fills []Fill) []uint64 {
	var ids []uint64
	for _, f := range fills {
		for i := uint64(0); i < f.Length; i++ {
			ids = append(ids, f.Start+i)
		}
	}
	return ids
}

// Equal reports whether two aggregate custody signals cover the same
// outcome and fill sequence.
func (a AggregateCustodySignal) Equal(o AggregateCustodySignal) bool {
	if a.Succeeded != o.Succeeded || a.Reason != o.Reason || len(a.Fills) != len(o.Fills) {
		return false
	}
	for i := range a.Fills {
		if a.Fills[i] != o.Fills[i] {
			return false
		}
	}
	return true
}
