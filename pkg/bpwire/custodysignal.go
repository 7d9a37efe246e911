package bpwire

import "github.com/marmos91/dtnd/pkg/sdnv"

// custodySuccessBit is bit 7 of the custody-signal status byte; bits 6-0
// carry the reason code.
const custodySuccessBit = 0x80

// CustodySignal is the decoded payload of a custody-signal administrative
// bundle.
type CustodySignal struct {
	Succeeded        bool
	Reason           Reason
	IsFragment       bool
	FragOffset       uint64
	FragLength       uint64
	SignalTime       Timestamp
	OriginalCreation Timestamp
	Source           EID
}

// EncodeCustodySignal serializes c into an administrative-record payload.
func EncodeCustodySignal(c CustodySignal) []byte {
	var out []byte

	header := byte(AdminCustodySignal) << 4
	if c.IsFragment {
		header |= adminIsFragmentBit
	}
	out = append(out, header)

	status := byte(c.Reason) & 0x7f
	if c.Succeeded {
		status |= custodySuccessBit
	}
	out = append(out, status)

	if c.IsFragment {
		out = sdnv.AppendEncode(out, c.FragOffset)
		out = sdnv.AppendEncode(out, c.FragLength)
	}

	out = sdnv.AppendEncode(out, c.SignalTime.Seconds)
	out = sdnv.AppendEncode(out, c.SignalTime.Sequence)
	out = sdnv.AppendEncode(out, c.OriginalCreation.Seconds)
	out = sdnv.AppendEncode(out, c.OriginalCreation.Sequence)

	srcBytes := []byte(c.Source)
	out = sdnv.AppendEncode(out, uint64(len(srcBytes)))
	out = append(out, srcBytes...)

	return out
}

// DecodeCustodySignal parses a custody-signal administrative-record
// payload.
func DecodeCustodySignal(buf []byte) (CustodySignal, error) {
	if len(buf) < 2 {
		return CustodySignal{}, ErrTruncated
	}
	header := buf[0]
	if AdminType(header>>4) != AdminCustodySignal {
		return CustodySignal{}, ErrMalformed
	}
	var c CustodySignal
	c.IsFragment = header&adminIsFragmentBit != 0

	status := buf[1]
	c.Succeeded = status&custodySuccessBit != 0
	c.Reason = Reason(status &^ custodySuccessBit)
	off := 2

	readSDNV := func() (uint64, error) {
		v, n, err := sdnv.Decode(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
		return v, nil
	}

	var err error
	if c.IsFragment {
		if c.FragOffset, err = readSDNV(); err != nil {
			return CustodySignal{}, err
		}
		if c.FragLength, err = readSDNV(); err != nil {
			return CustodySignal{}, err
		}
	}

	if c.SignalTime.Seconds, err = readSDNV(); err != nil {
		return CustodySignal{}, err
	}
	if c.SignalTime.Sequence, err = readSDNV(); err != nil {
		return CustodySignal{}, err
	}
	if c.OriginalCreation.Seconds, err = readSDNV(); err != nil {
		return CustodySignal{}, err
	}
	if c.OriginalCreation.Sequence, err = readSDNV(); err != nil {
		return CustodySignal{}, err
	}

	srcLen, err := readSDNV()
	if err != nil {
		return CustodySignal{}, err
	}
	if uint64(len(buf[off:])) < srcLen {
		return CustodySignal{}, ErrTruncated
	}
	c.Source = EID(buf[off : off+int(srcLen)])
	off += int(srcLen)

	return c, nil
}

// Equal reports whether two custody signals carry the same outcome,
// reason, fragment info, and timestamps.
func (c CustodySignal) Equal(o CustodySignal) bool {
	return c.Succeeded == o.Succeeded && c.Reason == o.Reason &&
		c.IsFragment == o.IsFragment && c.FragOffset == o.FragOffset &&
		c.FragLength == o.FragLength && c.SignalTime == o.SignalTime &&
		c.OriginalCreation == o.OriginalCreation && c.Source == o.Source
}
