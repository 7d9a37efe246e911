package bpwire

import (
	"github.com/marmos91/dtnd/pkg/sdnv"
)

// CurrentVersion is the primary-block version byte this codec emits and
// expects.
const CurrentVersion = 0x06

// Timestamp is the bundle-protocol creation timestamp: seconds since the
// DTN epoch plus a per-second sequence number disambiguating bundles
// created by the same source within the same second.
type Timestamp struct {
	Seconds  uint64
	Sequence uint64
}

// PrimaryBlock is the decoded form of a bundle's primary block.
type PrimaryBlock struct {
	Version    uint8
	Flags      ProcessingFlags
	Dest       EID
	Source     EID
	ReplyTo    EID
	Custodian  EID
	Creation   Timestamp
	Lifetime   uint64
	IsFragment bool
	FragOffset uint64
	// AppDataLen is the total length of the original (unfragmented)
	// application data; meaningful only when IsFragment is set.
	AppDataLen uint64
}

// EncodePrimary serializes p into its wire form.
func EncodePrimary(p PrimaryBlock) ([]byte, error) {
	d := newDictionary()
	destSchemeOff, destSSPOff := d.put(p.Dest)
	srcSchemeOff, srcSSPOff := d.put(p.Source)
	replySchemeOff, replySSPOff := d.put(p.ReplyTo)
	custSchemeOff, custSSPOff := d.put(p.Custodian)

	flags := p.Flags
	if p.IsFragment {
		flags |= FlagIsFragment
	}

	// Block-length covers everything after version byte and the
	// block-length SDNV itself.
	var body []byte
	body = sdnv.AppendEncode(body, uint64(flags))
	body = sdnv.AppendEncode(body, destSchemeOff)
	body = sdnv.AppendEncode(body, destSSPOff)
	body = sdnv.AppendEncode(body, srcSchemeOff)
	body = sdnv.AppendEncode(body, srcSSPOff)
	body = sdnv.AppendEncode(body, replySchemeOff)
	body = sdnv.AppendEncode(body, replySSPOff)
	body = sdnv.AppendEncode(body, custSchemeOff)
	body = sdnv.AppendEncode(body, custSSPOff)
	body = sdnv.AppendEncode(body, p.Creation.Seconds)
	body = sdnv.AppendEncode(body, p.Creation.Sequence)
	body = sdnv.AppendEncode(body, p.Lifetime)
	body = sdnv.AppendEncode(body, uint64(len(d.buf)))
	body = append(body, d.buf...)
	if p.IsFragment {
		body = sdnv.AppendEncode(body, p.FragOffset)
		body = sdnv.AppendEncode(body, p.AppDataLen)
	}

	out := make([]byte, 0, len(body)+1+sdnv.EncodedLen(uint64(len(body))))
	out = append(out, p.version())
	out = sdnv.AppendEncode(out, uint64(len(body)))
	out = append(out, body...)
	return out, nil
}

func (p PrimaryBlock) version() uint8 {
	if p.Version != 0 {
		return p.Version
	}
	return CurrentVersion
}

// DecodePrimary parses a primary block from the front of buf, returning
// the decoded block and the number of bytes consumed.
func DecodePrimary(buf []byte) (PrimaryBlock, int, error) {
	if len(buf) < 2 {
		return PrimaryBlock{}, 0, ErrTruncated
	}
	var p PrimaryBlock
	p.Version = buf[0]
	off := 1

	blockLen, n, err := sdnv.Decode(buf[off:])
	if err != nil {
		return PrimaryBlock{}, 0, err
	}
	off += n

	if uint64(len(buf[off:])) < blockLen {
		return PrimaryBlock{}, 0, ErrTruncated
	}
	body := buf[off : off+int(blockLen)]
	total := off + int(blockLen)
	bo := 0

	readSDNV := func() (uint64, error) {
		v, n, err := sdnv.Decode(body[bo:])
		if err != nil {
			return 0, err
		}
		bo += n
		return v, nil
	}

	flagsVal, err := readSDNV()
	if err != nil {
		return PrimaryBlock{}, 0, err
	}
	p.Flags = ProcessingFlags(flagsVal)
	p.IsFragment = p.Flags.Has(FlagIsFragment)

	var destSchemeOff, destSSPOff, srcSchemeOff, srcSSPOff uint64
	var replySchemeOff, replySSPOff, custSchemeOff, custSSPOff uint64
	for _, dst := range []*uint64{
		&destSchemeOff, &destSSPOff,
		&srcSchemeOff, &srcSSPOff,
		&replySchemeOff, &replySSPOff,
		&custSchemeOff, &custSSPOff,
	} {
		v, err := readSDNV()
		if err != nil {
			return PrimaryBlock{}, 0, err
		}
		*dst = v
	}

	if p.Creation.Seconds, err = readSDNV(); err != nil {
		return PrimaryBlock{}, 0, err
	}
	if p.Creation.Sequence, err = readSDNV(); err != nil {
		return PrimaryBlock{}, 0, err
	}
	if p.Lifetime, err = readSDNV(); err != nil {
		return PrimaryBlock{}, 0, err
	}

	dictLen, err := readSDNV()
	if err != nil {
		return PrimaryBlock{}, 0, err
	}
	if uint64(len(body[bo:])) < dictLen {
		return PrimaryBlock{}, 0, ErrTruncated
	}
	dict := dictionaryReader{buf: body[bo : bo+int(dictLen)]}
	bo += int(dictLen)

	var derr error
	if p.Dest, derr = dict.eid(destSchemeOff, destSSPOff); derr != nil {
		return PrimaryBlock{}, 0, derr
	}
	if p.Source, derr = dict.eid(srcSchemeOff, srcSSPOff); derr != nil {
		return PrimaryBlock{}, 0, derr
	}
	if p.ReplyTo, derr = dict.eid(replySchemeOff, replySSPOff); derr != nil {
		return PrimaryBlock{}, 0, derr
	}
	if p.Custodian, derr = dict.eid(custSchemeOff, custSSPOff); derr != nil {
		return PrimaryBlock{}, 0, derr
	}

	if p.IsFragment {
		if p.FragOffset, err = readSDNV(); err != nil {
			return PrimaryBlock{}, 0, err
		}
		if p.AppDataLen, err = readSDNV(); err != nil {
			return PrimaryBlock{}, 0, err
		}
	}

	return p, total, nil
}

// Equal reports whether two primary blocks are identical in every field
// the wire format carries, independent of dictionary layout.
func (p PrimaryBlock) Equal(o PrimaryBlock) bool {
	return p.version() == o.version() &&
		p.Flags == o.Flags &&
		p.Dest == o.Dest &&
		p.Source == o.Source &&
		p.ReplyTo == o.ReplyTo &&
		p.Custodian == o.Custodian &&
		p.Creation == o.Creation &&
		p.Lifetime == o.Lifetime &&
		p.IsFragment == o.IsFragment &&
		p.FragOffset == o.FragOffset &&
		p.AppDataLen == o.AppDataLen
}
