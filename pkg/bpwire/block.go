package bpwire

import "github.com/marmos91/dtnd/pkg/sdnv"

// BlockType identifies an extension block's wire type byte.
type BlockType uint8

const (
	BlockPayload                    BlockType = 0x01
	BlockPreviousHop                BlockType = 0x06
	BlockBundleAge                  BlockType = 0x07
	BlockQuery                      BlockType = 0x08 // BPQ
	BlockBundleAuthentication       BlockType = 0x02
	BlockPayloadIntegrity           BlockType = 0x03
	BlockPayloadConfidentiality     BlockType = 0x04
	BlockExtensionSecurity          BlockType = 0x09
	BlockCustodyTransferEnhancement BlockType = 0x0a
)

// BlockFlags holds the per-block processing flags, an SDNV bitfield.
type BlockFlags uint64

const (
	BlockFlagReplicateInEveryFragment BlockFlags = 1 << iota
	BlockFlagReportIfUnprocessed
	BlockFlagDeleteBundleIfUnprocessed
	BlockFlagLastBlock
	BlockFlagDiscardIfUnprocessed
	BlockFlagForwardedWithoutProcessing
	BlockFlagEIDReferencesPresent
)

func (f BlockFlags) Has(bit BlockFlags) bool { return f&bit != 0 }

// ExtensionBlock is the decoded form of one extension block: {type, flags,
// optional EID references, data}. Blocks of a type this codec does not
// know about decode into the same struct with Type left as the raw
// wire-type byte; callers consult DiscardIfUnprocessed per the
// "discard block if not understood" convention.
type ExtensionBlock struct {
	Type       BlockType
	Flags      BlockFlags
	EIDRefs    []EID // resolved via the primary block's dictionary, when present
	Data       []byte
}

// EncodeExtensionBlock serializes b. EID references are written as
// dictionary offset pairs; dict must be the same dictionary used to
// encode the enclosing bundle's primary block so offsets resolve
// correctly on the decode side.
func EncodeExtensionBlock(b ExtensionBlock, dict *dictionaryBuilder) []byte {
	var out []byte
	out = append(out, byte(b.Type))
	flags := b.Flags
	if len(b.EIDRefs) > 0 {
		flags |= BlockFlagEIDReferencesPresent
	}
	out = sdnv.AppendEncode(out, uint64(flags))

	if len(b.EIDRefs) > 0 {
		out = sdnv.AppendEncode(out, uint64(len(b.EIDRefs)))
		for _, e := range b.EIDRefs {
			schemeOff, sspOff := dict.d.put(e)
			out = sdnv.AppendEncode(out, schemeOff)
			out = sdnv.AppendEncode(out, sspOff)
		}
	}

	out = sdnv.AppendEncode(out, uint64(len(b.Data)))
	out = append(out, b.Data...)
	return out
}

// DecodeExtensionBlock parses one extension block from the front of buf.
// dict resolves any EID references; pass a zero-value dictionaryReader
// (via NewDictionaryReader(nil)) if none are expected.
func DecodeExtensionBlock(buf []byte, dict dictionaryReader) (ExtensionBlock, int, error) {
	if len(buf) < 1 {
		return ExtensionBlock{}, 0, ErrTruncated
	}
	var b ExtensionBlock
	b.Type = BlockType(buf[0])
	off := 1

	flagsVal, n, err := sdnv.Decode(buf[off:])
	if err != nil {
		return ExtensionBlock{}, 0, err
	}
	b.Flags = BlockFlags(flagsVal)
	off += n

	if b.Flags.Has(BlockFlagEIDReferencesPresent) {
		count, n, err := sdnv.Decode(buf[off:])
		if err != nil {
			return ExtensionBlock{}, 0, err
		}
		off += n
		b.EIDRefs = make([]EID, 0, count)
		for i := uint64(0); i < count; i++ {
			schemeOff, n, err := sdnv.Decode(buf[off:])
			if err != nil {
				return ExtensionBlock{}, 0, err
			}
			off += n
			sspOff, n, err := sdnv.Decode(buf[off:])
			if err != nil {
				return ExtensionBlock{}, 0, err
			}
			off += n
			e, err := dict.eid(schemeOff, sspOff)
			if err != nil {
				return ExtensionBlock{}, 0, err
			}
			b.EIDRefs = append(b.EIDRefs, e)
		}
	}

	dataLen, n, err := sdnv.Decode(buf[off:])
	if err != nil {
		return ExtensionBlock{}, 0, err
	}
	off += n

	if uint64(len(buf[off:])) < dataLen {
		return ExtensionBlock{}, 0, ErrTruncated
	}
	b.Data = append([]byte(nil), buf[off:off+int(dataLen)]...)
	off += int(dataLen)

	return b, off, nil
}

// dictionaryBuilder exposes the encode-time dictionary to extension block
// encoding without making the internal dictionary type public.
type dictionaryBuilder struct {
	d *dictionary
}

// NewDictionaryBuilder wraps a fresh dictionary for extension-block
// encoding alongside a primary block.
func NewDictionaryBuilder() *dictionaryBuilder {
	return &dictionaryBuilder{d: newDictionary()}
}

// Bytes returns the accumulated dictionary bytes, to be spliced into the
// primary block (or appended independently, depending on wire layout
// chosen by the caller).
func (b *dictionaryBuilder) Bytes() []byte { return b.d.buf }

// NewDictionaryReader wraps raw dictionary bytes decoded from a primary
// block for resolving extension-block EID references.
func NewDictionaryReader(buf []byte) dictionaryReader {
	return dictionaryReader{buf: buf}
}
