package bpwire

// EncodeBundle serializes a complete bundle: primary block, extension
// blocks in wire order, then the payload block flagged as last. Blocks
// carrying EID references must resolve them through their own body
// formats (as the CTEB and previous-hop encoders do); dictionary-offset
// references outside the primary block are not emitted.
func EncodeBundle(p PrimaryBlock, blocks []ExtensionBlock, payload []byte) ([]byte, error) {
	out, err := EncodePrimary(p)
	if err != nil {
		return nil, err
	}

	dict := NewDictionaryBuilder()
	for _, blk := range blocks {
		blk.Flags &^= BlockFlagLastBlock | BlockFlagEIDReferencesPresent
		blk.EIDRefs = nil
		out = append(out, EncodeExtensionBlock(blk, dict)...)
	}

	payloadBlock := ExtensionBlock{
		Type:  BlockPayload,
		Flags: BlockFlagLastBlock,
		Data:  payload,
	}
	out = append(out, EncodeExtensionBlock(payloadBlock, dict)...)
	return out, nil
}

// DecodeBundle parses a complete bundle, returning the primary block,
// the non-payload extension blocks in wire order, and the payload
// bytes. A bundle whose last block is not the payload block is
// malformed.
func DecodeBundle(buf []byte) (PrimaryBlock, []ExtensionBlock, []byte, error) {
	p, n, err := DecodePrimary(buf)
	if err != nil {
		return PrimaryBlock{}, nil, nil, err
	}
	rest := buf[n:]

	var blocks []ExtensionBlock
	var payload []byte
	dict := NewDictionaryReader(nil)
	sawLast := false
	sawPayload := false
	for len(rest) > 0 && !sawLast {
		blk, n, err := DecodeExtensionBlock(rest, dict)
		if err != nil {
			return PrimaryBlock{}, nil, nil, err
		}
		rest = rest[n:]
		sawLast = blk.Flags.Has(BlockFlagLastBlock)

		if blk.Type == BlockPayload {
			payload = blk.Data
			sawPayload = true
			continue
		}
		blocks = append(blocks, blk)
	}
	if !sawLast || !sawPayload {
		return PrimaryBlock{}, nil, nil, ErrMalformed
	}
	return p, blocks, payload, nil
}
