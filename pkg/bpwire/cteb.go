package bpwire

import (
	"bytes"

	"github.com/marmos91/dtnd/pkg/sdnv"
)

// CTEB is the decoded custody-transfer-enhancement block body: the
// custody-id the current custodian expects back in an aggregate custody
// signal, plus that custodian's EID for validation against the bundle's
// custodian field.
type CTEB struct {
	CustodyID uint64
	Custodian EID
}

// EncodeCTEB serializes the CTEB body in canonical form: the custodian
// EID string verbatim.
func EncodeCTEB(c CTEB) []byte {
	out := sdnv.AppendEncode(nil, c.CustodyID)
	return append(out, []byte(c.Custodian)...)
}

// DecodeCTEB parses a CTEB body. Everything after the custody-id SDNV is
// the custodian EID.
func DecodeCTEB(data []byte) (CTEB, error) {
	id, n, err := sdnv.Decode(data)
	if err != nil {
		return CTEB{}, err
	}
	return CTEB{CustodyID: id, Custodian: EID(data[n:])}, nil
}

// EncodePreviousHop serializes a previous-hop block body: the scheme
// and scheme-specific part as NUL-terminated strings.
func EncodePreviousHop(e EID) []byte {
	scheme, ssp := splitEID(e)
	out := append([]byte(scheme), 0)
	out = append(out, []byte(ssp)...)
	return append(out, 0)
}

// DecodePreviousHop parses a previous-hop block body.
func DecodePreviousHop(data []byte) (EID, error) {
	sep := bytes.IndexByte(data, 0)
	if sep < 0 || sep >= len(data)-1 || data[len(data)-1] != 0 {
		return "", ErrMalformed
	}
	scheme := string(data[:sep])
	ssp := string(data[sep+1 : len(data)-1])
	if scheme == "" || ssp == "" {
		return "", ErrMalformed
	}
	return joinEID(scheme, ssp), nil
}
