package bpwire

import (
	"bytes"
	"strings"
)

// EID is an endpoint identifier in its URI-like wire form, e.g.
// "dtn://node/app" or "ipn:12.1".
type EID string

// dictionary builds and resolves the primary block's EID dictionary: a
// single byte blob of NUL-terminated strings, addressed by scheme-offset
// and ssp-offset pairs. Every EID referenced by the primary block
// contributes its scheme and scheme-specific-part as two (possibly
// shared) substrings.
type dictionary struct {
	buf     []byte
	offsets map[string]uint64 // substring -> offset, for dedup on build
}

func newDictionary() *dictionary {
	return &dictionary{offsets: make(map[string]uint64)}
}

// intern returns the offset of s within the dictionary, appending it
// (with a terminating NUL) if not already present.
func (d *dictionary) intern(s string) uint64 {
	if off, ok := d.offsets[s]; ok {
		return off
	}
	off := uint64(len(d.buf))
	d.buf = append(d.buf, []byte(s)...)
	d.buf = append(d.buf, 0)
	d.offsets[s] = off
	return off
}

// splitEID splits an EID into its scheme and scheme-specific-part, per
// the "scheme:ssp" or "scheme://ssp" convention used by dtn:// and ipn:
// endpoint ids.
func splitEID(e EID) (scheme, ssp string) {
	s := string(e)
	idx := strings.Index(s, ":")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}

func joinEID(scheme, ssp string) EID {
	return EID(scheme + ":" + ssp)
}

// put interns e's scheme and ssp and returns their dictionary offsets.
func (d *dictionary) put(e EID) (schemeOff, sspOff uint64) {
	scheme, ssp := splitEID(e)
	return d.intern(scheme), d.intern(ssp)
}

// dictionaryReader resolves offsets against an already-decoded dictionary
// blob.
type dictionaryReader struct {
	buf []byte
}

func (r dictionaryReader) stringAt(off uint64) (string, error) {
	if off > uint64(len(r.buf)) {
		return "", ErrDictionaryOutOfRange
	}
	rest := r.buf[off:]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return "", ErrDictionaryOutOfRange
	}
	return string(rest[:i]), nil
}

func (r dictionaryReader) eid(schemeOff, sspOff uint64) (EID, error) {
	scheme, err := r.stringAt(schemeOff)
	if err != nil {
		return "", err
	}
	ssp, err := r.stringAt(sspOff)
	if err != nil {
		return "", err
	}
	return joinEID(scheme, ssp), nil
}
