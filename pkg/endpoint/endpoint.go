// Package endpoint implements endpoint-id pattern matching over the two
// supported schemes: the URI-like dtn: scheme and the numeric
// ipn:<node>.<service> scheme. Patterns are used by registrations (local
// delivery) and by the route table (next-hop selection).
package endpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marmos91/dtnd/pkg/bpwire"
)

// NullEID is the reserved null endpoint.
const NullEID = bpwire.EID("dtn:none")

// Valid reports whether e is a syntactically acceptable endpoint id:
// a scheme, a colon, and a non-empty scheme-specific part. ipn EIDs must
// additionally parse as <node>.<service>.
func Valid(e bpwire.EID) bool {
	s := string(e)
	idx := strings.Index(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return false
	}
	if strings.HasPrefix(s, "ipn:") {
		_, _, err := ParseIPN(e)
		return err == nil
	}
	return true
}

// ParseIPN splits an ipn-scheme EID into its node and service numbers.
func ParseIPN(e bpwire.EID) (node, service uint64, err error) {
	ssp, ok := strings.CutPrefix(string(e), "ipn:")
	if !ok {
		return 0, 0, fmt.Errorf("endpoint: not an ipn eid: %q", e)
	}
	dot := strings.Index(ssp, ".")
	if dot < 0 {
		return 0, 0, fmt.Errorf("endpoint: malformed ipn eid: %q", e)
	}
	node, err = strconv.ParseUint(ssp[:dot], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("endpoint: malformed ipn node in %q: %w", e, err)
	}
	svc := ssp[dot+1:]
	if svc == "*" {
		return node, 0, nil
	}
	service, err = strconv.ParseUint(svc, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("endpoint: malformed ipn service in %q: %w", e, err)
	}
	return node, service, nil
}

// IPN formats an ipn-scheme EID from its node and service numbers.
func IPN(node, service uint64) bpwire.EID {
	return bpwire.EID(fmt.Sprintf("ipn:%d.%d", node, service))
}

// Match reports whether eid matches pattern.
//
// dtn-scheme patterns support a single trailing "*" wildcard: the
// pattern "dtn://node/*" matches "dtn://node" and every EID under it;
// "*" alone matches everything. ipn-scheme patterns support a wildcard
// service: "ipn:5.*" matches every service on node 5. All other
// comparisons are exact.
func Match(pattern string, eid bpwire.EID) bool {
	if pattern == "*" || pattern == "*:*" {
		return true
	}
	if pattern == string(eid) {
		return true
	}

	if strings.HasPrefix(pattern, "ipn:") && strings.HasSuffix(pattern, ".*") {
		if !strings.HasPrefix(string(eid), "ipn:") {
			return false
		}
		pnode, _, err := ParseIPN(bpwire.EID(pattern))
		if err != nil {
			return false
		}
		enode, _, err := ParseIPN(eid)
		if err != nil {
			return false
		}
		return pnode == enode
	}

	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		s := string(eid)
		return s == prefix || strings.HasPrefix(s, prefix+"/")
	}
	return false
}

// MatchLen scores how specific a successful match is, for longest-match
// route selection: the number of non-wildcard characters in the
// pattern. Exact patterns outrank wildcard patterns of the same stem.
func MatchLen(pattern string) int {
	if strings.HasSuffix(pattern, "*") {
		return len(pattern) - 1
	}
	// exact matches beat any wildcard of equal stem length
	return len(pattern) + 1
}
