package bundle

import (
	"fmt"

	"github.com/marmos91/dtnd/pkg/bpwire"
)

// GBOFID is the globally unique bundle-originator-plus-fragment identity:
// source endpoint, creation timestamp, and (for fragments) offset and
// original length. Two bundles with equal GBOFID are the same bundle,
// possibly received more than once or split into different fragments.
type GBOFID struct {
	Source         bpwire.EID
	Creation       bpwire.Timestamp
	IsFragment     bool
	FragmentOffset uint64
	OriginalLength uint64
}

// String renders the GBOFID canonically for use as a bundle-lists
// secondary key (duplicate detection, reassembly grouping).
func (g GBOFID) String() string {
	if !g.IsFragment {
		return fmt.Sprintf("%s,%d,%d", g.Source, g.Creation.Seconds, g.Creation.Sequence)
	}
	return fmt.Sprintf("%s,%d,%d,%d,%d", g.Source, g.Creation.Seconds, g.Creation.Sequence,
		g.FragmentOffset, g.OriginalLength)
}

// ReassemblyKey returns the GBOFID string ignoring fragment fields: every
// fragment of the same original bundle shares this key regardless of its
// own offset, matching the reassembly-list grouping.
func (g GBOFID) ReassemblyKey() string {
	return fmt.Sprintf("%s,%d,%d", g.Source, g.Creation.Seconds, g.Creation.Sequence)
}
