// Package route implements the static route table: destination-pattern
// entries mapping to next-hop links (or to other endpoints for recursive
// resolution), selected by longest-match with tie-break by priority then
// insertion order.
package route

import (
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/endpoint"
)

// DefaultMaxRouteToChain bounds recursive route-to-endpoint resolution.
const DefaultMaxRouteToChain = 10

// Entry is one route table row.
type Entry struct {
	// DestPattern is matched against a bundle's destination EID.
	DestPattern string
	// LinkName is the next-hop link, empty when NextHopEID is set.
	LinkName string
	// NextHopEID, when set, re-resolves through the table (bounded by
	// the max route-to chain).
	NextHopEID bpwire.EID
	// Action is forward (consume the bundle) or copy (replicate).
	Action bundle.ForwardAction
	// Priority breaks ties among equally specific patterns.
	Priority int
	// Cost is a router hint; lower is preferred by cost-aware routers.
	Cost int

	seq int
}

// Table is the route table. All mutation goes through the daemon; reads
// may come from any router thread.
type Table struct {
	mu      sync.Mutex
	entries []*Entry
	nextSeq int

	maxChain int
}

// NewTable constructs an empty table. maxChain bounds recursive
// route-to-endpoint resolution; zero selects DefaultMaxRouteToChain.
func NewTable(maxChain int) *Table {
	if maxChain <= 0 {
		maxChain = DefaultMaxRouteToChain
	}
	return &Table{maxChain: maxChain}
}

// Add appends e to the table. Entries with neither a link nor a next-hop
// endpoint, or with an invalid pattern, are rejected.
func (t *Table) Add(e Entry) error {
	if e.LinkName == "" && e.NextHopEID == "" {
		return fmt.Errorf("route: entry for %q names neither link nor endpoint", e.DestPattern)
	}
	if e.DestPattern == "" {
		return fmt.Errorf("route: empty destination pattern")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	copied := e
	copied.seq = t.nextSeq
	t.nextSeq++
	t.entries = append(t.entries, &copied)
	return nil
}

// AddIPNRange expands [startNode, endNode] into one route per node
// number, each matching every service on that node, all pointing at
// linkName. Mirrors the route add_ipn_range admin command.
func (t *Table) AddIPNRange(startNode, endNode uint64, linkName string) error {
	if endNode < startNode {
		return fmt.Errorf("route: ipn range end %d below start %d", endNode, startNode)
	}
	for node := startNode; node <= endNode; node++ {
		err := t.Add(Entry{
			DestPattern: fmt.Sprintf("ipn:%d.*", node),
			LinkName:    linkName,
			Action:      bundle.ActionForward,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Del removes every entry whose pattern equals destPattern, returning
// the number removed.
func (t *Table) Del(destPattern string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.entries[:0]
	removed := 0
	for _, e := range t.entries {
		if e.DestPattern == destPattern {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	return removed
}

// DelLink removes every entry pointing at linkName, returning the number
// removed. Used when a link is deleted.
func (t *Table) DelLink(linkName string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.entries[:0]
	removed := 0
	for _, e := range t.entries {
		if e.LinkName == linkName {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	return removed
}

// Lookup resolves dest to the winning entry: the longest-matching
// pattern, tie-broken by priority (higher wins) then insertion order.
// Route-to-endpoint entries are resolved recursively up to the chain
// bound; the returned entry always names a link. Returns nil when no
// route matches or the chain bound is exceeded.
func (t *Table) Lookup(dest bpwire.EID) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookupLocked(dest, 0)
}

func (t *Table) lookupLocked(dest bpwire.EID, depth int) *Entry {
	if depth >= t.maxChain {
		return nil
	}

	var best *Entry
	bestLen := -1
	for _, e := range t.entries {
		if !endpoint.Match(e.DestPattern, dest) {
			continue
		}
		l := endpoint.MatchLen(e.DestPattern)
		if l > bestLen || (l == bestLen && best != nil && (e.Priority > best.Priority || (e.Priority == best.Priority && e.seq < best.seq))) {
			best = e
			bestLen = l
		}
	}
	if best == nil {
		return nil
	}
	if best.LinkName == "" {
		return t.lookupLocked(best.NextHopEID, depth+1)
	}
	return best
}

// LookupAll returns every matching entry that resolves to a link,
// ordered best-first. Copy-action routes replicate bundles onto several
// links, so routers need more than the single winner.
func (t *Table) LookupAll(dest bpwire.EID) []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var matched []*Entry
	for _, e := range t.entries {
		if !endpoint.Match(e.DestPattern, dest) {
			continue
		}
		resolved := e
		if resolved.LinkName == "" {
			resolved = t.lookupLocked(resolved.NextHopEID, 1)
			if resolved == nil {
				continue
			}
		}
		matched = append(matched, resolved)
	}
	sortEntries(matched)

	// best-first dedupe: each link keeps its most specific entry
	var out []*Entry
	seenLinks := make(map[string]bool)
	for _, e := range matched {
		if seenLinks[e.LinkName] {
			continue
		}
		seenLinks[e.LinkName] = true
		out = append(out, e)
	}
	return out
}

// Entries returns a snapshot of the table in insertion order.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

func sortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		li, lj := endpoint.MatchLen(entries[i].DestPattern), endpoint.MatchLen(entries[j].DestPattern)
		if li != lj {
			return li > lj
		}
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].seq < entries[j].seq
	})
}
