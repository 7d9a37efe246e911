package fragment

import (
	"sort"
	"sync"

	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/bundlelist"
)

// Reassembler collects arriving fragments keyed by the GBOF-id of the
// original bundle (fragment fields ignored) and synthesizes the original
// once contiguous coverage of [0, original-length) is achieved.
type Reassembler struct {
	mu       sync.Mutex
	pending  map[string]*pendingReassembly
	nextID   IDAllocator

	// Fragments holds every fragment awaiting reassembly, for list
	// accounting and duplicate detection.
	Fragments *bundlelist.StrMultiMap
}

type pendingReassembly struct {
	origLength uint64
	frags      []*bundle.Bundle
}

// NewReassembler constructs an empty reassembler allocating synthesized
// bundle ids from nextID.
func NewReassembler(nextID IDAllocator) *Reassembler {
	return &Reassembler{
		pending:   make(map[string]*pendingReassembly),
		nextID:    nextID,
		Fragments: bundlelist.NewStrMultiMap(bundle.ListID("reassembly")),
	}
}

// Add inserts an arriving fragment. When frag completes contiguous
// coverage, Add returns the synthesized original plus every fragment
// consumed (already removed from the reassembly list); otherwise it
// returns (nil, nil).
func (r *Reassembler) Add(frag *bundle.Bundle) (*bundle.Bundle, []*bundle.Bundle) {
	frag.Lock()
	key := frag.GBOFID.ReassemblyKey()
	origLength := frag.GBOFID.OriginalLength
	frag.Unlock()

	r.mu.Lock()
	p := r.pending[key]
	if p == nil {
		p = &pendingReassembly{origLength: origLength}
		r.pending[key] = p
	}

	// duplicate or overlapping retransmission covering nothing new is
	// still kept: coverage math tolerates overlap, and the duplicate is
	// released with the rest on completion
	p.frags = append(p.frags, frag)
	complete := covered(p)
	if !complete {
		r.mu.Unlock()
		r.Fragments.Insert(key, frag)
		return nil, nil
	}

	frags := p.frags
	delete(r.pending, key)
	r.mu.Unlock()

	for _, f := range frags {
		if f != frag {
			r.Fragments.EraseBundle(key, f)
		}
	}

	original := r.synthesize(frags)
	return original, frags
}

// covered reports whether, including the fragment just appended, the
// pending set contiguously covers [0, origLength).
func covered(p *pendingReassembly) bool {
	type span struct{ start, end uint64 }
	spans := make([]span, 0, len(p.frags))
	for _, f := range p.frags {
		f.Lock()
		spans = append(spans, span{f.GBOFID.FragmentOffset, f.GBOFID.FragmentOffset + f.Payload.Length})
		f.Unlock()
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var reach uint64
	for _, s := range spans {
		if s.start > reach {
			return false
		}
		if s.end > reach {
			reach = s.end
		}
	}
	return reach >= p.origLength
}

// synthesize builds the original bundle from a complete fragment set.
func (r *Reassembler) synthesize(frags []*bundle.Bundle) *bundle.Bundle {
	sort.Slice(frags, func(i, j int) bool {
		return frags[i].GBOFID.FragmentOffset < frags[j].GBOFID.FragmentOffset
	})

	first := frags[0]
	first.Lock()
	origLength := first.GBOFID.OriginalLength
	gbofid := bundle.GBOFID{
		Source:   first.GBOFID.Source,
		Creation: first.GBOFID.Creation,
	}
	first.Unlock()

	payload := make([]byte, origLength)
	for _, f := range frags {
		f.Lock()
		copy(payload[f.GBOFID.FragmentOffset:], f.Payload.Bytes())
		f.Unlock()
	}

	original := bundle.New(r.nextID(), gbofid)
	first.Lock()
	copyHeader(original, first)
	original.ReceivedBlocks = append([]bpwire.ExtensionBlock(nil), first.ReceivedBlocks...)
	first.Unlock()
	original.Payload = bundle.NewMemoryPayload(payload)
	return original
}

// PendingCount returns the number of distinct originals awaiting
// completion.
func (r *Reassembler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
