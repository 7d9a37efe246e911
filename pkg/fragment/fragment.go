// Package fragment implements proactive (MTU-driven) and reactive
// (partial-transmission) fragmentation, plus reassembly of arriving
// fragments into the original bundle.
package fragment

import (
	"errors"

	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
)

var (
	// ErrDoNotFragment is returned when a bundle too large for a link
	// carries the do-not-fragment flag.
	ErrDoNotFragment = errors.New("fragment: bundle has do-not-fragment set")
	// ErrNotNeeded is returned when the bundle already fits the MTU.
	ErrNotNeeded = errors.New("fragment: bundle fits mtu")
)

// IDAllocator supplies local bundle-ids for synthesized fragments.
type IDAllocator func() uint64

// Proactive splits b into fragments whose payloads tile the original,
// each at most mtu payload bytes, for transmission on a link whose MTU
// is below the bundle size. Extension blocks are carried on the first
// fragment; blocks flagged replicate-in-every-fragment are carried on
// all of them.
//
// Fragmenting a fragment is legal: offsets remain relative to the
// original bundle and OriginalLength is preserved.
func Proactive(b *bundle.Bundle, mtu uint64, nextID IDAllocator) ([]*bundle.Bundle, error) {
	if mtu == 0 {
		return nil, ErrNotNeeded
	}

	b.Lock()
	defer b.Unlock()

	if b.Payload.Length <= mtu {
		return nil, ErrNotNeeded
	}
	if b.DoNotFragment {
		return nil, ErrDoNotFragment
	}

	baseOffset := uint64(0)
	origLength := b.Payload.Length
	if b.GBOFID.IsFragment {
		baseOffset = b.GBOFID.FragmentOffset
		origLength = b.GBOFID.OriginalLength
	}

	var frags []*bundle.Bundle
	for off := uint64(0); off < b.Payload.Length; off += mtu {
		length := mtu
		if off+length > b.Payload.Length {
			length = b.Payload.Length - off
		}

		f := bundle.New(nextID(), bundle.GBOFID{
			Source:         b.GBOFID.Source,
			Creation:       b.GBOFID.Creation,
			IsFragment:     true,
			FragmentOffset: baseOffset + off,
			OriginalLength: origLength,
		})
		copyHeader(f, b)
		f.Payload = b.Payload.Slice(off, length)
		f.ReceivedBlocks = blocksForFragment(b.ReceivedBlocks, off == 0)
		f.APIBlocks = blocksForFragment(b.APIBlocks, off == 0)
		frags = append(frags, f)
	}
	return frags, nil
}

// Reactive synthesizes a fragment covering the unacknowledged tail of a
// partial transmission: the convergence layer reliably delivered
// ackedBytes of b's payload, so the prefix counts as transmitted and
// only [ackedBytes, length) needs requeueing.
func Reactive(b *bundle.Bundle, ackedBytes uint64, nextID IDAllocator) (*bundle.Bundle, error) {
	b.Lock()
	defer b.Unlock()

	if ackedBytes == 0 || ackedBytes >= b.Payload.Length {
		return nil, ErrNotNeeded
	}
	if b.DoNotFragment {
		return nil, ErrDoNotFragment
	}

	baseOffset := uint64(0)
	origLength := b.Payload.Length
	if b.GBOFID.IsFragment {
		baseOffset = b.GBOFID.FragmentOffset
		origLength = b.GBOFID.OriginalLength
	}

	f := bundle.New(nextID(), bundle.GBOFID{
		Source:         b.GBOFID.Source,
		Creation:       b.GBOFID.Creation,
		IsFragment:     true,
		FragmentOffset: baseOffset + ackedBytes,
		OriginalLength: origLength,
	})
	copyHeader(f, b)
	f.Payload = b.Payload.Slice(ackedBytes, b.Payload.Length-ackedBytes)
	f.ReceivedBlocks = blocksForFragment(b.ReceivedBlocks, false)
	f.APIBlocks = blocksForFragment(b.APIBlocks, false)
	return f, nil
}

// copyHeader carries the original's addressing and processing metadata
// onto a fragment. The caller holds b's lock; f is not yet shared and is
// not locked.
func copyHeader(f, b *bundle.Bundle) {
	f.Dest = b.Dest
	f.ReplyTo = b.ReplyTo
	f.Custodian = b.Custodian
	f.PrevHop = b.PrevHop
	f.IsAdmin = b.IsAdmin
	f.SingletonDestination = b.SingletonDestination
	f.Priority = b.Priority
	f.Reports = b.Reports
	f.ExpirationSeconds = b.ExpirationSeconds
	f.Age = b.Age
}

// blocksForFragment selects which extension blocks a fragment carries:
// every block on the first fragment, only replicate-flagged blocks on
// the rest.
func blocksForFragment(blocks []bpwire.ExtensionBlock, first bool) []bpwire.ExtensionBlock {
	var out []bpwire.ExtensionBlock
	for _, blk := range blocks {
		if first || blk.Flags.Has(bpwire.BlockFlagReplicateInEveryFragment) {
			out = append(out, blk)
		}
	}
	return out
}
