package fragment

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
)

func allocator() IDAllocator {
	next := uint64(100)
	return func() uint64 {
		next++
		return next
	}
}

func makeBundle(payload []byte) *bundle.Bundle {
	b := bundle.New(1, bundle.GBOFID{
		Source:   "dtn://src",
		Creation: bpwire.Timestamp{Seconds: 1000, Sequence: 3},
	})
	b.Dest = "dtn://dst/app"
	b.Payload = bundle.NewMemoryPayload(payload)
	return b
}

func TestProactiveTilesPayload(t *testing.T) {
	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i)
	}
	b := makeBundle(payload)

	frags, err := Proactive(b, 3000, allocator())
	require.NoError(t, err)
	require.Len(t, frags, 4)

	sizes := []uint64{3000, 3000, 3000, 1000}
	offset := uint64(0)
	for i, f := range frags {
		assert.True(t, f.GBOFID.IsFragment)
		assert.Equal(t, offset, f.GBOFID.FragmentOffset)
		assert.Equal(t, uint64(10000), f.GBOFID.OriginalLength)
		assert.Equal(t, sizes[i], f.Payload.Length)
		assert.Equal(t, b.GBOFID.Source, f.GBOFID.Source)
		assert.Equal(t, b.GBOFID.Creation, f.GBOFID.Creation)
		offset += sizes[i]
	}
}

func TestProactiveAtMTUBoundary(t *testing.T) {
	b := makeBundle(make([]byte, 3000))
	_, err := Proactive(b, 3000, allocator())
	assert.ErrorIs(t, err, ErrNotNeeded)

	b2 := makeBundle(make([]byte, 3000))
	frags, err := Proactive(b2, 2999, allocator())
	require.NoError(t, err)
	assert.Len(t, frags, 2)
}

func TestProactiveHonorsDoNotFragment(t *testing.T) {
	b := makeBundle(make([]byte, 100))
	b.DoNotFragment = true
	_, err := Proactive(b, 10, allocator())
	assert.ErrorIs(t, err, ErrDoNotFragment)
}

func TestBlockReplication(t *testing.T) {
	b := makeBundle(make([]byte, 100))
	b.ReceivedBlocks = []bpwire.ExtensionBlock{
		{Type: bpwire.BlockBundleAge, Flags: bpwire.BlockFlagReplicateInEveryFragment, Data: []byte{1}},
		{Type: bpwire.BlockQuery, Data: []byte{2}},
	}

	frags, err := Proactive(b, 60, allocator())
	require.NoError(t, err)
	require.Len(t, frags, 2)

	assert.Len(t, frags[0].ReceivedBlocks, 2)
	require.Len(t, frags[1].ReceivedBlocks, 1)
	assert.Equal(t, bpwire.BlockBundleAge, frags[1].ReceivedBlocks[0].Type)
}

func TestReactiveCoversTail(t *testing.T) {
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	b := makeBundle(payload)

	tail, err := Reactive(b, 600, allocator())
	require.NoError(t, err)
	assert.Equal(t, uint64(600), tail.GBOFID.FragmentOffset)
	assert.Equal(t, uint64(1000), tail.GBOFID.OriginalLength)
	assert.Equal(t, uint64(400), tail.Payload.Length)
	assert.True(t, bytes.Equal(payload[600:], tail.Payload.Bytes()))
}

func TestReactiveFullAckNotNeeded(t *testing.T) {
	b := makeBundle(make([]byte, 100))
	_, err := Reactive(b, 100, allocator())
	assert.ErrorIs(t, err, ErrNotNeeded)
	_, err = Reactive(b, 0, allocator())
	assert.ErrorIs(t, err, ErrNotNeeded)
}

func TestReassembly(t *testing.T) {
	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i % 253)
	}
	b := makeBundle(payload)

	alloc := allocator()
	frags, err := Proactive(b, 3000, alloc)
	require.NoError(t, err)

	r := NewReassembler(alloc)
	// out-of-order arrival
	order := []int{2, 0, 3, 1}
	for i, idx := range order {
		original, consumed := r.Add(frags[idx])
		if i < len(order)-1 {
			assert.Nil(t, original)
			continue
		}
		require.NotNil(t, original)
		assert.Len(t, consumed, 4)
		assert.False(t, original.GBOFID.IsFragment)
		assert.Equal(t, b.GBOFID.Source, original.GBOFID.Source)
		assert.Equal(t, b.GBOFID.Creation, original.GBOFID.Creation)
		assert.True(t, bytes.Equal(payload, original.Payload.Bytes()))
	}
	assert.Equal(t, 0, r.PendingCount())
}

func TestReassemblyToleratesDuplicates(t *testing.T) {
	b := makeBundle(make([]byte, 200))
	alloc := allocator()
	frags, err := Proactive(b, 100, alloc)
	require.NoError(t, err)

	r := NewReassembler(alloc)
	original, _ := r.Add(frags[0])
	assert.Nil(t, original)
	original, _ = r.Add(frags[0])
	assert.Nil(t, original)

	original, consumed := r.Add(frags[1])
	require.NotNil(t, original)
	assert.Len(t, consumed, 3)
}

func TestFragmentingAFragmentKeepsOriginalOffsets(t *testing.T) {
	b := makeBundle(make([]byte, 1000))
	alloc := allocator()
	frags, err := Proactive(b, 600, alloc)
	require.NoError(t, err)
	require.Len(t, frags, 2)

	sub, err := Proactive(frags[1], 100, alloc)
	require.NoError(t, err)
	require.Len(t, sub, 4)
	assert.Equal(t, uint64(600), sub[0].GBOFID.FragmentOffset)
	assert.Equal(t, uint64(1000), sub[0].GBOFID.OriginalLength)
}
